package validation

import (
	"strings"
	"testing"
)

func TestValidateDatasetID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "sweep", false},
		{"single char", "a", false},
		{"with digit", "sweep42", false},
		{"namespaced dot", "gemma.layer12", false},
		{"with hyphen", "run-2026-08", false},
		{"with underscore", "feature_sweep", false},
		{"max length", strings.Repeat("a", 64), false},

		// Invalid identifiers - injection attempts
		{"empty", "", true},
		{"nul separator", "sweep\x00extra", true},
		{"path traversal", "../other", true},
		{"newline injection", "sweep\nfake_record", true},
		{"uppercase", "Sweep", true}, // Must be lowercase
		{"too long", strings.Repeat("a", 65), true},
		{"special chars", "sweep@#$", true},
		{"spaces", "my sweep", true},
		{"starts with dot", ".sweep", true},
		{"starts with hyphen", "-sweep", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatasetID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDatasetID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMetricName(t *testing.T) {
	tests := []struct {
		name    string
		metric  string
		wantErr bool
	}{
		{"simple", "score", false},
		{"underscore", "shap_value", false},
		{"namespaced", "encoder.l2_norm", false},
		{"leading underscore", "_internal", false},
		{"mixed case", "LatencyMs", false},

		{"empty", "", true},
		{"starts with digit", "2score", true},
		{"starts with dot", ".score", true},
		{"hyphen", "shap-value", true},
		{"spaces", "shap value", true},
		{"nul byte", "score\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetricName(tt.metric)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMetricName(%q) error = %v, wantErr %v", tt.metric, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMetricNames(t *testing.T) {
	tests := []struct {
		name    string
		metrics []string
		wantErr bool
	}{
		{"all valid", []string{"score", "drift", "shap_value"}, false},
		{"one invalid", []string{"score", "bad name", "drift"}, true},
		{"all invalid", []string{"2bad", "also bad"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetricNames(tt.metrics)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMetricNames(%v) error = %v, wantErr %v", tt.metrics, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeDatasetID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"lowercase passthrough", "sweep", "sweep", false},
		{"uppercase normalized", "SWEEP", "sweep", false},
		{"mixed case", "SwEep", "sweep", false},
		{"with spaces trimmed", "  sweep  ", "sweep", false},
		{"invalid rejected", "bad id!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeDatasetID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeDatasetID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeDatasetID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
