// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package threshold

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expression conditions are evaluated by a dedicated recursive-descent
// parser over a closed grammar:
//
//	expr       := orExpr
//	orExpr     := andExpr { ("or" | "||") andExpr }
//	andExpr    := unary { ("and" | "&&") unary }
//	unary      := ("not" | "!") unary | comparison
//	comparison := operand [ cmpOp operand ]
//	operand    := number [ "%" ] | metric | "(" expr ")"
//	cmpOp      := "<" | "<=" | ">" | ">=" | "==" | "!="
//
// There are no function calls, no attribute access, and no identifiers
// beyond metric names, so a condition cannot execute arbitrary host
// operations by construction. The `N%` form is the percentile macro:
// when compared against a metric it resolves to that metric's N-th
// percentile in the current batch.

// exprEnv supplies metric values and the percentile table to a compiled
// expression during evaluation.
type exprEnv struct {
	// metric returns the row value for a metric name. Missing or null
	// values are 0.0 by contract.
	metric func(name string) float64

	// percentile resolves (metric, pct) against the batch percentile
	// table. The second return is false when the table has no entry
	// for the metric.
	percentile func(metric string, pct float64) (float64, bool)

	// warn logs a correctness-degrading fallback. May be nil.
	warn func(msg string, args ...any)
}

func (e *exprEnv) warnf(msg string, args ...any) {
	if e.warn != nil {
		e.warn(msg, args...)
	}
}

// exprValue is either a boolean or a numeric intermediate result.
type exprValue struct {
	isBool bool
	b      bool
	f      float64
}

// exprNode is one node of a compiled condition.
type exprNode interface {
	eval(env *exprEnv) (exprValue, error)
}

type identNode struct{ name string }

type numberNode struct{ value float64 }

// percentNode is the `N%` percentile macro. Its meaning depends on the
// metric it is compared against; see compareNode.resolve.
type percentNode struct{ pct float64 }

type notNode struct{ operand exprNode }

type logicalNode struct {
	op          string // "and" | "or"
	left, right exprNode
}

type compareNode struct {
	op          string // "<" "<=" ">" ">=" "==" "!="
	left, right exprNode
}

func (n *identNode) eval(env *exprEnv) (exprValue, error) {
	return exprValue{f: env.metric(n.name)}, nil
}

func (n *numberNode) eval(env *exprEnv) (exprValue, error) {
	return exprValue{f: n.value}, nil
}

func (n *percentNode) eval(env *exprEnv) (exprValue, error) {
	// A bare percent literal outside a comparison has no metric to
	// resolve against; fall back to the absolute 0-1 value.
	env.warnf("percentile macro used outside a metric comparison",
		"pct", n.pct)
	return exprValue{f: n.pct / 100}, nil
}

func (n *notNode) eval(env *exprEnv) (exprValue, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return exprValue{}, err
	}
	if !v.isBool {
		return exprValue{}, fmt.Errorf("operand of 'not' is not boolean")
	}
	return exprValue{isBool: true, b: !v.b}, nil
}

func (n *logicalNode) eval(env *exprEnv) (exprValue, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return exprValue{}, err
	}
	if !left.isBool {
		return exprValue{}, fmt.Errorf("left operand of %q is not boolean", n.op)
	}

	// Short circuit.
	if n.op == "and" && !left.b {
		return exprValue{isBool: true, b: false}, nil
	}
	if n.op == "or" && left.b {
		return exprValue{isBool: true, b: true}, nil
	}

	right, err := n.right.eval(env)
	if err != nil {
		return exprValue{}, err
	}
	if !right.isBool {
		return exprValue{}, fmt.Errorf("right operand of %q is not boolean", n.op)
	}
	return exprValue{isBool: true, b: right.b}, nil
}

func (n *compareNode) eval(env *exprEnv) (exprValue, error) {
	left, err := resolveOperand(env, n.left, n.right)
	if err != nil {
		return exprValue{}, err
	}
	right, err := resolveOperand(env, n.right, n.left)
	if err != nil {
		return exprValue{}, err
	}

	var result bool
	switch n.op {
	case "<":
		result = left < right
	case "<=":
		result = left <= right
	case ">":
		result = left > right
	case ">=":
		result = left >= right
	case "==":
		result = left == right
	case "!=":
		result = left != right
	default:
		return exprValue{}, fmt.Errorf("unknown comparison operator %q", n.op)
	}
	return exprValue{isBool: true, b: result}, nil
}

// resolveOperand evaluates one side of a comparison to a float. The
// opposite side is passed so a percentile macro can resolve against the
// metric it is compared with; with no table entry for that metric the
// macro degrades to an absolute 0-1 literal.
func resolveOperand(env *exprEnv, side, other exprNode) (float64, error) {
	if pn, ok := side.(*percentNode); ok {
		if ident, ok := other.(*identNode); ok {
			if v, ok := env.percentile(ident.name, pn.pct); ok {
				return v, nil
			}
			env.warnf("no percentile table entry for metric, treating macro as absolute value",
				"metric", ident.name, "pct", pn.pct)
		} else {
			env.warnf("percentile macro compared against a non-metric operand",
				"pct", pn.pct)
		}
		return pn.pct / 100, nil
	}

	v, err := side.eval(env)
	if err != nil {
		return 0, err
	}
	if v.isBool {
		return 0, fmt.Errorf("boolean operand in numeric comparison")
	}
	return v.f, nil
}

// ---------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenPercent // number immediately followed by '%'
	tokenOp      // comparison operator
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// lexCondition tokenizes a condition string. Any character outside the
// closed grammar is a lex error; the caller treats the branch as not
// matched.
func lexCondition(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")"})
			i++
		case c == '<' || c == '>':
			op := string(c)
			i++
			if i < len(input) && input[i] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, token{kind: tokenOp, text: op})
		case c == '=':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenOp, text: "=="})
				i += 2
			} else {
				return nil, fmt.Errorf("single '=' at position %d (use '==')", i)
			}
		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenOp, text: "!="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenNot, text: "!"})
				i++
			}
		case c == '&':
			if i+1 < len(input) && input[i+1] == '&' {
				tokens = append(tokens, token{kind: tokenAnd, text: "&&"})
				i += 2
			} else {
				return nil, fmt.Errorf("single '&' at position %d", i)
			}
		case c == '|':
			if i+1 < len(input) && input[i+1] == '|' {
				tokens = append(tokens, token{kind: tokenOr, text: "||"})
				i += 2
			} else {
				return nil, fmt.Errorf("single '|' at position %d", i)
			}
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.' ||
				input[i] == 'e' || input[i] == 'E' ||
				((input[i] == '+' || input[i] == '-') && i > start && (input[i-1] == 'e' || input[i-1] == 'E'))) {
				i++
			}
			num, err := strconv.ParseFloat(input[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", input[start:i])
			}
			if i < len(input) && input[i] == '%' {
				i++
				tokens = append(tokens, token{kind: tokenPercent, num: num})
			} else {
				tokens = append(tokens, token{kind: tokenNumber, num: num})
			}
		case isIdentStart(rune(c)):
			start := i
			for i < len(input) && isIdentPart(rune(input[i])) {
				i++
			}
			word := input[start:i]
			switch strings.ToLower(word) {
			case "and":
				tokens = append(tokens, token{kind: tokenAnd, text: word})
			case "or":
				tokens = append(tokens, token{kind: tokenOr, text: word})
			case "not":
				tokens = append(tokens, token{kind: tokenNot, text: word})
			case "true":
				tokens = append(tokens, token{kind: tokenNumber, num: 1})
			case "false":
				tokens = append(tokens, token{kind: tokenNumber, num: 0})
			default:
				tokens = append(tokens, token{kind: tokenIdent, text: word})
			}
		default:
			return nil, fmt.Errorf("disallowed character %q at position %d", c, i)
		}
	}
	tokens = append(tokens, token{kind: tokenEOF})
	return tokens, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ---------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------

type exprParser struct {
	tokens []token
	pos    int
}

// compileCondition parses a condition into an evaluable node tree.
func compileCondition(input string) (exprNode, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty condition")
	}
	tokens, err := lexCondition(input)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected trailing token %q", p.peek().text)
	}
	return node, nil
}

func (p *exprParser) peek() token {
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.peek().kind == tokenNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokenOp {
		op := p.next().text
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parseOperand() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		return &numberNode{value: t.num}, nil
	case tokenPercent:
		return &percentNode{pct: t.num}, nil
	case tokenIdent:
		return &identNode{name: t.text}, nil
	case tokenLParen:
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return node, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// identifiersIn returns the metric names referenced by a condition.
// Unparsable conditions contribute nothing.
func identifiersIn(condition string) []string {
	tokens, err := lexCondition(condition)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokens {
		if t.kind == tokenIdent {
			if _, ok := seen[t.text]; !ok {
				seen[t.text] = struct{}{}
				out = append(out, t.text)
			}
		}
	}
	return out
}
