// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jllopis/mmopilot/pkg/errors"
)

// reservedChars delimit tokens and make up every operator.
const reservedChars = "&|<>=!"

// Evaluator evaluates conditions of the form
//
//	Term ((&& | ||) Term)*    Term = Token CompareOp Token
//
// strictly left to right. There is no precedence and no grouping: each
// logical operator folds the next comparison into the running result, and
// evaluation stops as soon as the running result decides the outcome.
type Evaluator struct {
	resolver *Resolver
}

// NewEvaluator creates an evaluator resolving operands through r.
func NewEvaluator(r *Resolver) *Evaluator {
	return &Evaluator{resolver: r}
}

// Evaluate parses and evaluates text. Malformed input yields a syntax fault
// carrying text and the offset of the problem; operand faults (unsupported
// paths, type mismatches) are returned unchanged.
func (e *Evaluator) Evaluate(text string) (bool, error) {
	return e.run(text, true)
}

// Check parses text and resolves every operand without short-circuiting,
// so a fault hidden behind a decided result is still reported. Rule files
// are linted with it against an empty snapshot.
func (e *Evaluator) Check(text string) error {
	_, err := e.run(text, false)
	return err
}

func (e *Evaluator) run(text string, shortCircuit bool) (bool, error) {
	trimmed := strings.TrimFunc(text, unicode.IsSpace)
	sc := &scanner{
		src:  trimmed,
		orig: text,
		lead: len(text) - len(strings.TrimLeftFunc(text, unicode.IsSpace)),
	}

	if trimmed == "" {
		return false, errors.NewSyntaxFault("empty condition", text, 0)
	}

	result := false
	first := true
	for {
		sc.skipSpace()
		if sc.done() {
			break
		}

		logical := ""
		logicalAt := 0
		if !first {
			op, at := sc.operator()
			if op != "&&" && op != "||" {
				return false, sc.fault(fmt.Sprintf("invalid logical operator %q", op), at)
			}
			if shortCircuit && op == "&&" && !result {
				return false, nil
			}
			if shortCircuit && op == "||" && result {
				return true, nil
			}
			logical, logicalAt = op, at
			sc.skipSpace()
		}

		left, leftAt := sc.token()
		if left == "" {
			if sc.done() && logical != "" {
				return false, sc.fault("dangling logical operator", logicalAt)
			}
			return false, sc.fault("invalid left token", leftAt)
		}

		sc.skipSpace()
		cmp, cmpAt := sc.operator()
		if !isComparison(cmp) {
			if cmp == "" && sc.done() {
				return false, sc.fault("missing comparison operator", cmpAt)
			}
			return false, sc.fault(fmt.Sprintf("invalid comparison operator %q", cmp), cmpAt)
		}

		sc.skipSpace()
		right, rightAt := sc.token()
		if right == "" {
			if sc.done() {
				return false, sc.fault("no right hand comparison", cmpAt)
			}
			return false, sc.fault("invalid right token", rightAt)
		}

		lv, err := e.resolver.Resolve(left)
		if err != nil {
			return false, err
		}
		rv, err := e.resolver.Resolve(right)
		if err != nil {
			return false, err
		}
		ok, err := compare(lv, cmp, rv)
		if err != nil {
			return false, err
		}

		switch logical {
		case "&&":
			result = result && ok
		case "||":
			result = result || ok
		default:
			result = ok
		}
		first = false
	}
	return result, nil
}

func isComparison(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

// compare orders integers numerically and text (including coordinates)
// ordinally. Booleans only support equality.
func compare(l Value, op string, r Value) (bool, error) {
	var c int
	switch {
	case l.kind == KindInt && r.kind == KindInt:
		switch {
		case l.i < r.i:
			c = -1
		case l.i > r.i:
			c = 1
		}
	case isTextual(l.kind) && isTextual(r.kind):
		c = strings.Compare(l.s, r.s)
	case l.kind == KindBool && r.kind == KindBool:
		switch op {
		case "==":
			return l.b == r.b, nil
		case "!=":
			return l.b != r.b, nil
		}
		return false, errors.NewTypeMismatch(l.String()+" "+op+" "+r.String(), "== or != for Bool", op)
	default:
		return false, errors.NewTypeMismatch(l.String()+" "+op+" "+r.String(), l.kind.String(), r.kind.String())
	}

	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	case "==":
		return c == 0, nil
	default:
		return c != 0, nil
	}
}

func isTextual(k Kind) bool {
	return k == KindText || k == KindCoordinate
}

type scanner struct {
	src  string
	orig string
	lead int
	pos  int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		s.pos += size
	}
}

// token consumes characters up to whitespace or a reserved character.
func (s *scanner) token() (string, int) {
	start := s.pos
	for s.pos < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		if unicode.IsSpace(r) || isReserved(s.src[s.pos]) {
			break
		}
		s.pos += size
	}
	return s.src[start:s.pos], start
}

// operator consumes a run of reserved characters.
func (s *scanner) operator() (string, int) {
	start := s.pos
	for s.pos < len(s.src) && isReserved(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos], start
}

// fault reports the offset in characters of the text as written, before
// trimming.
func (s *scanner) fault(msg string, at int) error {
	return errors.NewSyntaxFault(msg, s.orig, utf8.RuneCountInString(s.orig[:at+s.lead]))
}

func isReserved(c byte) bool {
	return strings.IndexByte(reservedChars, c) >= 0
}
