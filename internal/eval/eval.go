// Package eval resolves right-hand-side expressions against a signal table.
//
// Resolution is a fixed, ordered list of pattern rules; the first rule that
// matches decides the result:
//
//  1. bit-select    name[index]
//  2. AND           a & b & ...
//  3. OR            a | b | ...
//  4. XOR           a ^ b ^ ...
//  5. NOT           ~a
//  6. reference     a
//  7. literal       decimal numeral
//  8. fallback
//
// Operator precedence and mixed operators are not modelled: "a & b | c" is
// split on '&' and the operand "b | c" is looked up as a signal name.
// Anything the rules cannot resolve evaluates to zero.
package eval

import (
	"regexp"
	"strconv"
	"strings"
)

// Values is the read side of a signal table.
type Values interface {
	Value(name string) (uint64, bool)
}

// FallbackPolicy decides what an unresolved operand or expression becomes.
type FallbackPolicy int

const (
	// FallbackZero resolves every unknown signal, malformed expression and
	// unsupported form to 0 without reporting an error.
	FallbackZero FallbackPolicy = iota
)

// String returns the configuration name of the policy.
func (p FallbackPolicy) String() string {
	switch p {
	case FallbackZero:
		return "zero"
	}
	return "unknown"
}

// ParseFallback maps a configuration name to a policy.
func ParseFallback(s string) (FallbackPolicy, bool) {
	switch s {
	case "", "zero":
		return FallbackZero, true
	}
	return FallbackZero, false
}

// Evaluator evaluates expressions. The zero value uses FallbackZero.
type Evaluator struct {
	Policy FallbackPolicy

	// OnUnresolved, if set, is called with every operand or expression that
	// was resolved through the fallback. It never changes the result.
	OnUnresolved func(ref string)
}

type rule func(e *Evaluator, vals Values, expr string) (uint64, bool)

// rules are tried in order; the order is the tie-break policy.
var rules = []rule{
	bitSelect,
	reduceAnd,
	reduceOr,
	reduceXor,
	invert,
	reference,
	literal,
}

var (
	bitSelectPattern = regexp.MustCompile(`(\w+)\[(\d+)\]`)
	decimalPattern   = regexp.MustCompile(`^\d+$`)
)

// Eval evaluates expr against vals.
func (e *Evaluator) Eval(vals Values, expr string) uint64 {
	expr = strings.TrimSpace(expr)
	for _, r := range rules {
		if v, ok := r(e, vals, expr); ok {
			return v
		}
	}
	return e.fallback(expr)
}

// Eval evaluates expr with a default Evaluator.
func Eval(vals Values, expr string) uint64 {
	var e Evaluator
	return e.Eval(vals, expr)
}

func (e *Evaluator) fallback(ref string) uint64 {
	if e.OnUnresolved != nil {
		e.OnUnresolved(ref)
	}
	return 0
}

// operand resolves a single operand of a binary operator. Only signal names
// are recognised here; literals and nested forms fall back.
func (e *Evaluator) operand(vals Values, name string) uint64 {
	name = strings.TrimSpace(name)
	if v, ok := vals.Value(name); ok {
		return v
	}
	return e.fallback(name)
}

func bitSelect(e *Evaluator, vals Values, expr string) (uint64, bool) {
	m := bitSelectPattern.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}
	idx, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return e.fallback(expr), true
	}
	v := e.operand(vals, m[1])
	if idx >= 64 {
		return 0, true
	}
	return (v >> idx) & 1, true
}

func reduceAnd(e *Evaluator, vals Values, expr string) (uint64, bool) {
	if !strings.Contains(expr, "&") {
		return 0, false
	}
	acc := ^uint64(0)
	for _, p := range strings.Split(expr, "&") {
		acc &= e.operand(vals, p)
	}
	return acc, true
}

func reduceOr(e *Evaluator, vals Values, expr string) (uint64, bool) {
	if !strings.Contains(expr, "|") {
		return 0, false
	}
	var acc uint64
	for _, p := range strings.Split(expr, "|") {
		acc |= e.operand(vals, p)
	}
	return acc, true
}

func reduceXor(e *Evaluator, vals Values, expr string) (uint64, bool) {
	if !strings.Contains(expr, "^") {
		return 0, false
	}
	var acc uint64
	for _, p := range strings.Split(expr, "^") {
		acc ^= e.operand(vals, p)
	}
	return acc, true
}

func invert(e *Evaluator, vals Values, expr string) (uint64, bool) {
	if !strings.HasPrefix(expr, "~") {
		return 0, false
	}
	return ^e.operand(vals, expr[1:]) & 1, true
}

func reference(_ *Evaluator, vals Values, expr string) (uint64, bool) {
	return vals.Value(expr)
}

func literal(e *Evaluator, _ Values, expr string) (uint64, bool) {
	if !decimalPattern.MatchString(expr) {
		return 0, false
	}
	v, err := strconv.ParseUint(expr, 10, 64)
	if err != nil {
		// wider than 64 bits
		return e.fallback(expr), true
	}
	return v, true
}
