package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Rrens/flowbot/internal/domain"
)

// Program is a compiled condition
type Program struct {
	src  string
	root node
}

// Compile parses src into a reusable program
func Compile(src string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root}, nil
}

// Source returns the expression text
func (p *Program) Source() string {
	return p.src
}

// Eval runs the program against state and reports its truthiness
func (p *Program) Eval(state domain.StateData) (bool, error) {
	v, err := eval(p.root, state)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Evaluate compiles and runs src in one step
func Evaluate(src string, state domain.StateData) (bool, error) {
	p, err := Compile(src)
	if err != nil {
		return false, err
	}
	return p.Eval(state)
}

func eval(n node, state domain.StateData) (any, error) {
	switch t := n.(type) {
	case literal:
		return t.value, nil
	case pathRef:
		v, ok := state.LookupPath(t.segments)
		if !ok {
			return nil, nil
		}
		return v, nil
	case unary:
		x, err := eval(t.x, state)
		if err != nil {
			return nil, err
		}
		return !truthy(x), nil
	case binary:
		return evalBinary(t, state)
	}
	return nil, fmt.Errorf("unsupported expression node %T", n)
}

func evalBinary(b binary, state domain.StateData) (any, error) {
	left, err := eval(b.l, state)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "&&":
		if !truthy(left) {
			return false, nil
		}
		right, err := eval(b.r, state)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "||":
		if truthy(left) {
			return true, nil
		}
		right, err := eval(b.r, state)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	right, err := eval(b.r, state)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return order(b.op, left, right), nil
	case "contains":
		return contains(left, right), nil
	case "startswith":
		return strings.HasPrefix(fold(left), fold(right)), nil
	case "endswith":
		return strings.HasSuffix(fold(left), fold(right)), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", b.op)
}

// Strings compare trimmed and case-insensitively; user replies rarely match case.
func fold(v any) string {
	return strings.ToLower(strings.TrimSpace(domain.Stringify(v)))
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := asBool(b); ok {
			return ab == bb
		}
		return false
	}
	if bb, ok := b.(bool); ok {
		if ab, ok := asBool(a); ok {
			return ab == bb
		}
		return false
	}
	if isNumber(a) || isNumber(b) {
		af, aok := domain.ToFloat(a)
		bf, bok := domain.ToFloat(b)
		if aok && bok {
			return af == bf
		}
		return false
	}
	return fold(a) == fold(b)
}

func order(op string, a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	var cmp int
	af, aok := domain.ToFloat(a)
	bf, bok := domain.ToFloat(b)
	switch {
	case aok && bok:
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
	case isNumber(a) || isNumber(b):
		return false
	default:
		cmp = strings.Compare(fold(a), fold(b))
	}
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	}
	return cmp >= 0
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[domain.Stringify(needle)]
		return ok
	}
	return strings.Contains(fold(haystack), fold(needle))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := domain.ToFloat(v); ok {
		return f != 0
	}
	return true
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	}
	return false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(t)))
		return b, err == nil
	}
	return false, false
}
