package condition

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Resolver looks up a field path. A missing field resolves to (nil, false).
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Eval evaluates e against r.
func Eval(e Expr, r Resolver) (bool, error) {
	return e.eval(r)
}

func (e andExpr) eval(r Resolver) (bool, error) {
	ok, err := e.left.eval(r)
	if err != nil || !ok {
		return false, err
	}
	return e.right.eval(r)
}

func (e orExpr) eval(r Resolver) (bool, error) {
	ok, err := e.left.eval(r)
	if err != nil || ok {
		return ok, err
	}
	return e.right.eval(r)
}

func (e notExpr) eval(r Resolver) (bool, error) {
	ok, err := e.inner.eval(r)
	return !ok, err
}

func (e cmpExpr) eval(r Resolver) (bool, error) {
	got, _ := r.Resolve(e.field)
	switch e.op {
	case OpEq:
		return equal(got, e.value), nil
	case OpNeq:
		return !equal(got, e.value), nil
	case OpGt, OpGte, OpLt, OpLte:
		l, lok := number(got)
		rv, rok := number(e.value)
		if !lok || !rok {
			return false, fmt.Errorf("condition: %s needs numbers, got %T and %T", e.op, got, e.value)
		}
		switch e.op {
		case OpGt:
			return l > rv, nil
		case OpGte:
			return l >= rv, nil
		case OpLt:
			return l < rv, nil
		default:
			return l <= rv, nil
		}
	case OpContains:
		s, ok := got.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, fmt.Sprint(e.value)), nil
	case OpMatches:
		s, ok := got.(string)
		return ok && e.re.MatchString(s), nil
	}
	return false, fmt.Errorf("condition: unknown operator %q", e.op)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	if x, ok := a.(bool); ok {
		y, ok := b.(bool)
		return ok && x == y
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// JSON resolves paths inside a raw JSON document.
type JSON []byte

func (j JSON) Resolve(path []string) (any, bool) {
	keys := make([]any, len(path))
	for i, p := range path {
		keys[i] = p
	}
	v := jsoniter.Get(j, keys...)
	if v.ValueType() == jsoniter.InvalidValue || v.LastError() != nil {
		return nil, false
	}
	return v.GetInterface(), true
}

// Fields resolves single-segment names from a map and falls back to Next.
type Fields struct {
	Values map[string]any
	Next   Resolver
}

func (f Fields) Resolve(path []string) (any, bool) {
	if len(path) == 1 {
		if v, ok := f.Values[path[0]]; ok {
			return v, true
		}
	}
	if f.Next == nil {
		return nil, false
	}
	return f.Next.Resolve(path)
}
