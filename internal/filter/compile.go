package filter

import "fmt"

// Visitor translates filter nodes into a backend's native representation T.
// Each node type maps to exactly one method; a backend that cannot express a
// node returns an error wrapping ErrUnsupported from that method.
type Visitor[T any] interface {
	And(conds []T) (T, error)
	Or(conds []T) (T, error)

	// None emits the representation matching no record at all. It is the
	// compiled form of an empty or.
	None() (T, error)
	Not(cond T) (T, error)
	Eq(field string, value any) (T, error)
	In(field string, values []any) (T, error)
	Range(field string, bounds Bounds) (T, error)
	Contains(field, substring string) (T, error)
}

// Compile walks the expression and emits the backend representation through
// the visitor. The expression must be non-nil; callers normalize first and
// skip compilation when Normalize returns nil.
//
// Compile validates node shape as it walks: empty field names, ranges with
// no bounds, and in-clauses with no values fail with ErrInvalid before the
// visitor sees them.
func Compile[T any](e Expr, v Visitor[T]) (T, error) {
	var zero T
	if e == nil {
		return zero, fmt.Errorf("nil expression: %w", ErrInvalid)
	}
	return compile(e, v)
}

func compile[T any](e Expr, v Visitor[T]) (T, error) {
	var zero T
	switch n := e.(type) {
	case andExpr:
		conds, err := compileConds(n.conds, v)
		if err != nil {
			return zero, err
		}
		return v.And(conds)
	case orExpr:
		// An un-normalized empty or still means match-none.
		if len(n.conds) == 0 {
			return v.None()
		}
		conds, err := compileConds(n.conds, v)
		if err != nil {
			return zero, err
		}
		return v.Or(conds)
	case noneExpr:
		return v.None()
	case notExpr:
		inner, err := compile(n.cond, v)
		if err != nil {
			return zero, err
		}
		return v.Not(inner)
	case eqExpr:
		if n.field == "" {
			return zero, fmt.Errorf("eq: empty field: %w", ErrInvalid)
		}
		return v.Eq(n.field, n.value)
	case inExpr:
		if n.field == "" {
			return zero, fmt.Errorf("in: empty field: %w", ErrInvalid)
		}
		if len(n.values) == 0 {
			return zero, fmt.Errorf("in %q: no values: %w", n.field, ErrInvalid)
		}
		return v.In(n.field, n.values)
	case rangeExpr:
		if n.field == "" {
			return zero, fmt.Errorf("range: empty field: %w", ErrInvalid)
		}
		if n.bounds.empty() {
			return zero, fmt.Errorf("range %q: no bounds: %w", n.field, ErrInvalid)
		}
		return v.Range(n.field, n.bounds)
	case containsExpr:
		if n.field == "" {
			return zero, fmt.Errorf("contains: empty field: %w", ErrInvalid)
		}
		return v.Contains(n.field, n.substring)
	default:
		return zero, fmt.Errorf("unknown expression type %T: %w", e, ErrInvalid)
	}
}

func compileConds[T any](conds []Expr, v Visitor[T]) ([]T, error) {
	out := make([]T, 0, len(conds))
	for _, c := range conds {
		t, err := compile(c, v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
