// Package filter defines the backend-neutral filter expression tree and the
// visitor contract adapters use to compile it into their native query
// representation.
//
// Expressions are immutable once constructed. Adapters never inspect node
// types directly; they implement Visitor and let Compile drive the
// translation, which guarantees that every caller of an adapter (count,
// query, delete, aggregate) shares one compilation path.
package filter

import (
	"errors"
	"time"
)

var (
	// ErrUnsupported indicates the target backend cannot express a node in
	// the filter tree. Compilation fails rather than dropping the clause.
	ErrUnsupported = errors.New("unsupported filter")

	// ErrInvalid indicates a malformed expression (empty field name, a range
	// with no bounds, an in-clause with no values).
	ErrInvalid = errors.New("invalid filter")
)

// Expr is a node in a filter expression tree.
type Expr interface {
	isExpr()
}

type andExpr struct{ conds []Expr }
type orExpr struct{ conds []Expr }
type notExpr struct{ cond Expr }
type noneExpr struct{}

type eqExpr struct {
	field string
	value any
}

type inExpr struct {
	field  string
	values []any
}

type rangeExpr struct {
	field  string
	bounds Bounds
}

type containsExpr struct {
	field     string
	substring string
}

func (andExpr) isExpr()      {}
func (orExpr) isExpr()       {}
func (noneExpr) isExpr()     {}
func (notExpr) isExpr()      {}
func (eqExpr) isExpr()       {}
func (inExpr) isExpr()       {}
func (rangeExpr) isExpr()    {}
func (containsExpr) isExpr() {}

// Bounds holds the endpoints of a range predicate. A nil endpoint is
// unbounded. At least one endpoint must be set.
type Bounds struct {
	GTE any
	GT  any
	LTE any
	LT  any
}

func (b Bounds) empty() bool {
	return b.GTE == nil && b.GT == nil && b.LTE == nil && b.LT == nil
}

// And matches records satisfying every condition. And with no conditions
// normalizes away (matches everything).
func And(conds ...Expr) Expr {
	return andExpr{conds: conds}
}

// Or matches records satisfying at least one condition. Or with no
// conditions matches nothing: an empty disjunction is the identity of or,
// which is false.
func Or(conds ...Expr) Expr {
	return orExpr{conds: conds}
}

// None matches nothing. It is the normalized form of an empty Or.
func None() Expr {
	return noneExpr{}
}

// Not inverts a condition.
func Not(cond Expr) Expr {
	return notExpr{cond: cond}
}

// Eq matches records whose field equals value.
func Eq(field string, value any) Expr {
	return eqExpr{field: field, value: value}
}

// In matches records whose field equals one of values.
func In(field string, values ...any) Expr {
	return inExpr{field: field, values: values}
}

// Range matches records whose field falls within bounds.
func Range(field string, bounds Bounds) Expr {
	return rangeExpr{field: field, bounds: bounds}
}

// Contains matches records whose string field contains substring.
func Contains(field, substring string) Expr {
	return containsExpr{field: field, substring: substring}
}

// TimeRange matches records whose field falls in [start, end). Endpoints are
// converted to unix seconds at construction; a zero time is unbounded.
func TimeRange(field string, start, end time.Time) Expr {
	var b Bounds
	if !start.IsZero() {
		b.GTE = start.Unix()
	}
	if !end.IsZero() {
		b.LT = end.Unix()
	}
	return rangeExpr{field: field, bounds: b}
}

// Normalize collapses degenerate combinators, applying the boolean
// identities: match-all (nil) is neutral in and and absorbing in or,
// match-none is absorbing in and and neutral in or, and single-child
// combinators are replaced by the child. It returns nil when nothing
// remains, meaning no constraint at all; adapters treat a nil expression as
// match-all and skip compilation entirely. An empty or normalizes to the
// match-none node, which compiles through Visitor.None.
func Normalize(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case andExpr:
		kept := make([]Expr, 0, len(n.conds))
		for _, c := range n.conds {
			norm := Normalize(c)
			if norm == nil {
				continue
			}
			if _, none := norm.(noneExpr); none {
				return noneExpr{}
			}
			kept = append(kept, norm)
		}
		switch len(kept) {
		case 0:
			return nil
		case 1:
			return kept[0]
		}
		return andExpr{conds: kept}
	case orExpr:
		kept := make([]Expr, 0, len(n.conds))
		for _, c := range n.conds {
			norm := Normalize(c)
			if norm == nil {
				return nil
			}
			if _, none := norm.(noneExpr); none {
				continue
			}
			kept = append(kept, norm)
		}
		switch len(kept) {
		case 0:
			return noneExpr{}
		case 1:
			return kept[0]
		}
		return orExpr{conds: kept}
	case notExpr:
		inner := Normalize(n.cond)
		if inner == nil {
			return noneExpr{}
		}
		if _, none := inner.(noneExpr); none {
			return nil
		}
		return notExpr{cond: inner}
	default:
		return e
	}
}

// Fields returns the distinct field names referenced by the expression, in
// first-appearance order. Used by tenant scoping to reject caller filters
// that name reserved fields.
func Fields(e Expr) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case andExpr:
			for _, c := range n.conds {
				walk(c)
			}
		case orExpr:
			for _, c := range n.conds {
				walk(c)
			}
		case notExpr:
			walk(n.cond)
		case eqExpr:
			add(n.field)
		case inExpr:
			add(n.field)
		case rangeExpr:
			add(n.field)
		case containsExpr:
			add(n.field)
		}
	}
	if e != nil {
		walk(e)
	}
	return out
}
