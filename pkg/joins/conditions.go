package joins

import (
	"fmt"

	"github.com/TFMV/entlink/pkg/rel"
)

// Condition is a composable join predicate between two tables. Evaluating a
// condition yields a boolean expression with column references bound to the
// left and right operands.
type Condition interface {
	JoinCondition(left, right rel.Table) (rel.Expr, error)
}

// BooleanCondition matches everything or nothing, ignoring its inputs.
type BooleanCondition struct {
	Value bool
}

func (c BooleanCondition) JoinCondition(left, right rel.Table) (rel.Expr, error) {
	return rel.Lit(c.Value), nil
}

// FunctionCondition wraps an arbitrary binary predicate builder.
type FunctionCondition struct {
	Name string
	Fn   func(left, right rel.Table) (rel.Expr, error)
}

func (c FunctionCondition) JoinCondition(left, right rel.Table) (rel.Expr, error) {
	e, err := c.Fn(left, right)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", c.Name, err)
	}
	if e == nil {
		return nil, fmt.Errorf("condition %q produced no expression", c.Name)
	}
	return e, nil
}

// KeyCondition requires equality on one resolved key. NULL keys never match:
// that is standard equi-join semantics, relied upon rather than special-cased.
type KeyCondition struct {
	Key KeySpec
}

func (c KeyCondition) JoinCondition(left, right rel.Table) (rel.Expr, error) {
	le, re, err := ResolveKeyPair(c.Key, left, right)
	if err != nil {
		return nil, err
	}
	return &rel.Eq{L: BindSide(le, rel.Left), R: BindSide(re, rel.Right)}, nil
}

// MultiKeyCondition requires equality on every key simultaneously.
type MultiKeyCondition struct {
	Keys []KeySpec
}

func (c MultiKeyCondition) JoinCondition(left, right rel.Table) (rel.Expr, error) {
	if len(c.Keys) == 0 {
		return nil, fmt.Errorf("multi-key condition requires at least one key")
	}
	ops := make([]rel.Expr, len(c.Keys))
	for i, k := range c.Keys {
		e, err := (KeyCondition{Key: k}).JoinCondition(left, right)
		if err != nil {
			return nil, err
		}
		ops[i] = e
	}
	return rel.AndOf(ops...), nil
}

// AndCondition conjoins sub-conditions of any variant.
type AndCondition struct {
	Conditions []Condition
}

// NewAndCondition conjoins conditions, flattening nested AndConditions into
// one ordered list. The flat list is what overlap removal walks.
func NewAndCondition(conds ...Condition) AndCondition {
	flat := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if a, ok := c.(AndCondition); ok {
			flat = append(flat, a.Conditions...)
		} else {
			flat = append(flat, c)
		}
	}
	return AndCondition{Conditions: flat}
}

func (c AndCondition) JoinCondition(left, right rel.Table) (rel.Expr, error) {
	if len(c.Conditions) == 0 {
		return nil, fmt.Errorf("AND condition requires at least one sub-condition")
	}
	ops := make([]rel.Expr, len(c.Conditions))
	for i, sub := range c.Conditions {
		e, err := sub.JoinCondition(left, right)
		if err != nil {
			return nil, err
		}
		ops[i] = e
	}
	return rel.AndOf(ops...), nil
}

// NotCondition matches exactly the pairs its inner condition rejects.
type NotCondition struct {
	Condition Condition
}

func (c NotCondition) JoinCondition(left, right rel.Table) (rel.Expr, error) {
	e, err := c.Condition.JoinCondition(left, right)
	if err != nil {
		return nil, err
	}
	return rel.NotOf(e), nil
}

// RemoveConditionOverlap rewrites an ordered list of conditions meant to be
// ORed so their pair sets are pairwise disjoint: each condition is
// constrained against all earlier ones (ci AND NOT c1 ... AND NOT c_{i-1}).
// The union over the rewritten conditions equals the union over the
// originals, so a plain non-distinct union of their results suffices.
func RemoveConditionOverlap(conds []Condition) []Condition {
	out := make([]Condition, len(conds))
	for i, c := range conds {
		if i == 0 {
			out[i] = c
			continue
		}
		parts := make([]Condition, 0, i+1)
		parts = append(parts, c)
		for _, prior := range conds[:i] {
			parts = append(parts, NotCondition{Condition: prior})
		}
		out[i] = NewAndCondition(parts...)
	}
	return out
}

// conditionRule pairs a spec predicate with a constructor. NewCondition
// walks rules in order and builds with the first match, so narrow variants
// are listed before generic fallbacks.
type conditionRule struct {
	match func(spec any) bool
	build func(spec any) (Condition, error)
}

var conditionRules = []conditionRule{
	{
		match: func(spec any) bool { _, ok := spec.(Condition); return ok },
		build: func(spec any) (Condition, error) { return spec.(Condition), nil },
	},
	{
		match: func(spec any) bool { _, ok := spec.(bool); return ok },
		build: func(spec any) (Condition, error) { return BooleanCondition{Value: spec.(bool)}, nil },
	},
	{
		match: func(spec any) bool { e, ok := spec.(rel.Expr); return ok && referencesBothSides(e) },
		build: func(spec any) (Condition, error) {
			pairs, err := ParseAndOfEquals(spec.(rel.Expr))
			if err != nil {
				return nil, err
			}
			keys := make([]KeySpec, len(pairs))
			for i, p := range pairs {
				keys[i] = KeyPair{Left: p.Left, Right: p.Right}
			}
			return MultiKeyCondition{Keys: keys}, nil
		},
	},
	{
		match: isColumnSpecLike,
		build: func(spec any) (Condition, error) { return KeyCondition{Key: spec}, nil },
	},
	{
		match: func(spec any) bool { _, ok := asBinaryResolver(spec); return ok },
		build: func(spec any) (Condition, error) {
			f, _ := asBinaryResolver(spec)
			return KeyCondition{Key: f}, nil
		},
	},
	{
		match: func(spec any) bool { _, ok := asPredicateFunc(spec); return ok },
		build: func(spec any) (Condition, error) {
			f, _ := asPredicateFunc(spec)
			return FunctionCondition{Name: "func", Fn: f}, nil
		},
	},
	{
		match: func(spec any) bool { _, ok := spec.(KeyPair); return ok },
		build: func(spec any) (Condition, error) { return KeyCondition{Key: spec}, nil },
	},
	{
		match: func(spec any) bool { _, ok := asSpecList(spec); return ok },
		build: buildFromList,
	},
}

// NewCondition builds the narrowest condition variant matching a raw spec:
// an existing Condition, a bool, an expression over the left/right
// placeholders, a key spec (column name, templated expression, resolver
// func, or pair of halves), or a list of key specs. A 2-element list of
// column-spec-likes is one key's left/right halves; any other list is an AND
// of independent keys.
func NewCondition(spec any) (Condition, error) {
	for _, rule := range conditionRules {
		if rule.match(spec) {
			return rule.build(spec)
		}
	}
	return nil, fmt.Errorf("cannot build a join condition from %T", spec)
}

func referencesBothSides(e rel.Expr) bool {
	sides := rel.Sides(e)
	return sides[rel.Left] || sides[rel.Right]
}

// isColumnSpecLike reports whether spec resolves to one column per side on
// its own: a name, a one-sided expression, or a unary resolver.
func isColumnSpecLike(spec any) bool {
	switch s := spec.(type) {
	case string:
		return true
	case rel.Expr:
		return !referencesBothSides(s)
	case UnaryResolver, func(rel.Table) (rel.Expr, error):
		return true
	}
	return false
}

func asBinaryResolver(spec any) (BinaryResolver, bool) {
	switch f := spec.(type) {
	case BinaryResolver:
		return f, true
	case func(left, right rel.Table) (rel.Expr, rel.Expr, error):
		return f, true
	}
	return nil, false
}

func asPredicateFunc(spec any) (func(left, right rel.Table) (rel.Expr, error), bool) {
	switch f := spec.(type) {
	case func(left, right rel.Table) (rel.Expr, error):
		return f, true
	}
	return nil, false
}

func asSpecList(spec any) ([]any, bool) {
	switch s := spec.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, v := range s {
			out[i] = v
		}
		return out, true
	}
	return nil, false
}

func buildFromList(spec any) (Condition, error) {
	items, _ := asSpecList(spec)
	if len(items) == 0 {
		return nil, fmt.Errorf("empty key spec list")
	}
	// Two column-spec-likes form one key's left/right halves; anything else
	// is an AND of independent keys.
	if len(items) == 2 && isColumnSpecLike(items[0]) && isColumnSpecLike(items[1]) {
		return KeyCondition{Key: KeyPair{Left: items[0], Right: items[1]}}, nil
	}
	keys := make([]KeySpec, len(items))
	copy(keys, items)
	return MultiKeyCondition{Keys: keys}, nil
}
