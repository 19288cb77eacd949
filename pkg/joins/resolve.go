// Package joins turns heterogeneous key specifications and composable join
// conditions into concrete relational predicates over a left/right table
// pair, and analyzes the resulting joins for performance hazards.
package joins

import (
	"fmt"

	"github.com/TFMV/entlink/pkg/rel"
)

// KeySpec is one key specification. Accepted shapes:
//
//   - string: a column name looked up on both sides.
//   - rel.Expr: a templated expression with unbound column references,
//     applied to both sides uniformly.
//   - func(rel.Table) (rel.Expr, error): a unary resolver applied to each
//     side independently.
//   - KeyPair: a left half and a right half, each any of the above, when the
//     key has different names or transforms per side.
//   - func(left, right rel.Table) (rel.Expr, rel.Expr, error): a binary
//     resolver producing both halves at once.
type KeySpec = any

// KeyPair holds per-side halves of one key.
type KeyPair struct {
	Left  KeySpec
	Right KeySpec
}

// UnaryResolver resolves one key column against a single table.
type UnaryResolver func(t rel.Table) (rel.Expr, error)

// BinaryResolver resolves one key's two columns against the table pair.
type BinaryResolver func(left, right rel.Table) (rel.Expr, rel.Expr, error)

// ResolveKeyPair resolves a key spec against a table pair into two
// expressions, one per side, each with unbound column references meant to be
// evaluated against (or bound to) its own table. Resolution failures are
// eager and name the offending spec.
func ResolveKeyPair(spec KeySpec, left, right rel.Table) (rel.Expr, rel.Expr, error) {
	switch s := spec.(type) {
	case KeyPair:
		le, err := resolveHalf(s.Left, left, "left")
		if err != nil {
			return nil, nil, err
		}
		re, err := resolveHalf(s.Right, right, "right")
		if err != nil {
			return nil, nil, err
		}
		return le, re, nil
	case BinaryResolver:
		return resolveBinary(s, left, right)
	case func(left, right rel.Table) (rel.Expr, rel.Expr, error):
		return resolveBinary(s, left, right)
	default:
		le, err := resolveHalf(spec, left, "left")
		if err != nil {
			return nil, nil, err
		}
		re, err := resolveHalf(spec, right, "right")
		if err != nil {
			return nil, nil, err
		}
		return le, re, nil
	}
}

// ResolveKeySide resolves only one side's half of a key spec against that
// side's table. Per-side specs (KeyPair) resolve just the matching half, so
// a key like {Left: "surname", Right: "last_name"} can be evaluated against
// a left table that has no last_name column. Binary resolvers are invoked
// with the table standing in for both sides and the relevant half is kept.
func ResolveKeySide(spec KeySpec, t rel.Table, side rel.Side) (rel.Expr, error) {
	name := "left"
	if side == rel.Right {
		name = "right"
	}
	switch s := spec.(type) {
	case KeyPair:
		half := s.Left
		if side == rel.Right {
			half = s.Right
		}
		return resolveHalf(half, t, name)
	case BinaryResolver:
		return resolveBinarySide(s, t, side, name)
	case func(left, right rel.Table) (rel.Expr, rel.Expr, error):
		return resolveBinarySide(s, t, side, name)
	default:
		return resolveHalf(spec, t, name)
	}
}

func resolveBinarySide(f BinaryResolver, t rel.Table, side rel.Side, name string) (rel.Expr, error) {
	le, re, err := f(t, t)
	if err != nil {
		return nil, fmt.Errorf("binary key resolver: %w", err)
	}
	e := le
	if side == rel.Right {
		e = re
	}
	if err := checkResolved(e, t, name); err != nil {
		return nil, err
	}
	return e, nil
}

func resolveBinary(f BinaryResolver, left, right rel.Table) (rel.Expr, rel.Expr, error) {
	le, re, err := f(left, right)
	if err != nil {
		return nil, nil, fmt.Errorf("binary key resolver: %w", err)
	}
	if err := checkResolved(le, left, "left"); err != nil {
		return nil, nil, err
	}
	if err := checkResolved(re, right, "right"); err != nil {
		return nil, nil, err
	}
	return le, re, nil
}

// resolveHalf resolves one side's half of a key spec against that side's
// table.
func resolveHalf(spec KeySpec, t rel.Table, side string) (rel.Expr, error) {
	switch s := spec.(type) {
	case string:
		if !rel.HasColumn(t, s) {
			return nil, fmt.Errorf("key column %q not found in %s table", s, side)
		}
		return rel.Col(s), nil
	case rel.Expr:
		if err := checkResolved(s, t, side); err != nil {
			return nil, err
		}
		return s, nil
	case UnaryResolver:
		return resolveUnary(s, t, side)
	case func(rel.Table) (rel.Expr, error):
		return resolveUnary(s, t, side)
	case KeyPair:
		return nil, fmt.Errorf("key spec half for %s table is itself a pair; nested pairs are not a valid key shape", side)
	default:
		return nil, fmt.Errorf("unsupported key spec type %T for %s table", spec, side)
	}
}

func resolveUnary(f UnaryResolver, t rel.Table, side string) (rel.Expr, error) {
	e, err := f(t)
	if err != nil {
		return nil, fmt.Errorf("key resolver against %s table: %w", side, err)
	}
	if e == nil {
		return nil, fmt.Errorf("key resolver against %s table returned no column", side)
	}
	if err := checkResolved(e, t, side); err != nil {
		return nil, err
	}
	return e, nil
}

// checkResolved validates that a resolved expression references only unbound
// columns present in its table.
func checkResolved(e rel.Expr, t rel.Table, side string) error {
	if e == nil {
		return fmt.Errorf("key spec resolved to no expression for %s table", side)
	}
	for s := range rel.Sides(e) {
		if s != rel.Unbound {
			return fmt.Errorf("key expression %s must not reference a join side; it is applied to the %s table alone", e, side)
		}
	}
	if _, err := rel.InferType(e, t); err != nil {
		return fmt.Errorf("key expression %s against %s table: %w", e, side, err)
	}
	return nil
}

// BindSide clones an expression, tagging its unbound column and func
// references with the given join side.
func BindSide(e rel.Expr, side rel.Side) rel.Expr {
	switch x := e.(type) {
	case *rel.Column:
		if x.Table == rel.Unbound {
			return &rel.Column{Table: side, Name: x.Name}
		}
		return x
	case *rel.Literal:
		return x
	case *rel.Func:
		if x.Table == rel.Unbound {
			f := *x
			f.Table = side
			return &f
		}
		return x
	case *rel.Eq:
		return &rel.Eq{L: BindSide(x.L, side), R: BindSide(x.R, side)}
	case *rel.Lt:
		return &rel.Lt{L: BindSide(x.L, side), R: BindSide(x.R, side)}
	case *rel.And:
		ops := make([]rel.Expr, len(x.Operands))
		for i, op := range x.Operands {
			ops[i] = BindSide(op, side)
		}
		return &rel.And{Operands: ops}
	case *rel.Or:
		ops := make([]rel.Expr, len(x.Operands))
		for i, op := range x.Operands {
			ops[i] = BindSide(op, side)
		}
		return &rel.Or{Operands: ops}
	case *rel.Not:
		return &rel.Not{Operand: BindSide(x.Operand, side)}
	default:
		return e
	}
}

// Unbind clones an expression, stripping side tags from column and func
// references so the result can be evaluated against a single table.
func Unbind(e rel.Expr) rel.Expr {
	switch x := e.(type) {
	case *rel.Column:
		if x.Table != rel.Unbound {
			return &rel.Column{Table: rel.Unbound, Name: x.Name}
		}
		return x
	case *rel.Literal:
		return x
	case *rel.Func:
		if x.Table != rel.Unbound {
			f := *x
			f.Table = rel.Unbound
			return &f
		}
		return x
	case *rel.Eq:
		return &rel.Eq{L: Unbind(x.L), R: Unbind(x.R)}
	case *rel.Lt:
		return &rel.Lt{L: Unbind(x.L), R: Unbind(x.R)}
	case *rel.And:
		ops := make([]rel.Expr, len(x.Operands))
		for i, op := range x.Operands {
			ops[i] = Unbind(op)
		}
		return &rel.And{Operands: ops}
	case *rel.Or:
		ops := make([]rel.Expr, len(x.Operands))
		for i, op := range x.Operands {
			ops[i] = Unbind(op)
		}
		return &rel.Or{Operands: ops}
	case *rel.Not:
		return &rel.Not{Operand: Unbind(x.Operand)}
	default:
		return e
	}
}
