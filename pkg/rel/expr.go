// Package rel provides a small lazy relational expression engine over
// in-memory columnar data. Tables are immutable expression values; nothing
// is computed until a materializing call (Rows, Count, Cache, ToRecord).
package rel

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Side tags a column reference with the join operand it refers to.
// Unbound references resolve against the single input of a one-table
// operation, or against whichever join side uniquely owns the column name.
type Side int

const (
	Unbound Side = iota
	Left
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "_"
	}
}

// Expr is a node of the expression AST. The variants are a closed set of
// exported structs so callers can pattern-match on the tree, for example to
// decompose a conjunction of equalities into per-key join clauses.
type Expr interface {
	fmt.Stringer
	exprNode()
}

// Column references a named column on one side of an operation.
type Column struct {
	Table Side
	Name  string
}

// Literal wraps a constant value.
type Literal struct {
	Value any
}

// Eq is an equality comparison. NULL never equals NULL.
type Eq struct {
	L, R Expr
}

// Lt is a less-than comparison.
type Lt struct {
	L, R Expr
}

// And is an n-ary conjunction.
type And struct {
	Operands []Expr
}

// Or is an n-ary disjunction.
type Or struct {
	Operands []Expr
}

// Not negates a boolean expression.
type Not struct {
	Operand Expr
}

// Func is an opaque computed column: a user transform over one row of the
// tagged side. Type declares the output datatype since the engine cannot
// infer it.
type Func struct {
	Name  string
	Type  arrow.DataType
	Table Side
	Fn    func(row map[string]Value) (Value, error)
}

func (*Column) exprNode()  {}
func (*Literal) exprNode() {}
func (*Eq) exprNode()      {}
func (*Lt) exprNode()      {}
func (*And) exprNode()     {}
func (*Or) exprNode()      {}
func (*Not) exprNode()     {}
func (*Func) exprNode()    {}

func (c *Column) String() string {
	if c.Table == Unbound {
		return c.Name
	}
	return c.Table.String() + "." + c.Name
}

func (l *Literal) String() string { return fmt.Sprintf("%v", l.Value) }
func (e *Eq) String() string      { return "(" + e.L.String() + " == " + e.R.String() + ")" }
func (e *Lt) String() string      { return "(" + e.L.String() + " < " + e.R.String() + ")" }

func (e *And) String() string {
	parts := make([]string, len(e.Operands))
	for i, op := range e.Operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, " & ") + ")"
}

func (e *Or) String() string {
	parts := make([]string, len(e.Operands))
	for i, op := range e.Operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func (e *Not) String() string  { return "~" + e.Operand.String() }
func (f *Func) String() string { return f.Table.String() + "." + f.Name + "()" }

// Col references a column without binding it to a side.
func Col(name string) *Column { return &Column{Table: Unbound, Name: name} }

// LCol references a column on the left join operand.
func LCol(name string) *Column { return &Column{Table: Left, Name: name} }

// RCol references a column on the right join operand.
func RCol(name string) *Column { return &Column{Table: Right, Name: name} }

// Lit wraps a constant.
func Lit(v any) *Literal { return &Literal{Value: v} }

// AndOf conjoins expressions, flattening nested Ands into one operand list.
func AndOf(ops ...Expr) Expr {
	flat := make([]Expr, 0, len(ops))
	for _, op := range ops {
		if a, ok := op.(*And); ok {
			flat = append(flat, a.Operands...)
		} else {
			flat = append(flat, op)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &And{Operands: flat}
}

// NotOf negates an expression, collapsing double negation.
func NotOf(e Expr) Expr {
	if n, ok := e.(*Not); ok {
		return n.Operand
	}
	return &Not{Operand: e}
}

// Sides returns the set of sides referenced by column and func nodes in e.
func Sides(e Expr) map[Side]bool {
	out := map[Side]bool{}
	collectSides(e, out)
	return out
}

func collectSides(e Expr, out map[Side]bool) {
	switch x := e.(type) {
	case *Column:
		out[x.Table] = true
	case *Func:
		out[x.Table] = true
	case *Literal:
	case *Eq:
		collectSides(x.L, out)
		collectSides(x.R, out)
	case *Lt:
		collectSides(x.L, out)
		collectSides(x.R, out)
	case *And:
		for _, op := range x.Operands {
			collectSides(op, out)
		}
	case *Or:
		for _, op := range x.Operands {
			collectSides(op, out)
		}
	case *Not:
		collectSides(x.Operand, out)
	}
}

// bindings index a schema's column names for row access.
type bindings struct {
	schema *arrow.Schema
	index  map[string]int
}

func newBindings(schema *arrow.Schema) *bindings {
	idx := make(map[string]int, schema.NumFields())
	for i, f := range schema.Fields() {
		idx[f.Name] = i
	}
	return &bindings{schema: schema, index: idx}
}

func (b *bindings) has(name string) bool {
	_, ok := b.index[name]
	return ok
}

// evalEnv carries the row(s) an expression is evaluated against. For
// one-table operations only the left side is populated.
type evalEnv struct {
	left, right *bindings
	lrow, rrow  Row
}

func (env *evalEnv) column(c *Column) (Value, error) {
	switch c.Table {
	case Left:
		return env.sideValue(env.left, env.lrow, c)
	case Right:
		return env.sideValue(env.right, env.rrow, c)
	default:
		if env.right == nil {
			return env.sideValue(env.left, env.lrow, c)
		}
		inLeft := env.left.has(c.Name)
		inRight := env.right.has(c.Name)
		switch {
		case inLeft && inRight:
			return nil, fmt.Errorf("ambiguous column reference %q: present in both join operands", c.Name)
		case inLeft:
			return env.sideValue(env.left, env.lrow, c)
		case inRight:
			return env.sideValue(env.right, env.rrow, c)
		default:
			return nil, fmt.Errorf("column %q not found in either join operand", c.Name)
		}
	}
}

func (env *evalEnv) sideValue(b *bindings, row Row, c *Column) (Value, error) {
	if b == nil {
		return nil, fmt.Errorf("column %s references a side that is not bound", c)
	}
	i, ok := b.index[c.Name]
	if !ok {
		return nil, fmt.Errorf("column %q not found in %s table (has %v)", c.Name, c.Table, b.schema.Fields())
	}
	return row[i], nil
}

func (env *evalEnv) sideRowMap(s Side) (map[string]Value, error) {
	b, row := env.left, env.lrow
	if s == Right {
		b, row = env.right, env.rrow
	}
	if s == Unbound && env.right != nil {
		return nil, fmt.Errorf("func expression must be bound to a side in a join context")
	}
	if b == nil {
		return nil, fmt.Errorf("func expression references a side that is not bound")
	}
	m := make(map[string]Value, len(b.index))
	for name, i := range b.index {
		m[name] = row[i]
	}
	return m, nil
}

// evalExpr evaluates e under env. Boolean operators use SQL three-valued
// logic: comparisons with NULL yield NULL (returned as nil).
func evalExpr(e Expr, env *evalEnv) (Value, error) {
	switch x := e.(type) {
	case *Column:
		return env.column(x)
	case *Literal:
		return normalizeValue(x.Value)
	case *Func:
		row, err := env.sideRowMap(x.Table)
		if err != nil {
			return nil, err
		}
		v, err := x.Fn(row)
		if err != nil {
			return nil, fmt.Errorf("func %s: %w", x.Name, err)
		}
		return normalizeValue(v)
	case *Eq:
		l, err := evalExpr(x.L, env)
		if err != nil {
			return nil, err
		}
		r, err := evalExpr(x.R, env)
		if err != nil {
			return nil, err
		}
		if l == nil || r == nil {
			return nil, nil
		}
		eq, err := equalValues(l, r)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", x, err)
		}
		return eq, nil
	case *Lt:
		l, err := evalExpr(x.L, env)
		if err != nil {
			return nil, err
		}
		r, err := evalExpr(x.R, env)
		if err != nil {
			return nil, err
		}
		if l == nil || r == nil {
			return nil, nil
		}
		c, err := compareValues(l, r)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", x, err)
		}
		return c < 0, nil
	case *And:
		sawNull := false
		for _, op := range x.Operands {
			v, err := evalExpr(op, env)
			if err != nil {
				return nil, err
			}
			if v == nil {
				sawNull = true
				continue
			}
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("AND operand %s is not boolean (%T)", op, v)
			}
			if !b {
				return false, nil
			}
		}
		if sawNull {
			return nil, nil
		}
		return true, nil
	case *Or:
		sawNull := false
		for _, op := range x.Operands {
			v, err := evalExpr(op, env)
			if err != nil {
				return nil, err
			}
			if v == nil {
				sawNull = true
				continue
			}
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("OR operand %s is not boolean (%T)", op, v)
			}
			if b {
				return true, nil
			}
		}
		if sawNull {
			return nil, nil
		}
		return false, nil
	case *Not:
		v, err := evalExpr(x.Operand, env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("NOT operand %s is not boolean (%T)", x.Operand, v)
		}
		return !b, nil
	default:
		return nil, fmt.Errorf("unknown expression node %T", e)
	}
}

// evalBool evaluates a predicate; NULL counts as false (SQL WHERE semantics).
func evalBool(e Expr, env *evalEnv) (bool, error) {
	v, err := evalExpr(e, env)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %s evaluated to non-boolean %T", e, v)
	}
	return b, nil
}

// InferType determines an expression's output datatype against a single
// table, validating its column references along the way.
func InferType(e Expr, t Table) (arrow.DataType, error) {
	return inferType(e, t.Schema(), nil)
}

// inferType determines the output datatype of an expression against the
// given schema(s). right may be nil for one-table operations.
func inferType(e Expr, left, right *arrow.Schema) (arrow.DataType, error) {
	switch x := e.(type) {
	case *Column:
		return columnType(x, left, right)
	case *Literal:
		v, err := normalizeValue(x.Value)
		if err != nil {
			return nil, err
		}
		return valueType(v), nil
	case *Func:
		if x.Type == nil {
			return nil, fmt.Errorf("func expression %s must declare its output type", x)
		}
		return x.Type, nil
	case *Eq, *Lt, *And, *Or, *Not:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, fmt.Errorf("unknown expression node %T", e)
	}
}

func columnType(c *Column, left, right *arrow.Schema) (arrow.DataType, error) {
	lookup := func(s *arrow.Schema) (arrow.DataType, bool) {
		if s == nil {
			return nil, false
		}
		idxs := s.FieldIndices(c.Name)
		if len(idxs) == 0 {
			return nil, false
		}
		return s.Field(idxs[0]).Type, true
	}
	switch c.Table {
	case Left:
		if t, ok := lookup(left); ok {
			return t, nil
		}
		return nil, fmt.Errorf("column %q not found in left table", c.Name)
	case Right:
		if t, ok := lookup(right); ok {
			return t, nil
		}
		return nil, fmt.Errorf("column %q not found in right table", c.Name)
	default:
		lt, lok := lookup(left)
		rt, rok := lookup(right)
		switch {
		case lok && rok:
			return nil, fmt.Errorf("ambiguous column reference %q: present in both join operands", c.Name)
		case lok:
			return lt, nil
		case rok:
			return rt, nil
		default:
			return nil, fmt.Errorf("column %q not found", c.Name)
		}
	}
}

func valueType(v Value) arrow.DataType {
	switch v.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case int64:
		return arrow.PrimitiveTypes.Int64
	case uint64:
		return arrow.PrimitiveTypes.Uint64
	case float64:
		return arrow.PrimitiveTypes.Float64
	case string:
		return arrow.BinaryTypes.String
	case []Value:
		return arrow.ListOf(arrow.BinaryTypes.String)
	default:
		return arrow.Null
	}
}
