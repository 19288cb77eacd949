package joins

import (
	"fmt"

	"github.com/TFMV/entlink/pkg/rel"
)

// BadKeyConditionError reports an expression that cannot be decomposed into
// per-key equality clauses over the left/right placeholders.
type BadKeyConditionError struct {
	Expr   rel.Expr
	Reason string
}

func (e *BadKeyConditionError) Error() string {
	return fmt.Sprintf("cannot use %s as a key join condition: %s", e.Expr, e.Reason)
}

// ExprPair is one decomposed key: a left-side expression and a right-side
// expression, both with side tags stripped.
type ExprPair struct {
	Left  rel.Expr
	Right rel.Expr
}

// ParseAndOfEquals decomposes a conjunction of equalities over the left and
// right placeholders into independent per-key pairs. Each conjunct must be an
// equality whose two operands reference exactly one side each, one left and
// one right. Anything else (an OR, a non-equality leaf, an operand mixing or
// missing sides) fails with a BadKeyConditionError naming the offending
// sub-expression.
//
// Decomposing instead of treating the expression as one opaque predicate is
// what lets the linker count per-key cardinalities and the engine pick an
// equi-join.
func ParseAndOfEquals(e rel.Expr) ([]ExprPair, error) {
	switch x := e.(type) {
	case *rel.And:
		var out []ExprPair
		for _, op := range x.Operands {
			pairs, err := ParseAndOfEquals(op)
			if err != nil {
				return nil, err
			}
			out = append(out, pairs...)
		}
		return out, nil
	case *rel.Eq:
		pair, err := splitEquality(x)
		if err != nil {
			return nil, err
		}
		return []ExprPair{pair}, nil
	default:
		return nil, &BadKeyConditionError{Expr: e, Reason: "only AND and == nodes are allowed"}
	}
}

func splitEquality(eq *rel.Eq) (ExprPair, error) {
	ls, err := soleSide(eq.L)
	if err != nil {
		return ExprPair{}, &BadKeyConditionError{Expr: eq, Reason: err.Error()}
	}
	rs, err := soleSide(eq.R)
	if err != nil {
		return ExprPair{}, &BadKeyConditionError{Expr: eq, Reason: err.Error()}
	}
	switch {
	case ls == rel.Left && rs == rel.Right:
		return ExprPair{Left: Unbind(eq.L), Right: Unbind(eq.R)}, nil
	case ls == rel.Right && rs == rel.Left:
		return ExprPair{Left: Unbind(eq.R), Right: Unbind(eq.L)}, nil
	default:
		return ExprPair{}, &BadKeyConditionError{
			Expr:   eq,
			Reason: fmt.Sprintf("operands must reference one side each, got %s and %s", ls, rs),
		}
	}
}

// soleSide returns the single join side an operand references.
func soleSide(e rel.Expr) (rel.Side, error) {
	sides := rel.Sides(e)
	delete(sides, rel.Unbound)
	if len(sides) != 1 {
		if len(sides) == 0 {
			return rel.Unbound, fmt.Errorf("operand %s references neither the left nor the right table", e)
		}
		return rel.Unbound, fmt.Errorf("operand %s references both tables", e)
	}
	for s := range sides {
		return s, nil
	}
	return rel.Unbound, nil
}
