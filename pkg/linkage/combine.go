package linkage

import (
	"fmt"

	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/rel"
)

// CombineImpl pairs an applicability test with an implementation of a
// combinator. A Combiner tries its impls in order and applies the first
// match, so cheaper specializations are listed before generic fallbacks.
type CombineImpl struct {
	Name  string
	Match func(ops []*Linkage) bool
	Apply func(ops []*Linkage) (*Linkage, error)
}

// Combiner is an explicit ordered list of combinator implementations.
type Combiner struct {
	impls []CombineImpl
}

// NewCombiner builds a combiner from an ordered list of implementations.
func NewCombiner(impls ...CombineImpl) Combiner {
	return Combiner{impls: impls}
}

// Combine applies the first matching implementation to the operands.
func (c Combiner) Combine(ops ...*Linkage) (*Linkage, error) {
	if err := checkOperands(ops); err != nil {
		return nil, err
	}
	if len(ops) == 1 {
		return ops[0], nil
	}
	for _, impl := range c.impls {
		if impl.Match(ops) {
			out, err := impl.Apply(ops)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", impl.Name, err)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("no combinator implementation matched the operands")
}

// checkOperands verifies the documented precondition that all operands share
// the same left/right tables. Sameness is structural: the schemas must be
// equal. Reference identity would reject logically identical views.
func checkOperands(ops []*Linkage) error {
	if len(ops) == 0 {
		return fmt.Errorf("at least one linkage operand is required")
	}
	first := ops[0]
	for i, op := range ops[1:] {
		if !op.Left.Schema().Equal(first.Left.Schema()) {
			return fmt.Errorf("operand %d has a different left table schema", i+1)
		}
		if !op.Right.Schema().Equal(first.Right.Schema()) {
			return fmt.Errorf("operand %d has a different right table schema", i+1)
		}
	}
	return nil
}

func anyMatch(ops []*Linkage) bool { return true }

func allHaveConditions(ops []*Linkage) bool {
	for _, op := range ops {
		if _, ok := op.Condition(); !ok {
			return false
		}
	}
	return true
}

// foldLinks reduces the operands' links with a binary set operation.
func foldLinks(ops []*Linkage, f func(a, b rel.Table) (rel.Table, error)) (*Linkage, error) {
	links := ops[0].Links
	var err error
	for _, op := range ops[1:] {
		links, err = f(links, op.Links)
		if err != nil {
			return nil, err
		}
	}
	return New(ops[0].Left, ops[0].Right, links)
}

var unionCombiner = NewCombiner(CombineImpl{
	Name:  "union of link sets",
	Match: anyMatch,
	Apply: func(ops []*Linkage) (*Linkage, error) {
		return foldLinks(ops, func(a, b rel.Table) (rel.Table, error) {
			return rel.Union(a, b, true)
		})
	},
})

var intersectCombiner = NewCombiner(
	CombineImpl{
		// All operands can reproduce their links from a condition: AND the
		// conditions and run one physical join instead of intersecting N
		// materialized pair sets.
		Name:  "AND of join conditions",
		Match: allHaveConditions,
		Apply: func(ops []*Linkage) (*Linkage, error) {
			conds := make([]joins.Condition, len(ops))
			for i, op := range ops {
				conds[i], _ = op.Condition()
			}
			return FromJoinCondition(ops[0].Left, ops[0].Right, joins.NewAndCondition(conds...))
		},
	},
	CombineImpl{
		Name:  "intersection of link sets",
		Match: anyMatch,
		Apply: func(ops []*Linkage) (*Linkage, error) {
			return foldLinks(ops, rel.Intersect)
		},
	},
)

var differenceCombiner = NewCombiner(CombineImpl{
	Name:  "difference of link sets",
	Match: anyMatch,
	Apply: func(ops []*Linkage) (*Linkage, error) {
		return foldLinks(ops, rel.Difference)
	},
})

// Union combines linkages into one whose links are the distinct union of
// all operands' links.
func Union(ops ...*Linkage) (*Linkage, error) {
	return unionCombiner.Combine(ops...)
}

// Intersect combines linkages into one whose links are the pairs present in
// every operand. When all operands carry join conditions the conditions are
// ANDed into a single join.
func Intersect(ops ...*Linkage) (*Linkage, error) {
	return intersectCombiner.Combine(ops...)
}

// Difference combines linkages into one whose links are the pairs of the
// first operand absent from all subsequent ones.
func Difference(ops ...*Linkage) (*Linkage, error) {
	return differenceCombiner.Combine(ops...)
}
