package linker

import (
	"context"
	"fmt"

	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

// JoinConditionLinker wraps a single arbitrary condition as a Linker. The
// resulting Linkage is abstract: its links are a join expression rather
// than a materialized pair set, so Cache on it is a no-op.
type JoinConditionLinker struct {
	Condition joins.Condition
	OnSlow    joins.OnSlow
}

// NewJoinConditionLinker builds the linker from a raw condition spec (any
// shape accepted by joins.NewCondition).
func NewJoinConditionLinker(spec any) (*JoinConditionLinker, error) {
	cond, err := joins.NewCondition(spec)
	if err != nil {
		return nil, err
	}
	return &JoinConditionLinker{Condition: cond}, nil
}

// Link checks the join plan against the slow-join policy and wraps the
// condition in a Linkage.
func (j *JoinConditionLinker) Link(_ context.Context, left, right rel.Table) (*linkage.Linkage, error) {
	if j.Condition == nil {
		return nil, fmt.Errorf("join condition linker requires a condition")
	}
	rightOp := right
	if left == right {
		rightOp = rel.View(right)
	}
	if err := joins.CheckJoinAlgorithm(left, rightOp, j.Condition, j.OnSlow); err != nil {
		return nil, err
	}
	lk, err := linkage.FromJoinCondition(left, rightOp, j.Condition)
	if err != nil {
		return nil, err
	}
	return lk.Abstract(), nil
}
