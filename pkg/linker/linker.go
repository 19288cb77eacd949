// Package linker holds the blocking engines that turn record tables into
// Linkages: key-equality blocking with skew suppression, OR-composition of
// named conditions, and arbitrary-condition linking.
package linker

import (
	"context"
	"fmt"

	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

// Task selects between deduplicating one table against itself and linking
// two distinct tables.
type Task string

const (
	// TaskDedupe pairs a table with itself; pairs are constrained
	// record_id_l < record_id_r to avoid self-pairs and symmetric
	// duplicates.
	TaskDedupe Task = "dedupe"
	// TaskLink pairs two distinct tables with no ordering constraint.
	TaskLink Task = "link"
)

// Linker produces a Linkage from a pair of record tables.
type Linker interface {
	Link(ctx context.Context, left, right rel.Table) (*linkage.Linkage, error)
}

// orderedIDs is the dedupe ordering constraint: only pairs with
// record_id_l < record_id_r survive, which excludes self-pairs and keeps
// one of each mirrored pair.
func orderedIDs() joins.Condition {
	return joins.FunctionCondition{
		Name: "ordered_ids",
		Fn: func(left, right rel.Table) (rel.Expr, error) {
			return &rel.Lt{L: rel.LCol(linkage.RecordIDCol), R: rel.RCol(linkage.RecordIDCol)}, nil
		},
	}
}

// InferTask resolves an explicit or empty task against the table pair:
// empty infers dedupe when both operands are the same table value, link
// otherwise.
func InferTask(task Task, left, right rel.Table) (Task, error) {
	switch task {
	case TaskDedupe, TaskLink:
		return task, nil
	case "":
		if left == right {
			return TaskDedupe, nil
		}
		return TaskLink, nil
	default:
		return "", fmt.Errorf("task must be dedupe, link, or empty; got %q", string(task))
	}
}
