package linker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

// OrLinker links pairs matching any of a set of named conditions. Overlap
// removal keeps the per-condition pair sets disjoint, so the union is plain
// concatenation and no pair is duplicated however many conditions it
// matches. Conditions are applied in lexicographic name order, which fixes
// per-branch attribution; the resulting pair set is order-independent.
type OrLinker struct {
	Conditions map[string]joins.Condition
	// OnSlow is checked per condition before any join runs.
	OnSlow joins.OnSlow
	// Task selects dedupe or link; empty infers from table identity. Under
	// dedupe every condition is constrained record_id_l < record_id_r.
	Task Task
}

// NewOrLinker builds an OrLinker from raw condition specs (any shape
// accepted by joins.NewCondition).
func NewOrLinker(specs map[string]any) (*OrLinker, error) {
	conds := make(map[string]joins.Condition, len(specs))
	for name, spec := range specs {
		cond, err := joins.NewCondition(spec)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", name, err)
		}
		conds[name] = cond
	}
	return &OrLinker{Conditions: conds}, nil
}

func (o *OrLinker) sortedNames() []string {
	names := make([]string, 0, len(o.Conditions))
	for name := range o.Conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// taskCondition returns one condition with the dedupe ordering constraint
// appended when the task calls for it.
func taskCondition(cond joins.Condition, task Task) joins.Condition {
	if task == TaskDedupe {
		return joins.NewAndCondition(cond, orderedIDs())
	}
	return cond
}

// Link applies every condition, removes overlap, and unions the disjoint
// per-condition link sets into one Linkage.
func (o *OrLinker) Link(ctx context.Context, left, right rel.Table) (*linkage.Linkage, error) {
	if len(o.Conditions) == 0 {
		return nil, fmt.Errorf("or linker requires at least one condition")
	}
	task, err := InferTask(o.Task, left, right)
	if err != nil {
		return nil, err
	}
	rightOp := right
	if left == right {
		rightOp = rel.View(right)
	}
	names := o.sortedNames()
	conds := make([]joins.Condition, len(names))
	for i, name := range names {
		conds[i] = taskCondition(o.Conditions[name], task)
		if err := joins.CheckJoinAlgorithm(left, rightOp, conds[i], o.OnSlow); err != nil {
			return nil, fmt.Errorf("condition %q: %w", name, err)
		}
	}

	var links rel.Table
	for i, cond := range joins.RemoveConditionOverlap(conds) {
		sub, err := conditionLinks(left, rightOp, cond)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", names[i], err)
		}
		if links == nil {
			links = sub
			continue
		}
		// The transformed conditions are pairwise disjoint; a non-distinct
		// union suffices.
		links, err = rel.Union(links, sub, false)
		if err != nil {
			return nil, err
		}
	}
	return linkage.New(left, rightOp, links)
}

func conditionLinks(left, right rel.Table, cond joins.Condition) (rel.Table, error) {
	joined, err := joins.Join(left, right, cond, true)
	if err != nil {
		return nil, err
	}
	return rel.SelectColumns(joined, linkage.LinkLeftCol, linkage.LinkRightCol)
}

// UpsetCount is one row of the upset diagnostic: the exact set of condition
// names a group of pairs matches, and how many pairs match exactly that set.
type UpsetCount struct {
	Conditions []string
	NPairs     int64
}

// UpsetCounts computes, for every non-empty subset of condition names, the
// number of pairs matched by exactly that subset. Per-condition pair sets
// are materialized in parallel. Results are ordered by descending count.
func (o *OrLinker) UpsetCounts(ctx context.Context, left, right rel.Table) ([]UpsetCount, error) {
	if len(o.Conditions) == 0 {
		return nil, fmt.Errorf("or linker requires at least one condition")
	}
	task, err := InferTask(o.Task, left, right)
	if err != nil {
		return nil, err
	}
	rightOp := right
	if left == right {
		rightOp = rel.View(right)
	}
	names := o.sortedNames()
	pairSets := make([]map[[2]string]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			links, err := conditionLinks(left, rightOp, taskCondition(o.Conditions[name], task))
			if err != nil {
				return fmt.Errorf("condition %q: %w", name, err)
			}
			rows, err := rel.Rows(gctx, links)
			if err != nil {
				return fmt.Errorf("condition %q: %w", name, err)
			}
			set := make(map[[2]string]bool, len(rows))
			for _, r := range rows {
				set[pairKey(r)] = true
			}
			pairSets[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Attribute every pair to the exact subset of conditions it matches.
	combos := make(map[string]int64)
	seen := make(map[[2]string]bool)
	for _, set := range pairSets {
		for pair := range set {
			if seen[pair] {
				continue
			}
			seen[pair] = true
			var members []string
			for i, other := range pairSets {
				if other[pair] {
					members = append(members, names[i])
				}
			}
			combos[strings.Join(members, "\x00")]++
		}
	}

	out := make([]UpsetCount, 0, len(combos))
	for combo, n := range combos {
		out = append(out, UpsetCount{Conditions: strings.Split(combo, "\x00"), NPairs: n})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].NPairs != out[b].NPairs {
			return out[a].NPairs > out[b].NPairs
		}
		return strings.Join(out[a].Conditions, ",") < strings.Join(out[b].Conditions, ",")
	})
	return out, nil
}

func pairKey(r rel.Row) [2]string {
	return [2]string{formatID(r[0]), formatID(r[1])}
}

func formatID(v rel.Value) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", v)
	}
}
