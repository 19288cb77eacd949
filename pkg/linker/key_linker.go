package linker

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

// KeyLinker is the central blocking engine: records are paired when they
// match on every key. Immutable configuration; calling Link builds a fresh
// Linkage.
type KeyLinker struct {
	Keys []joins.KeySpec
	// MaxPairs, when positive, suppresses any specific key value whose pair
	// count would exceed it. Every record carrying such a value is excluded
	// from matching, not just truncated: recall for that value is traded
	// away to bound the worst-case blowup from skewed keys.
	MaxPairs int64
	// Task selects dedupe or link; empty infers from table identity.
	Task Task
}

// NewKeyLinker builds a KeyLinker over one or more key specs.
func NewKeyLinker(keys ...joins.KeySpec) *KeyLinker {
	return &KeyLinker{Keys: keys}
}

// resolvedKey is one key resolved against the table pair, with the column
// name its diagnostic outputs use.
type resolvedKey struct {
	name  string
	left  rel.Expr
	right rel.Expr
}

func (k *KeyLinker) resolve(left, right rel.Table) ([]resolvedKey, error) {
	if len(k.Keys) == 0 {
		return nil, fmt.Errorf("key linker requires at least one key")
	}
	out := make([]resolvedKey, len(k.Keys))
	seen := make(map[string]bool, len(k.Keys))
	for i, spec := range k.Keys {
		le, re, err := joins.ResolveKeyPair(spec, left, right)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		name := keyName(le, i)
		if seen[name] {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		seen[name] = true
		out[i] = resolvedKey{name: name, left: le, right: re}
	}
	return out, nil
}

// resolveSide resolves each key's relevant half against one table, for the
// per-side diagnostics. Per-side specs need only that side's columns.
func (k *KeyLinker) resolveSide(t rel.Table, side rel.Side) ([]resolvedKey, error) {
	if len(k.Keys) == 0 {
		return nil, fmt.Errorf("key linker requires at least one key")
	}
	out := make([]resolvedKey, len(k.Keys))
	seen := make(map[string]bool, len(k.Keys))
	for i, spec := range k.Keys {
		e, err := joins.ResolveKeySide(spec, t, side)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		name := keyName(e, i)
		if seen[name] {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		seen[name] = true
		rk := resolvedKey{name: name, left: e}
		if side == rel.Right {
			rk = resolvedKey{name: name, right: e}
		}
		out[i] = rk
	}
	return out, nil
}

func keyName(e rel.Expr, i int) string {
	switch x := e.(type) {
	case *rel.Column:
		return x.Name
	case *rel.Func:
		if x.Name != "" {
			return x.Name
		}
	}
	return fmt.Sprintf("key_%d", i)
}

// keyedIDs projects a table to record_id plus the computed key columns.
func keyedIDs(t rel.Table, keys []resolvedKey, side rel.Side) (rel.Table, error) {
	items := make([]rel.NamedExpr, 0, len(keys)+1)
	items = append(items, rel.C(linkage.RecordIDCol))
	for _, key := range keys {
		expr := key.left
		if side == rel.Right {
			expr = key.right
		}
		items = append(items, rel.As(key.name, expr))
	}
	return rel.Select(t, items...)
}

// nonNullKeys is a predicate holding when no key component is NULL. NULL
// keys never match under join semantics, so counts exclude them.
func nonNullKeys(keys []resolvedKey) rel.Expr {
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.name
	}
	return &rel.Func{
		Name:  "keys_non_null",
		Type:  arrow.FixedWidthTypes.Boolean,
		Table: rel.Unbound,
		Fn: func(row map[string]rel.Value) (rel.Value, error) {
			for _, n := range names {
				if row[n] == nil {
					return false, nil
				}
			}
			return true, nil
		},
	}
}

// keyCounts groups a keyed projection by the key tuple and counts records,
// NULL-containing tuples excluded.
func keyCounts(keyed rel.Table, keys []resolvedKey, nCol string) (rel.Table, error) {
	filtered, err := rel.Filter(keyed, nonNullKeys(keys))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.name
	}
	return rel.GroupBy(filtered, names, rel.CountAgg(nCol))
}

// KeyCountsLeft counts, per distinct key tuple, the left-side records
// sharing it, most common first.
func (k *KeyLinker) KeyCountsLeft(t rel.Table) (*linkage.KeyCountsTable, error) {
	return k.keyCountsSide(t, rel.Left)
}

// KeyCountsRight counts, per distinct key tuple, the right-side records
// sharing it, most common first.
func (k *KeyLinker) KeyCountsRight(t rel.Table) (*linkage.KeyCountsTable, error) {
	return k.keyCountsSide(t, rel.Right)
}

func (k *KeyLinker) keyCountsSide(t rel.Table, side rel.Side) (*linkage.KeyCountsTable, error) {
	keys, err := k.resolveSide(t, side)
	if err != nil {
		return nil, err
	}
	keyed, err := keyedIDs(t, keys, side)
	if err != nil {
		return nil, err
	}
	counts, err := keyCounts(keyed, keys, "n")
	if err != nil {
		return nil, err
	}
	ordered, err := rel.OrderBy(counts, rel.Desc("n"))
	if err != nil {
		return nil, err
	}
	return linkage.NewKeyCountsTable(ordered), nil
}

// PairCounts estimates, per distinct key tuple, how many pairs the key
// would generate, without materializing the pair set: the two sides' key
// counts are inner-joined on the tuple and multiplied (n_l x n_r for link,
// n x (n-1) / 2 for dedupe). Most expensive keys first. When MaxPairs is
// set, over-threshold tuples are excluded, so the estimate agrees with the
// pair set Link produces after suppression.
func (k *KeyLinker) PairCounts(left, right rel.Table) (*linkage.PairCountsTable, error) {
	task, err := InferTask(k.Task, left, right)
	if err != nil {
		return nil, err
	}
	if left == right {
		right = rel.View(right)
	}
	keys, err := k.resolve(left, right)
	if err != nil {
		return nil, err
	}
	kl, err := keyedIDs(left, keys, rel.Left)
	if err != nil {
		return nil, err
	}
	kr, err := keyedIDs(right, keys, rel.Right)
	if err != nil {
		return nil, err
	}
	counts, err := pairCounts(kl, kr, keys, task)
	if err != nil {
		return nil, err
	}
	if k.MaxPairs > 0 {
		counts, err = rel.Filter(counts, &rel.Not{
			Operand: &rel.Lt{L: rel.Lit(k.MaxPairs), R: rel.Col("n")},
		})
		if err != nil {
			return nil, err
		}
	}
	ordered, err := rel.OrderBy(counts, rel.Desc("n"))
	if err != nil {
		return nil, err
	}
	return linkage.NewPairCountsTable(ordered), nil
}

// pairCounts joins the two sides' key counts and multiplies. Tuples present
// on only one side contribute zero pairs and drop out of the inner join.
func pairCounts(kl, kr rel.Table, keys []resolvedKey, task Task) (rel.Table, error) {
	kcl, err := keyCounts(kl, keys, "n_l")
	if err != nil {
		return nil, err
	}
	kcr, err := keyCounts(kr, keys, "n_r")
	if err != nil {
		return nil, err
	}
	// Rename the right side's key columns so the joined schema stays flat.
	rename := make(map[string]string, len(keys))
	rnames := make([]string, len(keys))
	for i, key := range keys {
		rnames[i] = scratchCol()
		rename[key.name] = rnames[i]
	}
	kcr, err = rel.Rename(kcr, rename)
	if err != nil {
		return nil, err
	}
	on := make([]rel.Expr, len(keys))
	for i, key := range keys {
		on[i] = &rel.Eq{L: rel.LCol(key.name), R: rel.RCol(rnames[i])}
	}
	joined, err := rel.Join(kcl, kcr, rel.AndOf(on...), rel.JoinOptions{How: rel.InnerJoin})
	if err != nil {
		return nil, err
	}
	items := make([]rel.NamedExpr, 0, len(keys)+1)
	for _, key := range keys {
		items = append(items, rel.C(key.name))
	}
	items = append(items, rel.As("n", pairCountExpr(task)))
	return rel.Select(joined, items...)
}

// pairCountExpr computes the per-tuple pair count. The dedupe formula uses
// only the left-side count since both sides are the same relation; n*(n-1)
// is always even so the division is exact.
func pairCountExpr(task Task) rel.Expr {
	return &rel.Func{
		Name: "n_pairs",
		Type: arrow.PrimitiveTypes.Int64,
		Fn: func(row map[string]rel.Value) (rel.Value, error) {
			nl, err := cast.ToInt64E(row["n_l"])
			if err != nil {
				return nil, err
			}
			if task == TaskDedupe {
				return nl * (nl - 1) / 2, nil
			}
			nr, err := cast.ToInt64E(row["n_r"])
			if err != nil {
				return nil, err
			}
			return nl * nr, nil
		},
	}
}

// Link blocks the table pair on key equality and returns the Linkage.
func (k *KeyLinker) Link(ctx context.Context, left, right rel.Table) (*linkage.Linkage, error) {
	task, err := InferTask(k.Task, left, right)
	if err != nil {
		return nil, err
	}
	rightOp := right
	if left == right {
		rightOp = rel.View(right)
	}
	keys, err := k.resolve(left, rightOp)
	if err != nil {
		return nil, err
	}
	kl, err := keyedIDs(left, keys, rel.Left)
	if err != nil {
		return nil, err
	}
	kr, err := keyedIDs(rightOp, keys, rel.Right)
	if err != nil {
		return nil, err
	}

	if k.MaxPairs > 0 {
		kl, kr, err = suppressCommonKeys(kl, kr, keys, task, k.MaxPairs)
		if err != nil {
			return nil, err
		}
	}

	pred := make([]rel.Expr, 0, len(keys)+1)
	for _, key := range keys {
		pred = append(pred, &rel.Eq{L: rel.LCol(key.name), R: rel.RCol(key.name)})
	}
	if task == TaskDedupe {
		pred = append(pred, &rel.Lt{L: rel.LCol(linkage.RecordIDCol), R: rel.RCol(linkage.RecordIDCol)})
	}
	joined, err := rel.Join(kl, kr, rel.AndOf(pred...), rel.JoinOptions{How: rel.InnerJoin, RenameAll: true})
	if err != nil {
		return nil, err
	}
	links, err := rel.SelectColumns(joined, linkage.LinkLeftCol, linkage.LinkRightCol)
	if err != nil {
		return nil, err
	}

	lk, err := linkage.New(left, rightOp, links)
	if err != nil {
		return nil, err
	}
	// Suppression only runs for positive MaxPairs; whenever it did not run,
	// the join is fully reproducible as a condition.
	if k.MaxPairs <= 0 {
		lk = lk.WithCondition(k.condition(task))
	}
	return lk, nil
}

// condition reproduces the link join as a composable condition. Only valid
// without suppression, which cannot be expressed as a row-pair predicate.
func (k *KeyLinker) condition(task Task) joins.Condition {
	cond := joins.Condition(joins.MultiKeyCondition{Keys: k.Keys})
	if task == TaskDedupe {
		cond = joins.NewAndCondition(cond, orderedIDs())
	}
	return cond
}

// suppressCommonKeys drops every record whose key tuple would generate more
// than maxPairs pairs, on both sides consistently.
func suppressCommonKeys(kl, kr rel.Table, keys []resolvedKey, task Task, maxPairs int64) (rel.Table, rel.Table, error) {
	counts, err := pairCounts(kl, kr, keys, task)
	if err != nil {
		return nil, nil, err
	}
	over, err := rel.Filter(counts, &rel.Lt{L: rel.Lit(maxPairs), R: rel.Col("n")})
	if err != nil {
		return nil, nil, err
	}
	rename := make(map[string]string, len(keys))
	bnames := make([]string, len(keys))
	for i, key := range keys {
		bnames[i] = scratchCol()
		rename[key.name] = bnames[i]
	}
	bad, err := rel.Rename(over, rename)
	if err != nil {
		return nil, nil, err
	}
	on := make([]rel.Expr, len(keys))
	for i, key := range keys {
		on[i] = &rel.Eq{L: rel.LCol(key.name), R: rel.RCol(bnames[i])}
	}
	klOut, err := rel.Join(kl, bad, rel.AndOf(on...), rel.JoinOptions{How: rel.AntiJoin})
	if err != nil {
		return nil, nil, err
	}
	krOut, err := rel.Join(kr, bad, rel.AndOf(on...), rel.JoinOptions{How: rel.AntiJoin})
	if err != nil {
		return nil, nil, err
	}
	return klOut, krOut, nil
}

// scratchCol generates a column name that cannot collide with user columns.
func scratchCol() string {
	return "tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
