// Package cluster turns link pair sets into entity clusters: connected
// components over the record graph, and a Partitioner that applies them to
// a Linkage.
package cluster

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/TFMV/entlink/logger"
	"github.com/TFMV/entlink/pkg/rel"
)

// Options tunes the component computation.
type Options struct {
	// MaxIter bounds the number of propagation rounds. Zero runs to
	// convergence. A bounded run is still a refinement: labels only ever
	// decrease toward the component minimum, but a large-diameter component
	// may be left split across several labels.
	MaxIter int
	// Nodes lists ids that must be labeled even when no edge reaches them;
	// each isolated node becomes its own singleton component.
	Nodes []rel.Value
}

// ConnectedComponents labels every node of the undirected graph described by
// edges with its component id. The first two columns of edges are the
// endpoints; both must share a type. Ids are factorized to dense integers,
// labels are propagated by iterated min-over-neighbors until no label
// changes, and the result is mapped back: a node's component is the id of
// the smallest-factor member of its component. Each round is materialized so
// the expression tree stays flat.
func ConnectedComponents(ctx context.Context, edges rel.Table, opts Options) (rel.Table, error) {
	schema := edges.Schema()
	if schema.NumFields() < 2 {
		return nil, fmt.Errorf("edges need at least two columns, got %d", schema.NumFields())
	}
	srcField, dstField := schema.Field(0), schema.Field(1)
	if !arrow.TypeEqual(srcField.Type, dstField.Type) {
		return nil, fmt.Errorf("edge endpoint types differ: %s vs %s", srcField.Type, dstField.Type)
	}

	rows, err := rel.Rows(ctx, edges)
	if err != nil {
		return nil, err
	}

	// Factorize ids to dense ints; the dense order fixes which member names
	// the component.
	factor := make(map[rel.Value]int64)
	var ids []rel.Value
	assign := func(v rel.Value) int64 {
		if d, ok := factor[v]; ok {
			return d
		}
		d := int64(len(ids))
		factor[v] = d
		ids = append(ids, v)
		return d
	}
	var edgeRows [][]any
	for _, r := range rows {
		if r[0] == nil || r[1] == nil {
			continue
		}
		a, b := assign(r[0]), assign(r[1])
		// Symmetrize so one directed propagation pass covers both directions.
		edgeRows = append(edgeRows, []any{a, b}, []any{b, a})
	}
	for _, v := range opts.Nodes {
		if v == nil {
			continue
		}
		assign(v)
	}
	if len(ids) == 0 {
		return rel.NewTable(resultSchema(srcField.Type), nil)
	}

	labels, err := initialLabels(len(ids))
	if err != nil {
		return nil, err
	}
	if len(edgeRows) > 0 {
		edgeTable, err := rel.NewTable(denseSchema("src", "dst"), edgeRows)
		if err != nil {
			return nil, err
		}
		labels, err = propagateToFixpoint(ctx, edgeTable, labels, opts.MaxIter)
		if err != nil {
			return nil, err
		}
	}

	return unfactorize(ctx, labels, ids, srcField.Type)
}

func denseSchema(a, b string) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: a, Type: arrow.PrimitiveTypes.Int64},
		{Name: b, Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

func resultSchema(idType arrow.DataType) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "node", Type: idType},
		{Name: "component", Type: idType},
	}, nil)
}

func initialLabels(n int) (rel.Table, error) {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i), int64(i)}
	}
	return rel.NewTable(denseSchema("node", "component"), rows)
}

// propagateToFixpoint runs min-label rounds until no label changes or the
// iteration bound is hit.
func propagateToFixpoint(ctx context.Context, edges, labels rel.Table, maxIter int) (rel.Table, error) {
	log := logger.GetLogger()
	for round := 1; ; round++ {
		next, err := propagate(edges, labels)
		if err != nil {
			return nil, err
		}
		next, err = rel.Cache(ctx, next)
		if err != nil {
			return nil, err
		}
		updates, err := countUpdates(ctx, labels, next)
		if err != nil {
			return nil, err
		}
		log.Debug("components round",
			zap.Int("round", round),
			zap.Int64("updated_labels", updates))
		labels = next
		if updates == 0 {
			return labels, nil
		}
		if maxIter > 0 && round >= maxIter {
			log.Warn("components stopped before convergence",
				zap.Int("max_iter", maxIter),
				zap.Int64("updated_labels", updates))
			return labels, nil
		}
	}
}

// propagate computes each node's new label: the minimum over its own label
// and its neighbors' labels.
func propagate(edges, labels rel.Table) (rel.Table, error) {
	joined, err := rel.Join(edges, labels,
		&rel.Eq{L: rel.LCol("dst"), R: rel.RCol("node")},
		rel.JoinOptions{How: rel.InnerJoin})
	if err != nil {
		return nil, err
	}
	fromNeighbors, err := rel.Select(joined,
		rel.As("node", rel.Col("src")),
		rel.C("component"))
	if err != nil {
		return nil, err
	}
	all, err := rel.Union(fromNeighbors, labels, false)
	if err != nil {
		return nil, err
	}
	return rel.GroupBy(all, []string{"node"}, rel.MinAgg("component", "component"))
}

// countUpdates compares two materialized label tables. Labels only decrease,
// so a changed node is one whose new label is smaller.
func countUpdates(ctx context.Context, prev, next rel.Table) (int64, error) {
	prevRows, err := rel.Rows(ctx, prev)
	if err != nil {
		return 0, err
	}
	old := make(map[int64]int64, len(prevRows))
	for _, r := range prevRows {
		old[r[0].(int64)] = r[1].(int64)
	}
	nextRows, err := rel.Rows(ctx, next)
	if err != nil {
		return 0, err
	}
	var updates int64
	for _, r := range nextRows {
		if r[1].(int64) != old[r[0].(int64)] {
			updates++
		}
	}
	return updates, nil
}

// unfactorize maps dense node and component labels back to original ids.
func unfactorize(ctx context.Context, labels rel.Table, ids []rel.Value, idType arrow.DataType) (rel.Table, error) {
	rows, err := rel.Rows(ctx, labels)
	if err != nil {
		return nil, err
	}
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{ids[r[0].(int64)], ids[r[1].(int64)]}
	}
	return rel.NewTable(resultSchema(idType), out)
}
