package cluster

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

// Partitioner assigns every record of a Linkage to an entity: the connected
// component of the graph whose edges are the links. For link tasks, left and
// right records live in disjoint node domains, so a left id and a right id
// that happen to be equal stay distinct nodes. For dedupe tasks both sides
// are the same records and share one domain.
type Partitioner struct {
	// MaxIter bounds the propagation rounds, see Options.MaxIter.
	MaxIter int
	// Dedupe marks both sides as the same record set: equal ids are the
	// same node.
	Dedupe bool
}

// Partition labels both sides. The returned tables have columns record_id
// (the side's original id type) and component (a dense int64 entity label,
// shared across sides).
func (p *Partitioner) Partition(ctx context.Context, lk *linkage.Linkage) (left, right rel.Table, err error) {
	leftIDs, err := sideIDs(ctx, lk.Left)
	if err != nil {
		return nil, nil, fmt.Errorf("left table: %w", err)
	}
	rightIDs, err := sideIDs(ctx, lk.Right)
	if err != nil {
		return nil, nil, fmt.Errorf("right table: %w", err)
	}

	// Dense node domain: left ids occupy [0, nLeft); right ids follow,
	// except that under dedupe an id already seen on the left is the same
	// node.
	leftDense := make(map[string]int64, len(leftIDs))
	leftNodes := make([]int64, len(leftIDs))
	for i, id := range leftIDs {
		leftDense[idKey(id)] = int64(i)
		leftNodes[i] = int64(i)
	}
	next := int64(len(leftIDs))
	rightDense := make(map[string]int64, len(rightIDs))
	rightNodes := make([]int64, len(rightIDs))
	for i, id := range rightIDs {
		k := idKey(id)
		if p.Dedupe {
			if d, ok := leftDense[k]; ok {
				rightDense[k] = d
				rightNodes[i] = d
				continue
			}
		}
		rightDense[k] = next
		rightNodes[i] = next
		next++
	}

	linkRows, err := rel.Rows(ctx, lk.Links)
	if err != nil {
		return nil, nil, err
	}
	li := lk.Links.Schema().FieldIndices(linkage.LinkLeftCol)
	ri := lk.Links.Schema().FieldIndices(linkage.LinkRightCol)
	edgeRows := make([][]any, 0, len(linkRows))
	for _, r := range linkRows {
		l, ok := leftDense[idKey(r[li[0]])]
		if !ok {
			return nil, nil, fmt.Errorf("link references unknown left record_id %v", r[li[0]])
		}
		rr, ok := rightDense[idKey(r[ri[0]])]
		if !ok {
			return nil, nil, fmt.Errorf("link references unknown right record_id %v", r[ri[0]])
		}
		edgeRows = append(edgeRows, []any{l, rr})
	}
	edges, err := rel.NewTable(denseSchema("src", "dst"), edgeRows)
	if err != nil {
		return nil, nil, err
	}

	// Every record is a node; unlinked records become singleton components.
	nodes := make([]rel.Value, 0, int(next))
	for d := int64(0); d < next; d++ {
		nodes = append(nodes, d)
	}
	components, err := ConnectedComponents(ctx, edges, Options{MaxIter: p.MaxIter, Nodes: nodes})
	if err != nil {
		return nil, nil, err
	}
	compRows, err := rel.Rows(ctx, components)
	if err != nil {
		return nil, nil, err
	}
	comp := make(map[int64]int64, len(compRows))
	for _, r := range compRows {
		comp[r[0].(int64)] = r[1].(int64)
	}

	left, err = sideResult(lk.Left, leftIDs, leftNodes, comp)
	if err != nil {
		return nil, nil, err
	}
	right, err = sideResult(lk.Right, rightIDs, rightNodes, comp)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// sideIDs materializes a record table's id column.
func sideIDs(ctx context.Context, t rel.Table) ([]rel.Value, error) {
	idx := t.Schema().FieldIndices(linkage.RecordIDCol)
	if len(idx) == 0 {
		return nil, fmt.Errorf("missing %q column", linkage.RecordIDCol)
	}
	rows, err := rel.Rows(ctx, t)
	if err != nil {
		return nil, err
	}
	out := make([]rel.Value, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, r := range rows {
		id := r[idx[0]]
		if id == nil {
			return nil, fmt.Errorf("%s may not be NULL", linkage.RecordIDCol)
		}
		k := idKey(id)
		if seen[k] {
			return nil, fmt.Errorf("duplicate %s %v", linkage.RecordIDCol, id)
		}
		seen[k] = true
		out[i] = id
	}
	return out, nil
}

// idKey canonicalizes an id for map lookup so numerically equal ids collide
// even when the record and link columns normalized to different widths,
// matching join equality.
func idKey(v rel.Value) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		if x <= math.MaxInt64 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatUint(x, 10)
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x <= math.MaxInt64 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "s:" + x
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

func sideResult(t rel.Table, ids []rel.Value, nodes []int64, comp map[int64]int64) (rel.Table, error) {
	idType, err := rel.FieldType(t, linkage.RecordIDCol)
	if err != nil {
		return nil, err
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: linkage.RecordIDCol, Type: idType},
		{Name: "component", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id, comp[nodes[i]]}
	}
	return rel.NewTable(schema, rows)
}
