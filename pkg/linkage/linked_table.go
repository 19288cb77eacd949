package linkage

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/TFMV/entlink/pkg/rel"
)

// LinkedTable is one side of a Linkage augmented with knowledge of the other
// side and the links bridge. It does not own the underlying tables; it is a
// view over shared, immutable relations.
type LinkedTable struct {
	table   rel.Table
	other   rel.Table
	links   rel.Table
	selfID  string
	otherID string
}

// Table unwraps this side's record table.
func (t *LinkedTable) Table() rel.Table { return t.table }

// WithNLinks appends a column counting each record's matched partners,
// zero for unmatched records.
func (t *LinkedTable) WithNLinks(name string) (rel.Table, error) {
	if rel.HasColumn(t.table, name) {
		return nil, fmt.Errorf("column %q already exists", name)
	}
	counts, err := rel.GroupBy(t.links, []string{t.selfID}, rel.CountAgg(name))
	if err != nil {
		return nil, err
	}
	tmp := tmpCol()
	counts, err = rel.Rename(counts, map[string]string{t.selfID: tmp})
	if err != nil {
		return nil, err
	}
	joined, err := rel.Join(t.table, counts,
		&rel.Eq{L: rel.LCol(RecordIDCol), R: rel.RCol(tmp)},
		rel.JoinOptions{How: rel.LeftOuterJoin})
	if err != nil {
		return nil, err
	}
	filled, err := coalesceColumn(joined, name, arrow.PrimitiveTypes.Int64, int64(0))
	if err != nil {
		return nil, err
	}
	return rel.DropColumns(filled, tmp)
}

// LinkCounts returns the histogram of the link-count distribution: for each
// possible number of links, how many records have that many. Records with no
// links appear in the zero bucket. Ordered by n_links descending.
func (t *LinkedTable) LinkCounts() (*LinkCountsTable, error) {
	withN, err := t.WithNLinks("n_links")
	if err != nil {
		return nil, err
	}
	hist, err := rel.GroupBy(withN, []string{"n_links"}, rel.CountAgg("n_records"))
	if err != nil {
		return nil, err
	}
	ordered, err := rel.OrderBy(hist, rel.Desc("n_links"))
	if err != nil {
		return nil, err
	}
	return &LinkCountsTable{CountsTable: CountsTable{table: ordered, nCol: "n_records"}}, nil
}

// FilterByNLinks keeps records whose link count is within [min, max].
func (t *LinkedTable) FilterByNLinks(min, max int64) (rel.Table, error) {
	tmp := tmpCol()
	withN, err := t.WithNLinks(tmp)
	if err != nil {
		return nil, err
	}
	filtered, err := rel.Filter(withN, rel.AndOf(
		rel.NotOf(&rel.Lt{L: rel.Col(tmp), R: rel.Lit(min)}),
		rel.NotOf(&rel.Lt{L: rel.Lit(max), R: rel.Col(tmp)}),
	))
	if err != nil {
		return nil, err
	}
	return rel.DropColumns(filtered, tmp)
}

// WithManyLinkedValues appends, for each item, a list column collecting that
// expression's value over every linked record on the other side. Unmatched
// records get empty lists.
func (t *LinkedTable) WithManyLinkedValues(items ...rel.NamedExpr) (rel.Table, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one value expression is required")
	}
	types := make([]arrow.DataType, len(items))
	for i, item := range items {
		typ, err := rel.InferType(item.Expr, t.other)
		if err != nil {
			return nil, fmt.Errorf("value %q against the other side: %w", item.Name, err)
		}
		types[i] = typ
	}

	joined, err := t.linkedValues(items)
	if err != nil {
		return nil, err
	}
	aggs := make([]rel.Agg, len(items))
	for i, item := range items {
		aggs[i] = rel.CollectAgg(item.Name, item.Name)
	}
	grouped, err := rel.GroupBy(joined, []string{t.selfID}, aggs...)
	if err != nil {
		return nil, err
	}
	tmp := tmpCol()
	grouped, err = rel.Rename(grouped, map[string]string{t.selfID: tmp})
	if err != nil {
		return nil, err
	}
	out, err := rel.Join(t.table, grouped,
		&rel.Eq{L: rel.LCol(RecordIDCol), R: rel.RCol(tmp)},
		rel.JoinOptions{How: rel.LeftOuterJoin})
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		out, err = coalesceColumn(out, item.Name, arrow.ListOf(types[i]), []rel.Value{})
		if err != nil {
			return nil, err
		}
	}
	return rel.DropColumns(out, tmp)
}

// WithSingleLinkedValues returns the records that have exactly one link,
// with each item's value pulled from the single linked record on the other
// side.
func (t *LinkedTable) WithSingleLinkedValues(items ...rel.NamedExpr) (rel.Table, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one value expression is required")
	}
	tmpN := tmpCol()
	counts, err := rel.GroupBy(t.links, []string{t.selfID}, rel.CountAgg(tmpN))
	if err != nil {
		return nil, err
	}
	singles, err := rel.Filter(counts, &rel.Eq{L: rel.Col(tmpN), R: rel.Lit(1)})
	if err != nil {
		return nil, err
	}
	singleLinks, err := rel.Join(t.links, singles,
		&rel.Eq{L: rel.LCol(t.selfID), R: rel.RCol(t.selfID)},
		rel.JoinOptions{How: rel.SemiJoin})
	if err != nil {
		return nil, err
	}

	joined, err := linkedValuesOf(singleLinks, t.other, t.otherID, items)
	if err != nil {
		return nil, err
	}
	tmp := tmpCol()
	projItems := make([]rel.NamedExpr, 0, len(items)+1)
	projItems = append(projItems, rel.As(tmp, rel.Col(t.selfID)))
	for _, item := range items {
		projItems = append(projItems, rel.C(item.Name))
	}
	proj, err := rel.Select(joined, projItems...)
	if err != nil {
		return nil, err
	}
	out, err := rel.Join(t.table, proj,
		&rel.Eq{L: rel.LCol(RecordIDCol), R: rel.RCol(tmp)},
		rel.JoinOptions{How: rel.InnerJoin})
	if err != nil {
		return nil, err
	}
	return rel.DropColumns(out, tmp)
}

// linkedValues joins the links with a projection of the other side, yielding
// one row per link carrying this side's id and the item values.
func (t *LinkedTable) linkedValues(items []rel.NamedExpr) (rel.Table, error) {
	return linkedValuesOf(t.links, t.other, t.otherID, items)
}

func linkedValuesOf(links, other rel.Table, otherID string, items []rel.NamedExpr) (rel.Table, error) {
	tmp := tmpCol()
	projItems := make([]rel.NamedExpr, 0, len(items)+1)
	projItems = append(projItems, rel.As(tmp, rel.Col(RecordIDCol)))
	projItems = append(projItems, items...)
	proj, err := rel.Select(other, projItems...)
	if err != nil {
		return nil, err
	}
	joined, err := rel.Join(links, proj,
		&rel.Eq{L: rel.LCol(otherID), R: rel.RCol(tmp)},
		rel.JoinOptions{How: rel.InnerJoin})
	if err != nil {
		return nil, err
	}
	return rel.DropColumns(joined, tmp)
}

// coalesceColumn replaces NULLs in a column with a default value.
func coalesceColumn(t rel.Table, name string, typ arrow.DataType, def rel.Value) (rel.Table, error) {
	return rel.Mutate(t, rel.As(name, &rel.Func{
		Name: "coalesce",
		Type: typ,
		Fn: func(row map[string]rel.Value) (rel.Value, error) {
			if row[name] == nil {
				return def, nil
			}
			return row[name], nil
		},
	}))
}
