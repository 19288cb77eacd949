package linkage

import (
	"context"
	"sort"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/entlink/pkg/rel"
)

func makeTable(t *testing.T, fields []arrow.Field, rows [][]any) rel.Table {
	t.Helper()
	tbl, err := rel.NewTable(arrow.NewSchema(fields, nil), rows)
	require.NoError(t, err)
	return tbl
}

func idField() arrow.Field {
	return arrow.Field{Name: "record_id", Type: arrow.PrimitiveTypes.Int64}
}

func sampleLinkage(t *testing.T) *Linkage {
	left := makeTable(t, []arrow.Field{
		idField(),
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, [][]any{
		{0, "alice"},
		{1, "bob"},
		{2, "carol"},
	})
	right := makeTable(t, []arrow.Field{
		idField(),
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "city", Type: arrow.BinaryTypes.String, Nullable: true},
	}, [][]any{
		{10, "alice", "nyc"},
		{11, "alice", "sf"},
		{12, "bob", "chi"},
	})
	links := makeTable(t, []arrow.Field{
		{Name: "record_id_l", Type: arrow.PrimitiveTypes.Int64},
		{Name: "record_id_r", Type: arrow.PrimitiveTypes.Int64},
	}, [][]any{
		{0, 10},
		{0, 11},
		{1, 12},
	})
	lk, err := New(left, right, links)
	require.NoError(t, err)
	return lk
}

func linkPairs(t *testing.T, links rel.Table) [][2]int64 {
	t.Helper()
	ids, err := rel.SelectColumns(links, "record_id_l", "record_id_r")
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), ids)
	require.NoError(t, err)
	out := make([][2]int64, len(rows))
	for i, r := range rows {
		out[i] = [2]int64{r[0].(int64), r[1].(int64)}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a][0] != out[b][0] {
			return out[a][0] < out[b][0]
		}
		return out[a][1] < out[b][1]
	})
	return out
}

func TestNewValidatesRequiredColumns(t *testing.T) {
	good := sampleLinkage(t)

	noID := makeTable(t, []arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	_, err := New(noID, good.Right, good.Links)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_id")

	badLinks := makeTable(t, []arrow.Field{
		{Name: "record_id_l", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	_, err = New(good.Left, good.Right, badLinks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_id_r")
}

func TestNewValidatesIDComparability(t *testing.T) {
	good := sampleLinkage(t)
	stringLinks := makeTable(t, []arrow.Field{
		{Name: "record_id_l", Type: arrow.BinaryTypes.String},
		{Name: "record_id_r", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	_, err := New(good.Left, good.Right, stringLinks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not comparable")
}

func TestFromPredicatesSynthesizesRecordIDs(t *testing.T) {
	tl := makeTable(t, []arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Int64},
	}, [][]any{{1}, {2}, {3}})
	tr := makeTable(t, []arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Int64},
	}, [][]any{{1}, {2}, {2}})

	lk, err := FromPredicates(tl, tr, "x")
	require.NoError(t, err)

	assert.True(t, rel.HasColumn(lk.Left, "record_id"))
	assert.True(t, rel.HasColumn(lk.Right, "record_id"))

	// x=1 matches once, x=2 matches the two right rows, x=3 matches nothing.
	n, err := rel.Count(context.Background(), lk.Links)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLinksTableProjections(t *testing.T) {
	lk := sampleLinkage(t)
	lt := lk.LinksTable()

	withLeft, err := lt.WithLeft("name")
	require.NoError(t, err)
	assert.True(t, rel.HasColumn(withLeft, "name_l"))
	rows, err := rel.Rows(context.Background(), withLeft)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	withBoth, err := lt.WithBoth()
	require.NoError(t, err)
	for _, col := range []string{"record_id_l", "record_id_r", "name_l", "name_r", "city_r"} {
		assert.True(t, rel.HasColumn(withBoth, col), "missing %s", col)
	}
}

func TestWithNLinksDefaultsToZero(t *testing.T) {
	lk := sampleLinkage(t)
	withN, err := lk.LeftLinked().WithNLinks("n_links")
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), withN)
	require.NoError(t, err)
	counts := map[int64]int64{}
	for _, r := range rows {
		counts[r[0].(int64)] = r[len(r)-1].(int64)
	}
	assert.Equal(t, int64(2), counts[0])
	assert.Equal(t, int64(1), counts[1])
	assert.Equal(t, int64(0), counts[2]) // carol is unmatched
}

func TestLinkCountsHistogram(t *testing.T) {
	lk := sampleLinkage(t)
	hist, err := lk.LeftLinked().LinkCounts()
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), hist.Table())
	require.NoError(t, err)
	// One record with 2 links, one with 1, one with 0; descending by n_links.
	require.Len(t, rows, 3)
	assert.Equal(t, rel.Row{int64(2), int64(1)}, rows[0])
	assert.Equal(t, rel.Row{int64(1), int64(1)}, rows[1])
	assert.Equal(t, rel.Row{int64(0), int64(1)}, rows[2])

	total, err := hist.NTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestWithManyLinkedValues(t *testing.T) {
	lk := sampleLinkage(t)
	out, err := lk.LeftLinked().WithManyLinkedValues(rel.C("city"))
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), out)
	require.NoError(t, err)
	cities := map[int64][]rel.Value{}
	for _, r := range rows {
		cities[r[0].(int64)] = r[len(r)-1].([]rel.Value)
	}
	assert.ElementsMatch(t, []rel.Value{"nyc", "sf"}, cities[0])
	assert.Equal(t, []rel.Value{"chi"}, cities[1])
	assert.Empty(t, cities[2])
}

func TestWithSingleLinkedValues(t *testing.T) {
	lk := sampleLinkage(t)
	out, err := lk.LeftLinked().WithSingleLinkedValues(rel.C("city"))
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), out)
	require.NoError(t, err)
	// Only bob has exactly one link.
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Equal(t, "chi", rows[0][len(rows[0])-1])
}

func TestFilterByNLinks(t *testing.T) {
	lk := sampleLinkage(t)
	out, err := lk.LeftLinked().FilterByNLinks(1, 2)
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Schema is unchanged: the scratch count column is dropped.
	assert.Equal(t, lk.Left.Schema().NumFields(), out.Schema().NumFields())
}

func TestCombinatorSetAlgebra(t *testing.T) {
	lk := sampleLinkage(t)
	mk := func(pairs [][]any) *Linkage {
		links := makeTable(t, []arrow.Field{
			{Name: "record_id_l", Type: arrow.PrimitiveTypes.Int64},
			{Name: "record_id_r", Type: arrow.PrimitiveTypes.Int64},
		}, pairs)
		out, err := New(lk.Left, lk.Right, links)
		require.NoError(t, err)
		return out
	}
	a := mk([][]any{{0, 10}, {0, 11}, {1, 12}})
	b := mk([][]any{{0, 11}, {2, 12}})

	u, err := Union(a, b)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{0, 10}, {0, 11}, {1, 12}, {2, 12}}, linkPairs(t, u.Links))

	in, err := Intersect(a, b)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{0, 11}}, linkPairs(t, in.Links))

	d, err := Difference(a, b)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{0, 10}, {1, 12}}, linkPairs(t, d.Links))
}

func TestIntersectPrefersConditionAnd(t *testing.T) {
	left := makeTable(t, []arrow.Field{
		idField(),
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "email", Type: arrow.BinaryTypes.String, Nullable: true},
	}, [][]any{
		{0, "alice", "a@x.com"},
		{1, "bob", "b@x.com"},
	})
	right := makeTable(t, []arrow.Field{
		idField(),
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "email", Type: arrow.BinaryTypes.String, Nullable: true},
	}, [][]any{
		{10, "alice", "a@x.com"},
		{11, "bob", "not-b@x.com"},
	})

	byName, err := FromJoinCondition(left, right, "name")
	require.NoError(t, err)
	byEmail, err := FromJoinCondition(left, right, "email")
	require.NoError(t, err)

	in, err := Intersect(byName, byEmail)
	require.NoError(t, err)
	// The result carries an ANDed condition, proving the single-join path ran.
	_, hasCond := in.Condition()
	assert.True(t, hasCond)
	assert.Equal(t, [][2]int64{{0, 10}}, linkPairs(t, in.Links))
}

func TestCombinatorRejectsMismatchedOperands(t *testing.T) {
	lk := sampleLinkage(t)
	other := makeTable(t, []arrow.Field{
		idField(),
		{Name: "different", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	mismatched, err := New(other, lk.Right, lk.Links)
	require.NoError(t, err)
	_, err = Union(lk, mismatched)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left table schema")
}

func TestParquetRoundTrip(t *testing.T) {
	lk := sampleLinkage(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, lk.ToParquets(ctx, dir))
	back, err := FromParquets(ctx, dir)
	require.NoError(t, err)

	for _, pair := range []struct {
		name string
		a, b rel.Table
	}{
		{"left", lk.Left, back.Left},
		{"right", lk.Right, back.Right},
		{"links", lk.Links, back.Links},
	} {
		wantRows, err := rel.Rows(ctx, pair.a)
		require.NoError(t, err)
		gotRows, err := rel.Rows(ctx, pair.b)
		require.NoError(t, err)
		assert.ElementsMatch(t, wantRows, gotRows, pair.name)
		require.Equal(t, pair.a.Schema().NumFields(), pair.b.Schema().NumFields(), "%s schema", pair.name)
		for i, f := range pair.a.Schema().Fields() {
			got := pair.b.Schema().Field(i)
			assert.Equal(t, f.Name, got.Name, "%s field %d", pair.name, i)
			assert.True(t, arrow.TypeEqual(f.Type, got.Type), "%s field %q type", pair.name, f.Name)
		}
	}
}

func TestAbstractCacheIsNoOp(t *testing.T) {
	lk := sampleLinkage(t).Abstract()
	cached, err := lk.Cache(context.Background())
	require.NoError(t, err)
	assert.Same(t, lk, cached)
}
