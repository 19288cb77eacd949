package rel

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(cols ...arrow.Field) *arrow.Schema {
	return arrow.NewSchema(cols, nil)
}

func mustTable(t *testing.T, schema *arrow.Schema, rows [][]any) Table {
	t.Helper()
	tbl, err := NewTable(schema, rows)
	require.NoError(t, err)
	return tbl
}

func peopleTable(t *testing.T) Table {
	schema := testSchema(
		arrow.Field{Name: "record_id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "zip", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	return mustTable(t, schema, [][]any{
		{0, "alice", "10001"},
		{1, "bob", "10001"},
		{2, "alice", nil},
		{3, nil, "94105"},
	})
}

func TestNewTableNormalizesValues(t *testing.T) {
	schema := testSchema(
		arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "b", Type: arrow.PrimitiveTypes.Float32},
	)
	tbl := mustTable(t, schema, [][]any{{int32(7), float32(1.5)}})
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, tbl.Schema().Field(0).Type))
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, tbl.Schema().Field(1).Type))

	rows, err := Rows(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rows[0][0])
	assert.Equal(t, float64(1.5), rows[0][1])
}

func TestNewTableRejectsShapeMismatch(t *testing.T) {
	schema := testSchema(arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int64})
	_, err := NewTable(schema, [][]any{{1, 2}})
	assert.Error(t, err)
}

func TestFilterNullPredicateDropsRow(t *testing.T) {
	people := peopleTable(t)
	filtered, err := Filter(people, &Eq{L: Col("name"), R: Lit("alice")})
	require.NoError(t, err)
	rows, err := Rows(context.Background(), filtered)
	require.NoError(t, err)
	// Row 3 has a NULL name; the comparison is NULL and the row is dropped.
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0][0])
	assert.Equal(t, int64(2), rows[1][0])
}

func TestSelectComputedColumn(t *testing.T) {
	people := peopleTable(t)
	upper, err := Select(people,
		C("record_id"),
		As("name_tag", &Func{
			Name:  "tag",
			Type:  arrow.BinaryTypes.String,
			Table: Unbound,
			Fn: func(row map[string]Value) (Value, error) {
				if row["name"] == nil {
					return nil, nil
				}
				return "p:" + row["name"].(string), nil
			},
		}),
	)
	require.NoError(t, err)
	rows, err := Rows(context.Background(), upper)
	require.NoError(t, err)
	assert.Equal(t, "p:alice", rows[0][1])
	assert.Nil(t, rows[3][1])
}

func TestSelectUnknownColumnFailsEagerly(t *testing.T) {
	_, err := Select(peopleTable(t), C("nope"))
	assert.Error(t, err)
}

func TestJoinHashEquality(t *testing.T) {
	left := peopleTable(t)
	right := View(left)
	joined, err := Join(left, right,
		AndOf(
			&Eq{L: LCol("zip"), R: RCol("zip")},
			&Lt{L: LCol("record_id"), R: RCol("record_id")},
		),
		JoinOptions{How: InnerJoin, RenameAll: true},
	)
	require.NoError(t, err)

	alg, err := JoinAlgorithm(left, right, AndOf(
		&Eq{L: LCol("zip"), R: RCol("zip")},
		&Lt{L: LCol("record_id"), R: RCol("record_id")},
	))
	require.NoError(t, err)
	assert.Equal(t, HashJoin, alg)

	rows, err := Rows(context.Background(), joined)
	require.NoError(t, err)
	// Only (0, 1) share a zip; the NULL zip on row 2 never matches itself.
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0][0])
	assert.Equal(t, int64(1), rows[0][3])
}

func TestJoinNullKeysNeverMatch(t *testing.T) {
	left := peopleTable(t)
	joined, err := Join(left, View(left),
		&Eq{L: LCol("name"), R: RCol("name")},
		JoinOptions{How: InnerJoin, RenameAll: true},
	)
	require.NoError(t, err)
	rows, err := Rows(context.Background(), joined)
	require.NoError(t, err)
	// alice matches alice (2x2 = 4 pairs), bob matches bob, NULL matches nothing.
	assert.Len(t, rows, 5)
}

func TestJoinNestedLoopFallback(t *testing.T) {
	left := peopleTable(t)
	pred := &Lt{L: LCol("record_id"), R: RCol("record_id")}
	alg, err := JoinAlgorithm(left, View(left), pred)
	require.NoError(t, err)
	assert.Equal(t, NestedLoopJoin, alg)

	joined, err := Join(left, View(left), pred, JoinOptions{RenameAll: true})
	require.NoError(t, err)
	n, err := Count(context.Background(), joined)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n) // C(4, 2)
}

func TestJoinAlgorithmConstants(t *testing.T) {
	left := peopleTable(t)
	alg, err := JoinAlgorithm(left, View(left), Lit(true))
	require.NoError(t, err)
	assert.Equal(t, CrossProduct, alg)

	alg, err = JoinAlgorithm(left, View(left), Lit(false))
	require.NoError(t, err)
	assert.Equal(t, EmptyResult, alg)
}

func TestSemiAndAntiJoin(t *testing.T) {
	people := peopleTable(t)
	idSchema := testSchema(arrow.Field{Name: "record_id", Type: arrow.PrimitiveTypes.Int64})
	wanted := mustTable(t, idSchema, [][]any{{0}, {2}})

	semi, err := Join(people, wanted,
		&Eq{L: LCol("record_id"), R: RCol("record_id")},
		JoinOptions{How: SemiJoin})
	require.NoError(t, err)
	rows, err := Rows(context.Background(), semi)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Semi join keeps the left schema.
	assert.Equal(t, people.Schema().NumFields(), semi.Schema().NumFields())

	anti, err := Join(people, wanted,
		&Eq{L: LCol("record_id"), R: RCol("record_id")},
		JoinOptions{How: AntiJoin})
	require.NoError(t, err)
	rows, err = Rows(context.Background(), anti)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Equal(t, int64(3), rows[1][0])
}

func TestLeftOuterJoinPadsNulls(t *testing.T) {
	people := peopleTable(t)
	idSchema := testSchema(
		arrow.Field{Name: "record_id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "flag", Type: arrow.BinaryTypes.String},
	)
	flags := mustTable(t, idSchema, [][]any{{0, "x"}})
	joined, err := Join(people, flags,
		&Eq{L: LCol("record_id"), R: RCol("record_id")},
		JoinOptions{How: LeftOuterJoin})
	require.NoError(t, err)
	rows, err := Rows(context.Background(), joined)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "x", rows[0][4])
	assert.Nil(t, rows[1][4])
}

func TestAmbiguousUnboundColumnInJoin(t *testing.T) {
	people := peopleTable(t)
	_, err := JoinAlgorithm(people, View(people), &Eq{L: Col("zip"), R: Lit("10001")})
	assert.ErrorContains(t, err, "ambiguous")
}

func TestLargeIntegerComparisonsStayExact(t *testing.T) {
	schema := testSchema(
		arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "b", Type: arrow.PrimitiveTypes.Int64},
	)
	base := int64(1) << 62
	tbl := mustTable(t, schema, [][]any{
		{base, base + 1},
		{base, base},
	})

	// base and base+1 round to the same float64; equality must still tell
	// them apart.
	eq, err := Filter(tbl, &Eq{L: Col("a"), R: Col("b")})
	require.NoError(t, err)
	rows, err := Rows(context.Background(), eq)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, base, rows[0][1])

	lt, err := Filter(tbl, &Lt{L: Col("a"), R: Col("b")})
	require.NoError(t, err)
	rows, err = Rows(context.Background(), lt)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, base+1, rows[0][1])

	// Cross-sign integer comparison is also integral.
	mixed, err := Filter(tbl, &Eq{L: Col("a"), R: Lit(uint64(base))})
	require.NoError(t, err)
	rows, err = Rows(context.Background(), mixed)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSetOperations(t *testing.T) {
	schema := testSchema(arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int64})
	a := mustTable(t, schema, [][]any{{1}, {2}, {2}, {3}})
	b := mustTable(t, schema, [][]any{{2}, {3}, {4}})
	ctx := context.Background()

	u, err := Union(a, b, false)
	require.NoError(t, err)
	n, err := Count(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	ud, err := Union(a, b, true)
	require.NoError(t, err)
	n, err = Count(ctx, ud)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	in, err := Intersect(a, b)
	require.NoError(t, err)
	rows, err := Rows(ctx, in)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	diff, err := Difference(a, b)
	require.NoError(t, err)
	rows, err = Rows(ctx, diff)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0])
}

func TestSetOperationSchemaMismatch(t *testing.T) {
	a := mustTable(t, testSchema(arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int64}), nil)
	b := mustTable(t, testSchema(arrow.Field{Name: "v", Type: arrow.BinaryTypes.String}), nil)
	_, err := Union(a, b, false)
	assert.Error(t, err)
}

func TestGroupByAggregates(t *testing.T) {
	people := peopleTable(t)
	grouped, err := GroupBy(people, []string{"zip"},
		CountAgg("n"),
		MinAgg("min_id", "record_id"),
		CountDistinctAgg("n_names", "name"),
		CollectAgg("names", "name"),
	)
	require.NoError(t, err)
	rows, err := Rows(context.Background(), grouped)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byZip := map[Value]Row{}
	for _, r := range rows {
		byZip[r[0]] = r
	}
	z := byZip["10001"]
	assert.Equal(t, int64(2), z[1])
	assert.Equal(t, int64(0), z[2])
	assert.Equal(t, int64(2), z[3])
	assert.Equal(t, []Value{"alice", "bob"}, z[4])

	// NULL zips form their own group, and NULL names don't count as distinct.
	nullGroup := byZip[nil]
	require.NotNil(t, nullGroup)
	assert.Equal(t, int64(1), nullGroup[1])

	sf := byZip["94105"]
	assert.Equal(t, int64(0), sf[3])
}

func TestOrderByNullsLast(t *testing.T) {
	people := peopleTable(t)
	ordered, err := OrderBy(people, Desc("name"), Asc("record_id"))
	require.NoError(t, err)
	rows, err := Rows(context.Background(), ordered)
	require.NoError(t, err)
	assert.Equal(t, "bob", rows[0][1])
	assert.Equal(t, "alice", rows[1][1])
	assert.Equal(t, "alice", rows[2][1])
	assert.Nil(t, rows[3][1])
}

func TestDistinctTreatsNullsEqual(t *testing.T) {
	schema := testSchema(arrow.Field{Name: "v", Type: arrow.BinaryTypes.String, Nullable: true})
	tbl := mustTable(t, schema, [][]any{{"a"}, {nil}, {"a"}, {nil}})
	rows, err := Rows(context.Background(), Distinct(tbl))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestWithRowNumber(t *testing.T) {
	people := peopleTable(t)
	numbered, err := WithRowNumber(people, "rn")
	require.NoError(t, err)
	rows, err := Rows(context.Background(), numbered)
	require.NoError(t, err)
	for i, r := range rows {
		assert.Equal(t, int64(i), r[len(r)-1])
	}

	_, err = WithRowNumber(people, "name")
	assert.Error(t, err)
}

func TestCacheBoundsRecomputation(t *testing.T) {
	people := peopleTable(t)
	filtered, err := Filter(people, &Eq{L: Col("zip"), R: Lit("10001")})
	require.NoError(t, err)
	cached, err := Cache(context.Background(), filtered)
	require.NoError(t, err)
	n, err := Count(context.Background(), cached)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, cached.Schema().Equal(filtered.Schema()))
}

func TestRecordRoundTrip(t *testing.T) {
	people := peopleTable(t)
	ctx := context.Background()
	rec, err := ToRecord(ctx, people, memory.NewGoAllocator())
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(4), rec.NumRows())

	back, err := FromRecord(rec)
	require.NoError(t, err)
	rows, err := Rows(ctx, back)
	require.NoError(t, err)
	orig, err := Rows(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, orig, rows)
}

func TestLazyEvaluationDefersDataErrors(t *testing.T) {
	schema := testSchema(
		arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "b", Type: arrow.BinaryTypes.String},
	)
	tbl := mustTable(t, schema, [][]any{{1, "x"}})
	// Comparing an int column to a string literal is a data error: the
	// expression builds fine, materialization fails.
	bad, err := Filter(tbl, &Lt{L: Col("a"), R: Lit("x")})
	require.NoError(t, err)
	_, err = Rows(context.Background(), bad)
	assert.Error(t, err)
}
