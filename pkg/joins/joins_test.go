package joins

import (
	"context"
	"errors"
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

func peoplePair(t *testing.T) (rel.Table, rel.Table) {
	left := makeTable(t, []arrow.Field{
		{Name: "record_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "email", Type: arrow.BinaryTypes.String, Nullable: true},
	}, [][]any{
		{0, "alice", "a@x.com"},
		{1, "bob", "b@x.com"},
		{2, "carol", "c@x.com"},
	})
	right := makeTable(t, []arrow.Field{
		{Name: "record_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "email", Type: arrow.BinaryTypes.String, Nullable: true},
	}, [][]any{
		{10, "alice", "a@x.com"},
		{11, "bob", "other@x.com"},
		{12, "dave", "d@x.com"},
	})
	return left, right
}

func TestResolveKeyPairString(t *testing.T) {
	left, right := peoplePair(t)
	le, re, err := ResolveKeyPair("name", left, right)
	require.NoError(t, err)
	assert.Equal(t, "name", le.String())
	assert.Equal(t, "name", re.String())
}

func TestResolveKeyPairMissingColumn(t *testing.T) {
	left, right := peoplePair(t)
	_, _, err := ResolveKeyPair("surname", left, right)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surname")
}

func TestResolveKeyPairHalves(t *testing.T) {
	left, right := peoplePair(t)
	le, re, err := ResolveKeyPair(KeyPair{Left: "name", Right: "email"}, left, right)
	require.NoError(t, err)
	assert.Equal(t, "name", le.String())
	assert.Equal(t, "email", re.String())
}

func TestResolveKeyPairUnaryResolver(t *testing.T) {
	left, right := peoplePair(t)
	resolver := func(tbl rel.Table) (rel.Expr, error) { return rel.Col("email"), nil }
	le, re, err := ResolveKeyPair(resolver, left, right)
	require.NoError(t, err)
	assert.Equal(t, "email", le.String())
	assert.Equal(t, "email", re.String())
}

func TestResolveKeyPairBinaryResolver(t *testing.T) {
	left, right := peoplePair(t)
	resolver := func(l, r rel.Table) (rel.Expr, rel.Expr, error) {
		return rel.Col("name"), rel.Col("email"), nil
	}
	le, re, err := ResolveKeyPair(resolver, left, right)
	require.NoError(t, err)
	assert.Equal(t, "name", le.String())
	assert.Equal(t, "email", re.String())
}

func TestResolveKeyPairRejectsSideTaggedExpr(t *testing.T) {
	left, right := peoplePair(t)
	_, _, err := ResolveKeyPair(rel.LCol("name"), left, right)
	assert.Error(t, err)
}

func TestResolveKeyPairUnsupportedType(t *testing.T) {
	left, right := peoplePair(t)
	_, _, err := ResolveKeyPair(42, left, right)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "int")
}

func TestParseAndOfEquals(t *testing.T) {
	e := rel.AndOf(
		&rel.Eq{L: rel.LCol("name"), R: rel.RCol("name")},
		&rel.Eq{L: rel.RCol("email"), R: rel.LCol("email")},
	)
	pairs, err := ParseAndOfEquals(e)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "name", pairs[0].Left.String())
	assert.Equal(t, "name", pairs[0].Right.String())
	// Swapped operand order still lands left-half first.
	assert.Equal(t, "email", pairs[1].Left.String())
	assert.Equal(t, "email", pairs[1].Right.String())
}

func TestParseAndOfEqualsRejectsOr(t *testing.T) {
	e := &rel.Or{Operands: []rel.Expr{
		&rel.Eq{L: rel.LCol("name"), R: rel.RCol("name")},
		&rel.Eq{L: rel.LCol("email"), R: rel.RCol("email")},
	}}
	_, err := ParseAndOfEquals(e)
	var bad *BadKeyConditionError
	require.ErrorAs(t, err, &bad)
}

func TestParseAndOfEqualsRejectsMixedOperand(t *testing.T) {
	_, err := ParseAndOfEquals(&rel.Eq{L: rel.LCol("name"), R: rel.Lit("alice")})
	var bad *BadKeyConditionError
	require.ErrorAs(t, err, &bad)
	assert.Contains(t, bad.Reason, "neither")
}

func TestNewConditionDispatch(t *testing.T) {
	c, err := NewCondition(true)
	require.NoError(t, err)
	assert.IsType(t, BooleanCondition{}, c)

	c, err = NewCondition("name")
	require.NoError(t, err)
	assert.IsType(t, KeyCondition{}, c)

	c, err = NewCondition(&rel.Eq{L: rel.LCol("name"), R: rel.RCol("name")})
	require.NoError(t, err)
	assert.IsType(t, MultiKeyCondition{}, c)

	// Two column-spec-likes are one key's halves.
	c, err = NewCondition([]any{"name", "email"})
	require.NoError(t, err)
	require.IsType(t, KeyCondition{}, c)
	assert.IsType(t, KeyPair{}, c.(KeyCondition).Key)

	// Three strings are three ANDed keys.
	c, err = NewCondition([]string{"record_id", "name", "email"})
	require.NoError(t, err)
	require.IsType(t, MultiKeyCondition{}, c)
	assert.Len(t, c.(MultiKeyCondition).Keys, 3)

	_, err = NewCondition(3.14)
	assert.Error(t, err)
}

func TestKeyConditionEvaluation(t *testing.T) {
	left, right := peoplePair(t)
	cond := KeyCondition{Key: "name"}
	pred, err := cond.JoinCondition(left, right)
	require.NoError(t, err)

	joined, err := Join(left, right, cond, true)
	require.NoError(t, err)
	rows, err := rel.Rows(context.Background(), joined)
	require.NoError(t, err)
	// alice and bob share names across the two tables.
	assert.Len(t, rows, 2)

	alg, err := rel.JoinAlgorithm(left, right, pred)
	require.NoError(t, err)
	assert.Equal(t, rel.HashJoin, alg)
}

func TestAndConditionFlattens(t *testing.T) {
	a := KeyCondition{Key: "name"}
	b := KeyCondition{Key: "email"}
	inner := NewAndCondition(a, b)
	outer := NewAndCondition(inner, BooleanCondition{Value: true})
	assert.Len(t, outer.Conditions, 3)
}

func TestRemoveConditionOverlapIsLosslessAndDisjoint(t *testing.T) {
	left, right := peoplePair(t)
	ctx := context.Background()
	conds := []Condition{
		KeyCondition{Key: "name"},
		KeyCondition{Key: "email"},
	}

	pairSet := func(c Condition) map[[2]int64]int {
		joined, err := Join(left, right, c, true)
		require.NoError(t, err)
		ids, err := rel.SelectColumns(joined, "record_id_l", "record_id_r")
		require.NoError(t, err)
		rows, err := rel.Rows(ctx, ids)
		require.NoError(t, err)
		out := map[[2]int64]int{}
		for _, r := range rows {
			out[[2]int64{r[0].(int64), r[1].(int64)}]++
		}
		return out
	}

	original := map[[2]int64]int{}
	for _, c := range conds {
		for p := range pairSet(c) {
			original[p] = 1
		}
	}

	transformed := RemoveConditionOverlap(conds)
	combined := map[[2]int64]int{}
	for _, c := range transformed {
		for p, n := range pairSet(c) {
			combined[p] += n
		}
	}

	// Same pair set, and each pair produced exactly once across branches.
	require.Len(t, combined, len(original))
	for p, n := range combined {
		assert.Equal(t, 1, n, "pair %v emitted more than once", p)
		assert.Contains(t, original, p)
	}
}

func TestCheckJoinAlgorithmPolicies(t *testing.T) {
	left, right := peoplePair(t)

	err := CheckJoinAlgorithm(left, right, KeyCondition{Key: "name"}, OnSlowError)
	assert.NoError(t, err)

	cross := BooleanCondition{Value: true}
	err = CheckJoinAlgorithm(left, right, cross, OnSlowError)
	var slow *SlowJoinError
	require.ErrorAs(t, err, &slow)
	assert.Equal(t, rel.CrossProduct, slow.Algorithm)

	assert.NoError(t, CheckJoinAlgorithm(left, right, cross, OnSlowWarn))
	assert.NoError(t, CheckJoinAlgorithm(left, right, cross, OnSlowIgnore))
	assert.Error(t, CheckJoinAlgorithm(left, right, cross, OnSlow("loudly")))
}

func TestFunctionConditionPropagatesErrors(t *testing.T) {
	left, right := peoplePair(t)
	cond := FunctionCondition{
		Name: "broken",
		Fn: func(l, r rel.Table) (rel.Expr, error) {
			return nil, errors.New("no dice")
		},
	}
	_, err := cond.JoinCondition(left, right)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
