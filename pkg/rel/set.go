package rel

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

type setOp int

const (
	opUnion setOp = iota
	opIntersect
	opDifference
)

type setTable struct {
	left, right Table
	op          setOp
	distinct    bool
}

func (t *setTable) Schema() *arrow.Schema { return t.left.Schema() }

func (t *setTable) execute(ctx context.Context) ([]Row, error) {
	lrows, err := t.left.execute(ctx)
	if err != nil {
		return nil, err
	}
	rrows, err := t.right.execute(ctx)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case opUnion:
		out := make([]Row, 0, len(lrows)+len(rrows))
		out = append(out, lrows...)
		out = append(out, rrows...)
		if !t.distinct {
			return out, nil
		}
		seen := make(map[string]bool, len(out))
		dedup := out[:0]
		for _, r := range out {
			key, _ := encodeKey(r)
			if seen[key] {
				continue
			}
			seen[key] = true
			dedup = append(dedup, r)
		}
		return dedup, nil
	case opIntersect:
		inRight := make(map[string]bool, len(rrows))
		for _, r := range rrows {
			key, _ := encodeKey(r)
			inRight[key] = true
		}
		emitted := make(map[string]bool, len(lrows))
		var out []Row
		for _, r := range lrows {
			key, _ := encodeKey(r)
			if inRight[key] && !emitted[key] {
				emitted[key] = true
				out = append(out, r)
			}
		}
		return out, nil
	default:
		inRight := make(map[string]bool, len(rrows))
		for _, r := range rrows {
			key, _ := encodeKey(r)
			inRight[key] = true
		}
		emitted := make(map[string]bool, len(lrows))
		var out []Row
		for _, r := range lrows {
			key, _ := encodeKey(r)
			if inRight[key] || emitted[key] {
				continue
			}
			emitted[key] = true
			out = append(out, r)
		}
		return out, nil
	}
}

func checkSetCompatible(left, right Table) error {
	ls, rs := left.Schema(), right.Schema()
	if ls.NumFields() != rs.NumFields() {
		return fmt.Errorf("set operation requires equal column counts, got %d and %d", ls.NumFields(), rs.NumFields())
	}
	for i := 0; i < ls.NumFields(); i++ {
		lf, rf := ls.Field(i), rs.Field(i)
		if !arrow.TypeEqual(lf.Type, rf.Type) {
			return fmt.Errorf("set operation column %d type mismatch: %s (%s) vs %s (%s)",
				i, lf.Name, lf.Type, rf.Name, rf.Type)
		}
	}
	return nil
}

// Union concatenates two compatible tables. With distinct, duplicate rows
// (NULLs comparing equal) collapse to one.
func Union(left, right Table, distinct bool) (Table, error) {
	if err := checkSetCompatible(left, right); err != nil {
		return nil, err
	}
	return &setTable{left: left, right: right, op: opUnion, distinct: distinct}, nil
}

// Intersect keeps the distinct rows present in both tables.
func Intersect(left, right Table) (Table, error) {
	if err := checkSetCompatible(left, right); err != nil {
		return nil, err
	}
	return &setTable{left: left, right: right, op: opIntersect, distinct: true}, nil
}

// Difference keeps the distinct left rows absent from the right table.
func Difference(left, right Table) (Table, error) {
	if err := checkSetCompatible(left, right); err != nil {
		return nil, err
	}
	return &setTable{left: left, right: right, op: opDifference, distinct: true}, nil
}
