package rel

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// AggKind selects an aggregate function.
type AggKind int

const (
	// AggCount counts rows in the group.
	AggCount AggKind = iota
	// AggMin takes the minimum non-NULL value of a column.
	AggMin
	// AggCountDistinct counts distinct non-NULL values of a column.
	AggCountDistinct
	// AggCollect gathers a column's values into a list, in input order.
	AggCollect
)

// Agg is one aggregate output of a GroupBy: the output column name, the
// function, and the input column (ignored for AggCount).
type Agg struct {
	Name   string
	Kind   AggKind
	Column string
}

// CountAgg counts group rows into the named output column.
func CountAgg(name string) Agg { return Agg{Name: name, Kind: AggCount} }

// MinAgg takes the group minimum of column into name.
func MinAgg(name, column string) Agg { return Agg{Name: name, Kind: AggMin, Column: column} }

// CountDistinctAgg counts distinct non-NULL values of column into name.
func CountDistinctAgg(name, column string) Agg {
	return Agg{Name: name, Kind: AggCountDistinct, Column: column}
}

// CollectAgg gathers column's values into a list column called name.
func CollectAgg(name, column string) Agg { return Agg{Name: name, Kind: AggCollect, Column: column} }

type groupByTable struct {
	src    Table
	schema *arrow.Schema
	by     []string
	aggs   []Agg
}

func (t *groupByTable) Schema() *arrow.Schema { return t.schema }

func (t *groupByTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	b := newBindings(t.src.Schema())
	byIdx := make([]int, len(t.by))
	for i, name := range t.by {
		byIdx[i] = b.index[name]
	}
	aggIdx := make([]int, len(t.aggs))
	for i, a := range t.aggs {
		if a.Kind == AggCount {
			aggIdx[i] = -1
			continue
		}
		aggIdx[i] = b.index[a.Column]
	}

	type groupState struct {
		key      Row
		count    int64
		min      []Value
		distinct []map[string]bool
		collect  [][]Value
	}
	groups := make(map[string]*groupState)
	var order []string
	keyBuf := make([]Value, len(byIdx))
	for _, r := range rows {
		for i, idx := range byIdx {
			keyBuf[i] = r[idx]
		}
		// Unlike join keys, grouping treats NULLs as one group.
		key, _ := encodeKey(keyBuf)
		g, ok := groups[key]
		if !ok {
			g = &groupState{
				key:      append(Row(nil), keyBuf...),
				min:      make([]Value, len(t.aggs)),
				distinct: make([]map[string]bool, len(t.aggs)),
				collect:  make([][]Value, len(t.aggs)),
			}
			for i, a := range t.aggs {
				if a.Kind == AggCountDistinct {
					g.distinct[i] = make(map[string]bool)
				}
			}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
		for i, a := range t.aggs {
			switch a.Kind {
			case AggMin:
				v := r[aggIdx[i]]
				if v == nil {
					continue
				}
				if g.min[i] == nil {
					g.min[i] = v
					continue
				}
				c, err := compareValues(v, g.min[i])
				if err != nil {
					return nil, fmt.Errorf("min(%s): %w", a.Column, err)
				}
				if c < 0 {
					g.min[i] = v
				}
			case AggCountDistinct:
				v := r[aggIdx[i]]
				if v == nil {
					continue
				}
				enc, _ := encodeKey([]Value{v})
				g.distinct[i][enc] = true
			case AggCollect:
				g.collect[i] = append(g.collect[i], r[aggIdx[i]])
			}
		}
	}

	out := make([]Row, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make(Row, 0, len(t.by)+len(t.aggs))
		row = append(row, g.key...)
		for i, a := range t.aggs {
			switch a.Kind {
			case AggCount:
				row = append(row, g.count)
			case AggMin:
				row = append(row, g.min[i])
			case AggCountDistinct:
				row = append(row, int64(len(g.distinct[i])))
			case AggCollect:
				vals := g.collect[i]
				if vals == nil {
					vals = []Value{}
				}
				row = append(row, vals)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// GroupBy groups rows by the named columns and computes aggregates. Groups
// appear in first-occurrence order; NULL grouping values form one group.
func GroupBy(t Table, by []string, aggs ...Agg) (Table, error) {
	if len(aggs) == 0 {
		return nil, fmt.Errorf("group by requires at least one aggregate")
	}
	schema := t.Schema()
	b := newBindings(schema)
	seen := make(map[string]bool, len(by)+len(aggs))
	fields := make([]arrow.Field, 0, len(by)+len(aggs))
	for _, name := range by {
		idx, ok := b.index[name]
		if !ok {
			return nil, fmt.Errorf("grouping column %q not found", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate grouping column %q", name)
		}
		seen[name] = true
		f := schema.Field(idx)
		fields = append(fields, arrow.Field{Name: f.Name, Type: f.Type, Nullable: true})
	}
	for _, a := range aggs {
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate output column %q", a.Name)
		}
		seen[a.Name] = true
		var typ arrow.DataType
		switch a.Kind {
		case AggCount, AggCountDistinct:
			typ = arrow.PrimitiveTypes.Int64
		case AggMin, AggCollect:
			idx, ok := b.index[a.Column]
			if !ok {
				return nil, fmt.Errorf("aggregate column %q not found", a.Column)
			}
			typ = schema.Field(idx).Type
			if a.Kind == AggCollect {
				typ = arrow.ListOf(typ)
			}
		default:
			return nil, fmt.Errorf("unknown aggregate kind %d", a.Kind)
		}
		if a.Kind != AggCount {
			if _, ok := b.index[a.Column]; !ok {
				return nil, fmt.Errorf("aggregate column %q not found", a.Column)
			}
		}
		fields = append(fields, arrow.Field{Name: a.Name, Type: typ, Nullable: true})
	}
	return &groupByTable{src: t, schema: arrow.NewSchema(fields, nil), by: by, aggs: aggs}, nil
}
