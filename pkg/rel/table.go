package rel

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cast"
)

// Table is a lazy relational expression. Implementations are immutable; all
// operations produce new Table values and nothing is computed until a
// materializing call.
type Table interface {
	Schema() *arrow.Schema
	execute(ctx context.Context) ([]Row, error)
}

type memTable struct {
	schema *arrow.Schema
	data   []Row
}

func (t *memTable) Schema() *arrow.Schema { return t.schema }

func (t *memTable) execute(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.data, nil
}

// NewTable builds a table from a schema and raw row values. Values are
// normalized to the engine's canonical representations.
func NewTable(schema *arrow.Schema, rows [][]any) (Table, error) {
	data := make([]Row, len(rows))
	for i, raw := range rows {
		if len(raw) != schema.NumFields() {
			return nil, fmt.Errorf("row %d has %d values, schema has %d fields", i, len(raw), schema.NumFields())
		}
		row := make(Row, len(raw))
		for j, v := range raw {
			n, err := normalizeValue(v)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", i, schema.Field(j).Name, err)
			}
			row[j] = n
		}
		data[i] = row
	}
	return &memTable{schema: normalizeSchema(schema), data: data}, nil
}

// Rows materializes a table. The returned rows must be treated as immutable.
func Rows(ctx context.Context, t Table) ([]Row, error) {
	return t.execute(ctx)
}

// Count materializes a table and returns its row count.
func Count(ctx context.Context, t Table) (int64, error) {
	rows, err := t.execute(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Cache materializes a table into memory, bounding the expression tree.
// The result is equivalent but no longer recomputes its inputs.
func Cache(ctx context.Context, t Table) (Table, error) {
	rows, err := t.execute(ctx)
	if err != nil {
		return nil, err
	}
	return &memTable{schema: t.Schema(), data: rows}, nil
}

type viewTable struct {
	inner Table
}

func (t *viewTable) Schema() *arrow.Schema                    { return t.inner.Schema() }
func (t *viewTable) execute(ctx context.Context) ([]Row, error) { return t.inner.execute(ctx) }

// View creates a logical alias of a table: same contents, distinct identity.
// Used to disambiguate the two operands of a self-join.
func View(t Table) Table { return &viewTable{inner: t} }

// HasColumn reports whether the table's schema contains the named column.
func HasColumn(t Table, name string) bool {
	return len(t.Schema().FieldIndices(name)) > 0
}

// FieldType returns the datatype of the named column.
func FieldType(t Table, name string) (arrow.DataType, error) {
	idxs := t.Schema().FieldIndices(name)
	if len(idxs) == 0 {
		return nil, fmt.Errorf("column %q not found in table schema", name)
	}
	return t.Schema().Field(idxs[0]).Type, nil
}

type rowNumberTable struct {
	src    Table
	schema *arrow.Schema
	name   string
}

func (t *rowNumberTable) Schema() *arrow.Schema { return t.schema }

func (t *rowNumberTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		nr := make(Row, len(r)+1)
		copy(nr, r)
		nr[len(r)] = int64(i)
		out[i] = nr
	}
	return out, nil
}

// WithRowNumber appends an int64 column holding each row's ordinal position.
func WithRowNumber(t Table, name string) (Table, error) {
	if HasColumn(t, name) {
		return nil, fmt.Errorf("column %q already exists", name)
	}
	fields := append(t.Schema().Fields(), arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64})
	return &rowNumberTable{src: t, schema: arrow.NewSchema(fields, nil), name: name}, nil
}

// normalizeSchema widens integer and float fields to the engine's canonical
// 64-bit types so values and schema stay in agreement.
func normalizeSchema(schema *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, schema.NumFields())
	for i, f := range schema.Fields() {
		f.Type = normalizeType(f.Type)
		fields[i] = f
	}
	md := schema.Metadata()
	return arrow.NewSchema(fields, &md)
}

func normalizeType(t arrow.DataType) arrow.DataType {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64:
		return arrow.PrimitiveTypes.Int64
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return arrow.PrimitiveTypes.Uint64
	case arrow.FLOAT32, arrow.FLOAT64:
		return arrow.PrimitiveTypes.Float64
	case arrow.LIST:
		return arrow.ListOf(normalizeType(t.(*arrow.ListType).Elem()))
	default:
		return t
	}
}

// FromRecord builds a table from an Arrow record batch. Narrow numeric types
// are widened to their 64-bit equivalents.
func FromRecord(rec arrow.Record) (Table, error) {
	schema := normalizeSchema(rec.Schema())
	n := int(rec.NumRows())
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		rows[i] = make(Row, rec.NumCols())
	}
	for j := 0; j < int(rec.NumCols()); j++ {
		col := rec.Column(j)
		for i := 0; i < n; i++ {
			v, err := arrowValue(col, i)
			if err != nil {
				return nil, fmt.Errorf("column %q, row %d: %w", rec.Schema().Field(j).Name, i, err)
			}
			rows[i][j] = v
		}
	}
	return &memTable{schema: schema, data: rows}, nil
}

func arrowValue(col arrow.Array, i int) (Value, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return uint64(a.Value(i)), nil
	case *array.Uint16:
		return uint64(a.Value(i)), nil
	case *array.Uint32:
		return uint64(a.Value(i)), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.List:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]Value, 0, end-start)
		for k := start; k < end; k++ {
			v, err := arrowValue(values, int(k))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported arrow array type %s", col.DataType())
	}
}

// ToRecord materializes a table into a single Arrow record batch.
func ToRecord(ctx context.Context, t Table, alloc memory.Allocator) (arrow.Record, error) {
	if alloc == nil {
		alloc = memory.NewGoAllocator()
	}
	rows, err := t.execute(ctx)
	if err != nil {
		return nil, err
	}
	schema := t.Schema()
	cols := make([]arrow.Array, schema.NumFields())
	for j, field := range schema.Fields() {
		b := array.NewBuilder(alloc, field.Type)
		for _, row := range rows {
			if err := appendValue(b, row[j]); err != nil {
				b.Release()
				return nil, fmt.Errorf("column %q: %w", field.Name, err)
			}
		}
		cols[j] = b.NewArray()
		b.Release()
	}
	rec := array.NewRecord(schema, cols, int64(len(rows)))
	for _, col := range cols {
		col.Release()
	}
	return rec, nil
}

func appendValue(b array.Builder, v Value) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		bv, err := cast.ToBoolE(v)
		if err != nil {
			return err
		}
		bld.Append(bv)
	case *array.Int64Builder:
		iv, err := cast.ToInt64E(v)
		if err != nil {
			return err
		}
		bld.Append(iv)
	case *array.Uint64Builder:
		uv, err := cast.ToUint64E(v)
		if err != nil {
			return err
		}
		bld.Append(uv)
	case *array.Float64Builder:
		fv, err := cast.ToFloat64E(v)
		if err != nil {
			return err
		}
		bld.Append(fv)
	case *array.StringBuilder:
		sv, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		bld.Append(sv)
	case *array.ListBuilder:
		lv, ok := v.([]Value)
		if !ok {
			return fmt.Errorf("expected list, got %T", v)
		}
		bld.Append(true)
		vb := bld.ValueBuilder()
		for _, e := range lv {
			if err := appendValue(vb, e); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported builder type %T", b)
	}
	return nil
}
