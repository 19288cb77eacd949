package rel

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
)

// NamedExpr is a projection item: an output column name and the expression
// that computes it.
type NamedExpr struct {
	Name string
	Expr Expr
}

// C is a shorthand projection item that carries a column through unchanged.
func C(name string) NamedExpr {
	return NamedExpr{Name: name, Expr: Col(name)}
}

// As names a computed projection item.
func As(name string, e Expr) NamedExpr {
	return NamedExpr{Name: name, Expr: e}
}

type selectTable struct {
	src    Table
	schema *arrow.Schema
	items  []NamedExpr
}

func (t *selectTable) Schema() *arrow.Schema { return t.schema }

func (t *selectTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	env := &evalEnv{left: newBindings(t.src.Schema())}
	out := make([]Row, len(rows))
	for i, r := range rows {
		env.lrow = r
		nr := make(Row, len(t.items))
		for j, item := range t.items {
			v, err := evalExpr(item.Expr, env)
			if err != nil {
				return nil, fmt.Errorf("projecting %q: %w", item.Name, err)
			}
			nr[j] = v
		}
		out[i] = nr
	}
	return out, nil
}

// Select projects a table to the given items. Schema errors (unknown columns,
// duplicate output names) are reported eagerly.
func Select(t Table, items ...NamedExpr) (Table, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("select requires at least one projection item")
	}
	seen := make(map[string]bool, len(items))
	fields := make([]arrow.Field, len(items))
	for i, item := range items {
		if seen[item.Name] {
			return nil, fmt.Errorf("duplicate output column %q", item.Name)
		}
		seen[item.Name] = true
		typ, err := inferType(item.Expr, t.Schema(), nil)
		if err != nil {
			return nil, fmt.Errorf("projecting %q: %w", item.Name, err)
		}
		fields[i] = arrow.Field{Name: item.Name, Type: typ, Nullable: true}
	}
	return &selectTable{src: t, schema: arrow.NewSchema(fields, nil), items: items}, nil
}

// SelectColumns projects by column name only.
func SelectColumns(t Table, names ...string) (Table, error) {
	items := make([]NamedExpr, len(names))
	for i, n := range names {
		items[i] = C(n)
	}
	return Select(t, items...)
}

// Rename projects all columns, renaming those present in the mapping.
func Rename(t Table, mapping map[string]string) (Table, error) {
	items := make([]NamedExpr, t.Schema().NumFields())
	for i, f := range t.Schema().Fields() {
		name := f.Name
		if renamed, ok := mapping[name]; ok {
			name = renamed
		}
		items[i] = NamedExpr{Name: name, Expr: Col(f.Name)}
	}
	return Select(t, items...)
}

type filterTable struct {
	src  Table
	pred Expr
}

func (t *filterTable) Schema() *arrow.Schema { return t.src.Schema() }

func (t *filterTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	env := &evalEnv{left: newBindings(t.src.Schema())}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		env.lrow = r
		keep, err := evalBool(t.pred, env)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", t.pred, err)
		}
		if keep {
			out = append(out, r)
		}
	}
	return out, nil
}

// Filter keeps rows for which the predicate is true. NULL predicates drop
// the row.
func Filter(t Table, pred Expr) (Table, error) {
	if _, err := inferType(pred, t.Schema(), nil); err != nil {
		return nil, fmt.Errorf("filter %s: %w", pred, err)
	}
	return &filterTable{src: t, pred: pred}, nil
}

type distinctTable struct {
	src Table
}

func (t *distinctTable) Schema() *arrow.Schema { return t.src.Schema() }

func (t *distinctTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		key, _ := encodeKey(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out, nil
}

// Distinct removes duplicate rows, keeping first occurrences. Unlike join
// keys, NULLs here compare equal to each other.
func Distinct(t Table) Table {
	return &distinctTable{src: t}
}

// SortKey orders a table by one column.
type SortKey struct {
	Name string
	Desc bool
}

// Asc sorts ascending by the named column.
func Asc(name string) SortKey { return SortKey{Name: name} }

// Desc sorts descending by the named column.
func Desc(name string) SortKey { return SortKey{Name: name, Desc: true} }

type orderByTable struct {
	src  Table
	keys []SortKey
}

func (t *orderByTable) Schema() *arrow.Schema { return t.src.Schema() }

func (t *orderByTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	b := newBindings(t.src.Schema())
	idxs := make([]int, len(t.keys))
	for i, k := range t.keys {
		j, ok := b.index[k.Name]
		if !ok {
			return nil, fmt.Errorf("sort column %q not found", k.Name)
		}
		idxs[i] = j
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	var sortErr error
	sort.SliceStable(out, func(a, b int) bool {
		if sortErr != nil {
			return false
		}
		for i, k := range t.keys {
			av, bv := out[a][idxs[i]], out[b][idxs[i]]
			c, err := compareNullable(av, bv)
			if err != nil {
				sortErr = fmt.Errorf("sorting by %q: %w", k.Name, err)
				return false
			}
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

// compareNullable orders values with NULLs last.
func compareNullable(a, b Value) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return 1, nil
	case b == nil:
		return -1, nil
	}
	return compareValues(a, b)
}

// OrderBy sorts a table by the given keys. The sort is stable, and NULLs
// order last regardless of direction.
func OrderBy(t Table, keys ...SortKey) (Table, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("order by requires at least one sort key")
	}
	b := newBindings(t.Schema())
	for _, k := range keys {
		if !b.has(k.Name) {
			return nil, fmt.Errorf("sort column %q not found", k.Name)
		}
	}
	return &orderByTable{src: t, keys: keys}, nil
}

// Limit keeps at most n rows.
func Limit(t Table, n int64) Table {
	return &limitTable{src: t, n: n}
}

type limitTable struct {
	src Table
	n   int64
}

func (t *limitTable) Schema() *arrow.Schema { return t.src.Schema() }

func (t *limitTable) execute(ctx context.Context) ([]Row, error) {
	rows, err := t.src.execute(ctx)
	if err != nil {
		return nil, err
	}
	if int64(len(rows)) > t.n {
		rows = rows[:t.n]
	}
	return rows, nil
}

// Mutate appends or replaces columns. Existing columns named by an item are
// replaced in place; new names are appended.
func Mutate(t Table, items ...NamedExpr) (Table, error) {
	replaced := make(map[string]Expr, len(items))
	order := make([]NamedExpr, 0, t.Schema().NumFields()+len(items))
	for _, f := range t.Schema().Fields() {
		order = append(order, C(f.Name))
	}
	for _, item := range items {
		replaced[item.Name] = item.Expr
	}
	for i, existing := range order {
		if e, ok := replaced[existing.Name]; ok {
			order[i] = NamedExpr{Name: existing.Name, Expr: e}
			delete(replaced, existing.Name)
		}
	}
	for _, item := range items {
		if _, stillNew := replaced[item.Name]; stillNew {
			order = append(order, item)
			delete(replaced, item.Name)
		}
	}
	return Select(t, order...)
}

// DropColumns projects away the named columns.
func DropColumns(t Table, names ...string) (Table, error) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if !HasColumn(t, n) {
			return nil, fmt.Errorf("column %q not found", n)
		}
		drop[n] = true
	}
	items := make([]NamedExpr, 0, t.Schema().NumFields())
	for _, f := range t.Schema().Fields() {
		if !drop[f.Name] {
			items = append(items, C(f.Name))
		}
	}
	return Select(t, items...)
}
