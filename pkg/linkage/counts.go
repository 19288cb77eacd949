package linkage

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/TFMV/entlink/pkg/rel"
)

// CountsTable is a relation carrying a non-negative integer count column.
type CountsTable struct {
	table rel.Table
	nCol  string
}

// Table unwraps the underlying relation.
func (c *CountsTable) Table() rel.Table { return c.table }

// NTotal materializes the table and sums the count column.
func (c *CountsTable) NTotal(ctx context.Context) (int64, error) {
	idxs := c.table.Schema().FieldIndices(c.nCol)
	if len(idxs) == 0 {
		return 0, fmt.Errorf("counts table is missing its %q column", c.nCol)
	}
	rows, err := rel.Rows(ctx, c.table)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range rows {
		if r[idxs[0]] == nil {
			continue
		}
		n, err := cast.ToInt64E(r[idxs[0]])
		if err != nil {
			return 0, fmt.Errorf("count column %q: %w", c.nCol, err)
		}
		total += n
	}
	return total, nil
}

// KeyCountsTable holds, per distinct key tuple, the number of records
// sharing it. Columns: the key components plus n.
type KeyCountsTable struct {
	CountsTable
}

// NewKeyCountsTable wraps a relation whose count column is n.
func NewKeyCountsTable(t rel.Table) *KeyCountsTable {
	return &KeyCountsTable{CountsTable: CountsTable{table: t, nCol: "n"}}
}

// NewPairCountsTable wraps a relation whose count column is n.
func NewPairCountsTable(t rel.Table) *PairCountsTable {
	return &PairCountsTable{CountsTable: CountsTable{table: t, nCol: "n"}}
}

// PairCountsTable holds, per distinct key tuple, the estimated number of
// pairs the key would generate. Columns: the key components plus n, ordered
// descending by n so the most expensive keys come first.
type PairCountsTable struct {
	CountsTable
}

// LinkCountsTable is the link-count histogram: columns n_links and
// n_records.
type LinkCountsTable struct {
	CountsTable
}
