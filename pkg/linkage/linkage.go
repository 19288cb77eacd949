// Package linkage holds the record linkage data model: a pair of record
// tables plus a bridge table of matched id pairs, with derived views,
// combination algebra, and parquet persistence.
package linkage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/readers"
	"github.com/TFMV/entlink/pkg/rel"
	"github.com/TFMV/entlink/pkg/writers"
)

const (
	// RecordIDCol is the required identifier column on record tables.
	RecordIDCol = "record_id"
	// LinkLeftCol and LinkRightCol are the required id columns on links.
	LinkLeftCol  = "record_id_l"
	LinkRightCol = "record_id_r"
)

// Linkage is a pair of record tables plus a bridge relation of matched id
// pairs. Immutable once built. Links may contain duplicate pairs; combinators
// that deduplicate say so explicitly.
type Linkage struct {
	Left  rel.Table
	Right rel.Table
	Links rel.Table

	// cond, when set, is the join condition that produced (or can reproduce)
	// the links. Combinators use it to AND conditions instead of
	// intersecting materialized pair sets.
	cond joins.Condition
	// abstract marks a linkage whose links are a pure condition expression
	// with nothing worth memoizing; Cache is a no-op for those.
	abstract bool
}

// New builds a Linkage, validating the required columns and id-type
// comparability eagerly.
func New(left, right, links rel.Table) (*Linkage, error) {
	lid, err := requireColumn(left, RecordIDCol, "left table")
	if err != nil {
		return nil, err
	}
	rid, err := requireColumn(right, RecordIDCol, "right table")
	if err != nil {
		return nil, err
	}
	llid, err := requireColumn(links, LinkLeftCol, "links table")
	if err != nil {
		return nil, err
	}
	lrid, err := requireColumn(links, LinkRightCol, "links table")
	if err != nil {
		return nil, err
	}
	if !typesComparable(lid, llid) {
		return nil, fmt.Errorf("left record_id type %s is not comparable with links record_id_l type %s", lid, llid)
	}
	if !typesComparable(rid, lrid) {
		return nil, fmt.Errorf("right record_id type %s is not comparable with links record_id_r type %s", rid, lrid)
	}
	return &Linkage{Left: left, Right: right, Links: links}, nil
}

func requireColumn(t rel.Table, name, what string) (arrow.DataType, error) {
	typ, err := rel.FieldType(t, name)
	if err != nil {
		return nil, fmt.Errorf("%s is missing required column %q", what, name)
	}
	return typ, nil
}

// typesComparable reports whether values of the two types can be compared
// for equality by the engine.
func typesComparable(a, b arrow.DataType) bool {
	if arrow.TypeEqual(a, b) {
		return true
	}
	return isNumericType(a) && isNumericType(b)
}

func isNumericType(t arrow.DataType) bool {
	switch t.ID() {
	case arrow.INT64, arrow.UINT64, arrow.FLOAT64:
		return true
	}
	return false
}

// Condition returns the join condition that produced the links, if the
// linkage carries one.
func (l *Linkage) Condition() (joins.Condition, bool) {
	return l.cond, l.cond != nil
}

// WithCondition returns a copy carrying the producing condition.
func (l *Linkage) WithCondition(cond joins.Condition) *Linkage {
	out := *l
	out.cond = cond
	return &out
}

// Abstract flags the linkage as condition-only; Cache becomes a no-op since
// there is nothing worth memoizing yet.
func (l *Linkage) Abstract() *Linkage {
	out := *l
	out.abstract = true
	return &out
}

// Cache materializes the links relation, bounding its expression tree. For
// abstract condition-backed linkages nothing needs memoizing and the
// receiver is returned unchanged.
func (l *Linkage) Cache(ctx context.Context) (*Linkage, error) {
	if l.abstract {
		return l, nil
	}
	links, err := rel.Cache(ctx, l.Links)
	if err != nil {
		return nil, fmt.Errorf("caching links: %w", err)
	}
	out := *l
	out.Links = links
	return &out, nil
}

// LinksTable wraps the bridge relation for derived views.
func (l *Linkage) LinksTable() *LinksTable {
	return &LinksTable{links: l.Links, left: l.Left, right: l.Right}
}

// LeftLinked views the left table with knowledge of its links.
func (l *Linkage) LeftLinked() *LinkedTable {
	return &LinkedTable{
		table:   l.Left,
		other:   l.Right,
		links:   l.Links,
		selfID:  LinkLeftCol,
		otherID: LinkRightCol,
	}
}

// RightLinked views the right table with knowledge of its links.
func (l *Linkage) RightLinked() *LinkedTable {
	return &LinkedTable{
		table:   l.Right,
		other:   l.Left,
		links:   l.Links,
		selfID:  LinkRightCol,
		otherID: LinkLeftCol,
	}
}

// FromJoinCondition links two tables on an arbitrary condition spec (any
// shape accepted by joins.NewCondition). The resulting linkage carries the
// condition so combinators can AND it instead of intersecting pair sets.
func FromJoinCondition(left, right rel.Table, spec any) (*Linkage, error) {
	cond, err := joins.NewCondition(spec)
	if err != nil {
		return nil, err
	}
	if left == right {
		right = rel.View(right)
	}
	joined, err := joins.Join(left, right, cond, true)
	if err != nil {
		return nil, err
	}
	links, err := rel.SelectColumns(joined, LinkLeftCol, LinkRightCol)
	if err != nil {
		return nil, err
	}
	linkage, err := New(left, right, links)
	if err != nil {
		return nil, err
	}
	return linkage.WithCondition(cond), nil
}

// FromPredicates links two tables on key equality, synthesizing record_id
// columns (row ordinals) for any side that lacks one. Duplicate value
// matches produce duplicate link rows.
func FromPredicates(left, right rel.Table, spec any) (*Linkage, error) {
	var err error
	if left, err = ensureRecordID(left); err != nil {
		return nil, err
	}
	if right, err = ensureRecordID(right); err != nil {
		return nil, err
	}
	return FromJoinCondition(left, right, spec)
}

func ensureRecordID(t rel.Table) (rel.Table, error) {
	if rel.HasColumn(t, RecordIDCol) {
		return t, nil
	}
	return rel.WithRowNumber(t, RecordIDCol)
}

// ToParquets serializes the linkage as three parquet files in dir. The dir
// must exist.
func (l *Linkage) ToParquets(ctx context.Context, dir string) error {
	parts := []struct {
		name  string
		table rel.Table
	}{
		{"left.parquet", l.Left},
		{"right.parquet", l.Right},
		{"links.parquet", l.Links},
	}
	for _, p := range parts {
		if err := writers.WriteTable(ctx, filepath.Join(dir, p.name), p.table); err != nil {
			return fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	return nil
}

// FromParquets loads a linkage previously written with ToParquets.
func FromParquets(ctx context.Context, dir string) (*Linkage, error) {
	left, err := readers.ReadTable(ctx, filepath.Join(dir, "left.parquet"))
	if err != nil {
		return nil, err
	}
	right, err := readers.ReadTable(ctx, filepath.Join(dir, "right.parquet"))
	if err != nil {
		return nil, err
	}
	links, err := readers.ReadTable(ctx, filepath.Join(dir, "links.parquet"))
	if err != nil {
		return nil, err
	}
	return New(left, right, links)
}
