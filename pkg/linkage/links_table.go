package linkage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TFMV/entlink/pkg/rel"
)

// LinksTable wraps the bridge relation together with references to the two
// record tables, adding projections that pull side attributes into the
// links.
type LinksTable struct {
	links rel.Table
	left  rel.Table
	right rel.Table
}

// Table unwraps the underlying links relation.
func (lt *LinksTable) Table() rel.Table { return lt.links }

// WithLeft projects left-side columns into the links, suffixed _l. With no
// names, every left column except record_id is pulled in.
func (lt *LinksTable) WithLeft(cols ...string) (rel.Table, error) {
	return withSide(lt.links, lt.left, LinkLeftCol, "_l", cols)
}

// WithRight projects right-side columns into the links, suffixed _r.
func (lt *LinksTable) WithRight(cols ...string) (rel.Table, error) {
	return withSide(lt.links, lt.right, LinkRightCol, "_r", cols)
}

// WithBoth projects every column of both sides into the links.
func (lt *LinksTable) WithBoth() (rel.Table, error) {
	withL, err := withSide(lt.links, lt.left, LinkLeftCol, "_l", nil)
	if err != nil {
		return nil, err
	}
	return withSide(withL, lt.right, LinkRightCol, "_r", nil)
}

func withSide(links, side rel.Table, linkID, suffix string, cols []string) (rel.Table, error) {
	if len(cols) == 0 {
		for _, f := range side.Schema().Fields() {
			if f.Name != RecordIDCol {
				cols = append(cols, f.Name)
			}
		}
	}
	tmp := tmpCol()
	items := make([]rel.NamedExpr, 0, len(cols)+1)
	items = append(items, rel.As(tmp, rel.Col(RecordIDCol)))
	for _, c := range cols {
		if !rel.HasColumn(side, c) {
			return nil, fmt.Errorf("column %q not found on the %s side", c, strings.TrimPrefix(suffix, "_"))
		}
		items = append(items, rel.As(c+suffix, rel.Col(c)))
	}
	proj, err := rel.Select(side, items...)
	if err != nil {
		return nil, err
	}
	joined, err := rel.Join(links, proj,
		&rel.Eq{L: rel.LCol(linkID), R: rel.RCol(tmp)},
		rel.JoinOptions{How: rel.InnerJoin})
	if err != nil {
		return nil, err
	}
	return rel.DropColumns(joined, tmp)
}

// tmpCol generates a scratch column name that cannot collide with user
// columns.
func tmpCol() string {
	return "tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
