package joins

import (
	"fmt"

	"github.com/TFMV/entlink/pkg/rel"
)

// Join evaluates a condition against the table pair and performs an inner
// join. With renameAll, every output column carries a _l or _r suffix;
// otherwise only names present on both sides are suffixed. When the two
// operands are the same table value, the right side is rebound through a
// logical alias so column references stay unambiguous.
func Join(left, right rel.Table, cond Condition, renameAll bool) (rel.Table, error) {
	if left == right {
		right = rel.View(right)
	}
	pred, err := cond.JoinCondition(left, right)
	if err != nil {
		return nil, err
	}
	joined, err := rel.Join(left, right, pred, rel.JoinOptions{
		How:       rel.InnerJoin,
		RenameAll: renameAll,
	})
	if err != nil {
		return nil, fmt.Errorf("joining on %s: %w", pred, err)
	}
	return joined, nil
}
