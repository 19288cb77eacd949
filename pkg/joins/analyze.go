package joins

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/TFMV/entlink/logger"
	"github.com/TFMV/entlink/pkg/rel"
)

// OnSlow selects what happens when a join condition would execute with a
// quadratic algorithm.
type OnSlow string

const (
	// OnSlowError fails fast. The default: an accidental nested-loop join
	// over two large tables is almost never intentional.
	OnSlowError OnSlow = "error"
	// OnSlowWarn logs and proceeds.
	OnSlowWarn OnSlow = "warn"
	// OnSlowIgnore proceeds silently.
	OnSlowIgnore OnSlow = "ignore"
)

// Validate checks that the policy is one of the accepted values.
func (o OnSlow) Validate() error {
	switch o {
	case OnSlowError, OnSlowWarn, OnSlowIgnore:
		return nil
	}
	return fmt.Errorf("on_slow must be one of error, warn, ignore; got %q", string(o))
}

// SlowJoinError reports a join condition that would require a quadratic
// join algorithm.
type SlowJoinError struct {
	Condition string
	Algorithm rel.Algorithm
}

func (e *SlowJoinError) Error() string {
	return fmt.Sprintf("join on %s would execute as %s; supply an equality-based condition, or set on_slow to warn or ignore if this is intentional", e.Condition, e.Algorithm)
}

func isSlow(alg rel.Algorithm) bool {
	return alg == rel.NestedLoopJoin || alg == rel.CrossProduct
}

// CheckJoinAlgorithm inspects how a condition's join would execute and
// applies the on-slow policy. Inspection failures degrade to a warning since
// the check is advisory.
func CheckJoinAlgorithm(left, right rel.Table, cond Condition, onSlow OnSlow) error {
	if onSlow == "" {
		onSlow = OnSlowError
	}
	if err := onSlow.Validate(); err != nil {
		return err
	}
	if onSlow == OnSlowIgnore {
		return nil
	}
	pred, err := cond.JoinCondition(left, right)
	if err != nil {
		return err
	}
	alg, err := rel.JoinAlgorithm(left, right, pred)
	if err != nil {
		logger.GetLogger().Warn("could not determine join algorithm, proceeding",
			zap.String("condition", pred.String()),
			zap.Error(err))
		return nil
	}
	if !isSlow(alg) {
		return nil
	}
	if onSlow == OnSlowWarn {
		logger.GetLogger().Warn("join will use a quadratic algorithm",
			zap.String("condition", pred.String()),
			zap.String("algorithm", alg.String()))
		return nil
	}
	return &SlowJoinError{Condition: pred.String(), Algorithm: alg}
}
