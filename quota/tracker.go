// Package quota tracks the current usage of quota roots.
package quota

import (
	"context"
	"fmt"
	"strings"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/metrics"
	"github.com/sirupsen/logrus"
)

const familyQuota = "quota"

// Reader is the read side of the tracker, used to enforce limits.
type Reader interface {
	GetCurrentMessageCount(ctx context.Context, root Root) (int64, error)
	GetCurrentStorage(ctx context.Context, root Root) (int64, error)
	GetCurrentQuotas(ctx context.Context, root Root) (Usage, error)
}

// Strategy selects how SetCurrentQuotas moves a current value to its target.
type Strategy int

const (
	// StrategyDiff applies the signed difference between the target and the stored value.
	StrategyDiff Strategy = iota

	// StrategyResetThenIncrease brings the stored value down to zero, then increases it to the target.
	StrategyResetThenIncrease
)

func (s Strategy) String() string {
	if s == StrategyResetThenIncrease {
		return "reset-then-increase"
	}

	return "diff"
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "diff":
		return StrategyDiff, nil

	case "reset-then-increase":
		return StrategyResetThenIncrease, nil

	default:
		return 0, fmt.Errorf("unknown quota strategy %q", s)
	}
}

// Tracker keeps the current values of quota roots as counters of the quota table. Every update of a single
// value is atomic; updates touching both the count and the size are two independent updates and a failure
// between them leaves only the first applied.
type Tracker struct {
	table    backend.Table
	strategy Strategy
}

func NewTracker(table backend.Table, strategy Strategy) *Tracker {
	return &Tracker{table: table, strategy: strategy}
}

// Increase adds delta to the current value. Delta must be positive.
func (t *Tracker) Increase(ctx context.Context, key Key, delta int64) error {
	if delta <= 0 {
		return backend.Precondition("increase quota", key.String(), "delta must be positive, got %v", delta)
	}

	return t.add(ctx, key, delta)
}

// Decrease subtracts delta from the current value. Delta must be positive.
func (t *Tracker) Decrease(ctx context.Context, key Key, delta int64) error {
	if delta <= 0 {
		return backend.Precondition("decrease quota", key.String(), "delta must be positive, got %v", delta)
	}

	return t.add(ctx, key, -delta)
}

// GetCurrentValue returns the current value of key. Values never written are zero.
func (t *Tracker) GetCurrentValue(ctx context.Context, key Key) (int64, error) {
	usage, err := t.GetCurrentQuotas(ctx, key.Root)
	if err != nil {
		return 0, err
	}

	if key.Type == TypeSize {
		return usage.Size, nil
	}

	return usage.Count, nil
}

func (t *Tracker) GetCurrentMessageCount(ctx context.Context, root Root) (int64, error) {
	return t.GetCurrentValue(ctx, root.Key(TypeCount))
}

func (t *Tracker) GetCurrentStorage(ctx context.Context, root Root) (int64, error) {
	return t.GetCurrentValue(ctx, root.Key(TypeSize))
}

func (t *Tracker) GetCurrentQuotas(ctx context.Context, root Root) (Usage, error) {
	row, err := t.table.Get(ctx, []byte(root.String()), familyQuota)
	if backend.IsErrNotFound(err) {
		return Usage{}, nil
	} else if err != nil {
		return Usage{}, backend.Wrap("get quota", root.String(), err)
	}

	count, err := row.Int(TypeCount.String())
	if err != nil {
		return Usage{}, backend.Wrap("get quota", root.String(), err)
	}

	size, err := row.Int(TypeSize.String())
	if err != nil {
		return Usage{}, backend.Wrap("get quota", root.String(), err)
	}

	return Usage{Count: count, Size: size}, nil
}

// IncreaseUsage accounts new messages: the count first, then the size. Zero amounts are skipped.
func (t *Tracker) IncreaseUsage(ctx context.Context, root Root, count, size int64) error {
	if count > 0 {
		if err := t.Increase(ctx, root.Key(TypeCount), count); err != nil {
			return err
		}
	}

	if size > 0 {
		if err := t.Increase(ctx, root.Key(TypeSize), size); err != nil {
			return err
		}
	}

	return nil
}

// DecreaseUsage accounts removed messages: the count first, then the size. Zero amounts are skipped.
func (t *Tracker) DecreaseUsage(ctx context.Context, root Root, count, size int64) error {
	if count > 0 {
		if err := t.Decrease(ctx, root.Key(TypeCount), count); err != nil {
			return err
		}
	}

	if size > 0 {
		if err := t.Decrease(ctx, root.Key(TypeSize), size); err != nil {
			return err
		}
	}

	return nil
}

// SetCurrentQuotas moves the current values of root to the given ones, using the tracker strategy against a
// snapshot read first. Updates racing with the call are kept on top of the target. Nothing is written when
// the snapshot already matches.
func (t *Tracker) SetCurrentQuotas(ctx context.Context, root Root, count, size int64) error {
	if count < 0 || size < 0 {
		return backend.Precondition("set quota", root.String(), "current values can not be negative (%v, %v)", count, size)
	}

	current, err := t.GetCurrentQuotas(ctx, root)
	if err != nil {
		return err
	}

	if current == (Usage{Count: count, Size: size}) {
		return nil
	}

	logrus.WithField("root", root.String()).
		WithField("strategy", t.strategy).
		WithField("count", current.Count).
		WithField("size", current.Size).
		WithField("targetCount", count).
		WithField("targetSize", size).
		Info("Setting current quotas")

	if err := t.reconcile(ctx, root.Key(TypeCount), current.Count, count); err != nil {
		return err
	}

	return t.reconcile(ctx, root.Key(TypeSize), current.Size, size)
}

func (t *Tracker) reconcile(ctx context.Context, key Key, current, target int64) error {
	if current == target {
		return nil
	}

	if t.strategy == StrategyResetThenIncrease {
		if current != 0 {
			if err := t.add(ctx, key, -current); err != nil {
				return err
			}
		}

		if target == 0 {
			return nil
		}

		return t.Increase(ctx, key, target)
	}

	return t.add(ctx, key, target-current)
}

func (t *Tracker) add(ctx context.Context, key Key, delta int64) error {
	if _, err := t.table.Increment(ctx, []byte(key.Root.String()), familyQuota, key.Type.String(), delta); err != nil {
		return backend.Wrap("update quota", key.String(), err)
	}

	metrics.QuotaUpdated(key.Type.String(), delta)

	return nil
}
