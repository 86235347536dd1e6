package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Devign20164/ForgePh/pkg/clock"
	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
)

// Store is the subset of the datastore the resetter needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	datastore.CounterProvider
}

// Recorder receives reset outcomes, typically server metrics.
type Recorder interface {
	CounterReset()
	CounterResetFailed()
}

// ResetError reports a failed read or conditional write. It is never fatal
// to the request that triggered it.
type ResetError struct {
	UserID  int64
	Counter string
	Err     error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("quota: reset %s for user %d: %v", e.Counter, e.UserID, e.Err)
}

func (e *ResetError) Unwrap() error { return e.Err }

// Outcome reports what a single Apply call changed.
type Outcome struct {
	Redemptions bool
	GamePlays   bool
	Err         error // *ResetError, already logged
}

// Resetter runs the counter reset pre-step for an account.
type Resetter struct {
	store    Store
	clock    clock.Clock
	policy   Policy
	recorder Recorder
}

// NewResetter creates a Resetter. recorder may be nil.
func NewResetter(store Store, clk clock.Clock, policy Policy, recorder Recorder) *Resetter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Resetter{store: store, clock: clk, policy: policy, recorder: recorder}
}

// Policy returns the policy the resetter applies.
func (r *Resetter) Policy() Policy {
	return r.policy
}

// Apply refills every stale counter of userID. Each write is conditional on
// the stored day key still differing from today, so concurrent callers that
// both read a stale key apply the reset once. Failures are logged and
// returned in Outcome.Err; callers continue with whatever counters are stored.
func (r *Resetter) Apply(ctx context.Context, userID int64) Outcome {
	var out Outcome

	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		out.Err = r.fail(&ResetError{UserID: userID, Counter: "read", Err: err})
		return out
	}
	if user == nil {
		return out
	}

	now := r.clock.Now()

	if d := r.policy.Redemptions().Evaluate(user.LastRedemptionDate, now); d.ShouldReset {
		applied, err := r.store.ResetRedemptionCount(ctx, userID, d.Today, d.Value)
		if err != nil {
			out.Err = r.fail(&ResetError{UserID: userID, Counter: "redemptions", Err: err})
		} else if applied {
			out.Redemptions = true
			r.applied(userID, "redemptions", d)
		}
	}

	if d := r.policy.GamePlays().Evaluate(user.LastGamePlayDate, now); d.ShouldReset {
		applied, err := r.store.ResetDailyGamePlays(ctx, userID, d.Today, d.Value)
		if err != nil {
			out.Err = r.fail(&ResetError{UserID: userID, Counter: "game plays", Err: err})
		} else if applied {
			out.GamePlays = true
			r.applied(userID, "game plays", d)
		}
	}

	return out
}

func (r *Resetter) applied(userID int64, counter string, d Decision) {
	slog.Debug("quota: counter reset", "user", userID, "counter", counter, "day", d.Today, "value", d.Value)
	if r.recorder != nil {
		r.recorder.CounterReset()
	}
}

func (r *Resetter) fail(err *ResetError) error {
	slog.Warn("quota: counter reset failed, continuing with stored values",
		"user", err.UserID, "counter", err.Counter, "err", err.Err)
	if r.recorder != nil {
		r.recorder.CounterResetFailed()
	}
	return err
}
