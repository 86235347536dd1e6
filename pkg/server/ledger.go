package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
)

// mutationTimeout bounds a ledger mutation once it no longer follows the
// caller's cancellation.
const mutationTimeout = 10 * time.Second

// LedgerErrorKind classifies a failed mutation.
type LedgerErrorKind int

const (
	InsufficientBalance LedgerErrorKind = iota
	StoreUnavailable
	UnknownAccount
)

func (k LedgerErrorKind) String() string {
	switch k {
	case InsufficientBalance:
		return "insufficient balance"
	case StoreUnavailable:
		return "store unavailable"
	case UnknownAccount:
		return "unknown account"
	default:
		return "unknown"
	}
}

// LedgerError is returned when a delta could not be applied. The stored
// balance is unchanged.
type LedgerError struct {
	Kind   LedgerErrorKind
	UserID int64
	Err    error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger: user %d: %s: %v", e.UserID, e.Kind, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Counter names a daily counter that can be spent together with a delta.
type Counter int

const (
	CounterRedemptions Counter = iota
	CounterGamePlays
)

// Ledger applies point deltas and announces the resulting balance.
type Ledger struct {
	store              datastore.DataProviderFactory
	fanout             *Fanout
	metrics            *Metrics
	requireNonNegative bool
}

// NewLedger creates a Ledger.
func NewLedger(st datastore.DataProviderFactory, fanout *Fanout, metrics *Metrics, requireNonNegative bool) *Ledger {
	return &Ledger{store: st, fanout: fanout, metrics: metrics, requireNonNegative: requireNonNegative}
}

// ApplyDelta adds amount to userID's balance and returns the new balance.
// The increment is a single atomic statement, so concurrent deltas for the
// same user always sum. The mutation is detached from ctx cancellation: a
// client disconnecting mid-call does not undo or abort it.
func (l *Ledger) ApplyDelta(ctx context.Context, userID, amount int64, reason string) (int64, error) {
	_, balance, err := l.apply(ctx, userID, amount, reason, nil)
	return balance, err
}

// SpendAndApply consumes one unit of counter and applies amount in the same
// transaction. It returns the counter's remaining value and the new balance.
// An exhausted counter yields datastore.ErrQuotaExhausted and no delta.
func (l *Ledger) SpendAndApply(ctx context.Context, userID int64, counter Counter, amount int64, reason string) (int, int64, error) {
	return l.apply(ctx, userID, amount, reason, func(ctx context.Context, tx datastore.DataStore) (int, error) {
		if counter == CounterRedemptions {
			return tx.ConsumeRedemption(ctx, userID)
		}
		return tx.ConsumeGamePlay(ctx, userID)
	})
}

type spendFunc func(ctx context.Context, tx datastore.DataStore) (int, error)

func (l *Ledger) apply(ctx context.Context, userID, amount int64, reason string, spend spendFunc) (int, int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mutationTimeout)
	defer cancel()

	reason = strings.TrimSpace(reason)

	tx, err := l.store.Tx(ctx)
	if err != nil {
		return 0, 0, l.fail(userID, err)
	}
	defer func() { _ = tx.Rollback() }()

	remaining := 0
	if spend != nil {
		remaining, err = spend(ctx, tx)
		if errors.Is(err, datastore.ErrQuotaExhausted) {
			return 0, 0, err
		}
		if err != nil {
			return 0, 0, l.fail(userID, err)
		}
	}

	balance, err := tx.AddPoints(ctx, userID, amount, l.requireNonNegative)
	if err != nil {
		return 0, 0, l.fail(userID, err)
	}

	entry := &model.LedgerEntry{UserID: userID, Amount: amount, Reason: reason, BalanceAfter: balance}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return 0, 0, l.fail(userID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, l.fail(userID, err)
	}

	l.metrics.LedgerMutations.Add(1)
	slog.Debug("ledger: delta applied", "user", userID, "amount", amount, "reason", reason, "balance", balance)
	l.fanout.PointsUpdate(userID, balance, amount, reason)
	return remaining, balance, nil
}

func (l *Ledger) fail(userID int64, err error) error {
	l.metrics.LedgerFailures.Add(1)

	kind := StoreUnavailable
	switch {
	case errors.Is(err, datastore.ErrInsufficientBalance):
		kind = InsufficientBalance
	case errors.Is(err, datastore.ErrNotFound):
		kind = UnknownAccount
	default:
		slog.Error("ledger: store failure", "user", userID, "err", err)
	}
	return &LedgerError{Kind: kind, UserID: userID, Err: err}
}
