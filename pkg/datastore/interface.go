package datastore

import (
	"context"
	"errors"

	"github.com/Devign20164/ForgePh/pkg/model"
)

var (
	// ErrNotFound is returned when a mutation targets a user that does not exist.
	ErrNotFound = errors.New("datastore: not found")
	// ErrDuplicateEmail is returned when registering an email that is taken.
	ErrDuplicateEmail = errors.New("datastore: email already registered")
	// ErrInsufficientBalance is returned when a delta would drive points below zero.
	ErrInsufficientBalance = errors.New("datastore: insufficient balance")
	// ErrQuotaExhausted is returned when a daily counter is already at zero.
	ErrQuotaExhausted = errors.New("datastore: daily quota exhausted")
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for ForgePH accounts.
// Implementations include the default SQLite store and the in-memory
// store used by tests.
type DataStore interface {
	UserReadProvider
	UserWriteProvider

	PointsProvider
	CounterProvider

	LedgerReadProvider
	LedgerWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type UserReadProvider interface {
	// GetUserByID returns (nil, nil) if the user does not exist.
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	// GetUserByEmail matches case-insensitively. Returns (nil, nil) if not found.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	// ListTopUsers returns up to limit users of one type, highest balance first.
	ListTopUsers(ctx context.Context, userType model.UserType, limit int) ([]model.User, error)
}

type UserWriteProvider interface {
	CreateUser(ctx context.Context, user *model.User) error
	UpdateUserStatus(ctx context.Context, userID int64, status model.UserStatus) error
}

type PointsProvider interface {
	// AddPoints atomically adds delta to the stored balance and returns the
	// result. With requireNonNegative the update is refused with
	// ErrInsufficientBalance instead of going below zero.
	AddPoints(ctx context.Context, userID, delta int64, requireNonNegative bool) (int64, error)
}

type CounterProvider interface {
	// ResetRedemptionCount sets the redemption counter to value and its day
	// key to day, but only if the stored day key differs from day. It
	// reports whether a row changed.
	ResetRedemptionCount(ctx context.Context, userID int64, day string, value int) (bool, error)
	// ResetDailyGamePlays is ResetRedemptionCount for the game-play counter.
	ResetDailyGamePlays(ctx context.Context, userID int64, day string, value int) (bool, error)
	// ConsumeRedemption decrements a positive redemption counter and returns
	// what remains, or ErrQuotaExhausted.
	ConsumeRedemption(ctx context.Context, userID int64) (int, error)
	ConsumeGamePlay(ctx context.Context, userID int64) (int, error)
}

type LedgerReadProvider interface {
	// ListLedgerEntries returns the newest entries first.
	ListLedgerEntries(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
}

type LedgerWriteProvider interface {
	AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
}
