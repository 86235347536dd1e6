package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
	"github.com/Devign20164/ForgePh/pkg/store"
)

// withStores runs fn against the in-memory store and a SQLite store so the
// two implementations stay interchangeable.
func withStores(t *testing.T, fn func(t *testing.T, st datastore.DataProviderFactory)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryWithClock(func() time.Time {
			return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
		}))
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := datastore.NewProviderFactory(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("NewProviderFactory: unexpected error: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func TestStoreBasicFlow(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		user := &model.User{Name: "Juan", Email: "Juan@Example.com", PasswordHash: "hash", UserType: model.UserTypeCustomer}
		if err := st.NonTx().CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: unexpected error: %v", err)
		}
		if user.ID == 0 {
			t.Fatalf("CreateUser: expected non-zero ID")
		}

		fetched, err := st.NonTx().GetUserByEmail(ctx, "juan@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail: unexpected error: %v", err)
		}
		if fetched == nil || fetched.ID != user.ID {
			t.Fatalf("GetUserByEmail: expected user with ID %d", user.ID)
		}

		dup := &model.User{Name: "Juan 2", Email: "juan@example.com", UserType: model.UserTypeCustomer}
		if err := st.NonTx().CreateUser(ctx, dup); !errors.Is(err, datastore.ErrDuplicateEmail) {
			t.Fatalf("CreateUser: expected ErrDuplicateEmail, got %v", err)
		}

		balance, err := st.NonTx().AddPoints(ctx, user.ID, 25, true)
		if err != nil || balance != 25 {
			t.Fatalf("AddPoints: got (%d, %v), want (25, nil)", balance, err)
		}
		if _, err := st.NonTx().AddPoints(ctx, user.ID, -30, true); !errors.Is(err, datastore.ErrInsufficientBalance) {
			t.Fatalf("AddPoints: expected ErrInsufficientBalance, got %v", err)
		}
		if _, err := st.NonTx().AddPoints(ctx, 9999, 1, true); !errors.Is(err, datastore.ErrNotFound) {
			t.Fatalf("AddPoints: expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreCounters(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		ds := st.NonTx()
		user := &model.User{Name: "Juan", Email: "juan@example.com", UserType: model.UserTypeCustomer}
		if err := ds.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: unexpected error: %v", err)
		}

		if applied, err := ds.ResetDailyGamePlays(ctx, user.ID, "2024-06-01", 1); err != nil || !applied {
			t.Fatalf("ResetDailyGamePlays: got (%v, %v), want (true, nil)", applied, err)
		}
		if applied, err := ds.ResetDailyGamePlays(ctx, user.ID, "2024-06-01", 1); err != nil || applied {
			t.Fatalf("ResetDailyGamePlays (again): got (%v, %v), want (false, nil)", applied, err)
		}
		if remaining, err := ds.ConsumeGamePlay(ctx, user.ID); err != nil || remaining != 0 {
			t.Fatalf("ConsumeGamePlay: got (%d, %v), want (0, nil)", remaining, err)
		}
		if _, err := ds.ConsumeGamePlay(ctx, user.ID); !errors.Is(err, datastore.ErrQuotaExhausted) {
			t.Fatalf("ConsumeGamePlay: expected ErrQuotaExhausted, got %v", err)
		}
	})
}

func TestStoreTxRollback(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		user := &model.User{Name: "Juan", Email: "juan@example.com", UserType: model.UserTypeCustomer}
		if err := st.NonTx().CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: unexpected error: %v", err)
		}

		tx, err := st.Tx(ctx)
		if err != nil {
			t.Fatalf("Tx: unexpected error: %v", err)
		}
		balance, err := tx.AddPoints(ctx, user.ID, 40, true)
		if err != nil {
			t.Fatalf("AddPoints: unexpected error: %v", err)
		}
		entry := &model.LedgerEntry{UserID: user.ID, Amount: 40, Reason: "quiz", BalanceAfter: balance}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			t.Fatalf("AppendLedgerEntry: unexpected error: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback: unexpected error: %v", err)
		}

		got, err := st.NonTx().GetUserByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserByID: unexpected error: %v", err)
		}
		if got.Points != 0 {
			t.Errorf("points after rollback = %d, want 0", got.Points)
		}
		entries, err := st.NonTx().ListLedgerEntries(ctx, user.ID, 10)
		if err != nil {
			t.Fatalf("ListLedgerEntries: unexpected error: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("ledger entries after rollback = %d, want 0", len(entries))
		}
	})
}

func TestStoreTxCommit(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		user := &model.User{Name: "Juan", Email: "juan@example.com", UserType: model.UserTypeCustomer}
		if err := st.NonTx().CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: unexpected error: %v", err)
		}

		tx, err := st.Tx(ctx)
		if err != nil {
			t.Fatalf("Tx: unexpected error: %v", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.AddPoints(ctx, user.ID, 15, true); err != nil {
			t.Fatalf("AddPoints: unexpected error: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: unexpected error: %v", err)
		}

		got, err := st.NonTx().GetUserByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserByID: unexpected error: %v", err)
		}
		if got.Points != 15 {
			t.Errorf("points after commit = %d, want 15", got.Points)
		}
	})
}
