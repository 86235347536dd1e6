package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
	"github.com/Devign20164/ForgePh/pkg/store"
)

func TestLedgerConcurrentDeltasSum(t *testing.T) {
	env := newTestServer(t)
	u := env.seedUser(t, "Juan", "juan@example.com", model.StatusVerified)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := env.srv.Ledger().ApplyDelta(context.Background(), u.ID, amount, "quiz")
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	got, err := env.st.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(210), got.Points)

	entries, err := env.st.ListLedgerEntries(context.Background(), u.ID, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
	assert.Equal(t, int64(20), env.srv.Metrics().LedgerMutations.Load())
}

func TestLedgerErrors(t *testing.T) {
	type tcase struct {
		userID  func(u *model.User) int64
		amount  int64
		kind    LedgerErrorKind
		balance int64
	}
	tests := map[string]tcase{
		"insufficient balance": {
			userID:  func(u *model.User) int64 { return u.ID },
			amount:  -50,
			kind:    InsufficientBalance,
			balance: 20,
		},
		"unknown account": {
			userID:  func(u *model.User) int64 { return u.ID + 1000 },
			amount:  5,
			kind:    UnknownAccount,
			balance: 20,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestServer(t)
			u := env.seedUser(t, "Juan", "juan@example.com", model.StatusVerified)
			_, err := env.srv.Ledger().ApplyDelta(context.Background(), u.ID, 20, "seed")
			require.NoError(t, err)

			_, err = env.srv.Ledger().ApplyDelta(context.Background(), tc.userID(u), tc.amount, "x")
			var lerr *LedgerError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tc.kind, lerr.Kind)

			got, err := env.st.GetUserByID(context.Background(), u.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.balance, got.Points)

			entries, err := env.st.ListLedgerEntries(context.Background(), u.ID, 10)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "failed mutation must not be journaled")
		})
	}
}

func TestLedgerApplyDeltaReturnsBalance(t *testing.T) {
	env := newTestServer(t)
	u := env.seedUser(t, "Juan", "juan@example.com", model.StatusVerified)

	for _, want := range []int64{10, 20, 30} {
		balance, err := env.srv.Ledger().ApplyDelta(context.Background(), u.ID, 10, "quiz")
		require.NoError(t, err)
		assert.Equal(t, want, balance)
	}
}

func TestLedgerAllowsNegativeWhenConfigured(t *testing.T) {
	env := newTestServer(t, func(c *Config) { c.RequireNonNegative = false })
	u := env.seedUser(t, "Juan", "juan@example.com", model.StatusVerified)

	balance, err := env.srv.Ledger().ApplyDelta(context.Background(), u.ID, -5, "penalty")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), balance)
}

func TestLedgerSpendAndApply(t *testing.T) {
	env := newTestServer(t)
	u := env.seedUser(t, "Juan", "juan@example.com", model.StatusVerified)
	ctx := context.Background()
	_, err := env.st.ResetDailyGamePlays(ctx, u.ID, "2024-06-01", 2)
	require.NoError(t, err)

	remaining, balance, err := env.srv.Ledger().SpendAndApply(ctx, u.ID, CounterGamePlays, 15, "game:spin")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, int64(15), balance)

	remaining, balance, err = env.srv.Ledger().SpendAndApply(ctx, u.ID, CounterGamePlays, 0, "game:spin")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, int64(15), balance)

	_, _, err = env.srv.Ledger().SpendAndApply(ctx, u.ID, CounterGamePlays, 15, "game:spin")
	require.ErrorIs(t, err, datastore.ErrQuotaExhausted)

	got, err := env.st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Points)
	assert.Equal(t, 0, got.DailyGamePlays)
}

func TestLedgerSpendRollsBackOnFailedDelta(t *testing.T) {
	env := newTestServer(t)
	u := env.seedUser(t, "Juan", "juan@example.com", model.StatusVerified)
	ctx := context.Background()
	_, err := env.st.ResetRedemptionCount(ctx, u.ID, "2024-06-01", 3)
	require.NoError(t, err)

	_, _, err = env.srv.Ledger().SpendAndApply(ctx, u.ID, CounterRedemptions, -10, "promo:bad")
	var lerr *LedgerError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, InsufficientBalance, lerr.Kind)

	got, err := env.st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RedemptionCount, "consume must roll back with the delta")
}

// gatedStore blocks AddPoints until release is closed.
type gatedStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Tx(ctx context.Context) (datastore.DataStoreTx, error) {
	tx, err := g.MemoryStore.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &gatedTx{DataStoreTx: tx, g: g}, nil
}

type gatedTx struct {
	datastore.DataStoreTx
	g *gatedStore
}

func (t *gatedTx) AddPoints(ctx context.Context, userID, delta int64, requireNonNegative bool) (int64, error) {
	t.g.once.Do(func() { close(t.g.entered) })
	select {
	case <-t.g.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return t.DataStoreTx.AddPoints(ctx, userID, delta, requireNonNegative)
}

func TestLedgerSurvivesCallerCancel(t *testing.T) {
	mem := store.NewMemory()
	gs := &gatedStore{MemoryStore: mem, entered: make(chan struct{}), release: make(chan struct{})}
	u := &model.User{Name: "Juan", Email: "juan@example.com", UserType: model.UserTypeCustomer}
	require.NoError(t, mem.CreateUser(context.Background(), u))

	metrics := NewMetrics()
	ledger := NewLedger(gs, NewFanout(NewRegistry(), metrics), metrics, true)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ledger.ApplyDelta(ctx, u.ID, 10, "quiz")
		errCh <- err
	}()

	<-gs.entered
	cancel() // client went away mid-mutation
	close(gs.release)

	err := <-errCh
	require.NoError(t, err)
	assert.False(t, errors.Is(err, context.Canceled))

	got, err := mem.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Points)
}
