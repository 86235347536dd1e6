package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
)

// MemoryStore provides an in-memory datastore.DataProviderFactory for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex
	// txMu serializes transactions the way SQLite's immediate locking does.
	txMu sync.Mutex

	now func() time.Time

	nextUserID   int64
	nextLedgerID int64

	usersByID    map[int64]*model.User
	usersByEmail map[string]*model.User
	ledger       []model.LedgerEntry
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:          now,
		nextUserID:   1,
		nextLedgerID: 1,
		usersByID:    make(map[int64]*model.User),
		usersByEmail: make(map[string]*model.User),
	}
}

// NonTx returns the store itself; every call applies immediately.
func (s *MemoryStore) NonTx() datastore.DataStore {
	return s
}

// Tx starts a transaction. Writes made through it are undone on Rollback.
func (s *MemoryStore) Tx(ctx context.Context) (datastore.DataStoreTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	s.txMu.Lock()
	return &memoryTx{MemoryStore: s}, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ---- Users ----

// CreateUser validates and stores a user, assigning its ID.
func (s *MemoryStore) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.createUser(user)
	return err
}

func (s *MemoryStore) createUser(user *model.User) (int64, error) {
	user.Email = model.NormalizeEmail(user.Email)
	user.Name = strings.TrimSpace(user.Name)
	if err := user.Validate(); err != nil {
		return 0, fmt.Errorf("store: create user: %w", err)
	}
	if !user.UserStatus.Valid() {
		return 0, fmt.Errorf("store: create user: invalid status %d", int(user.UserStatus))
	}
	if user.Rank == "" {
		user.Rank = model.DefaultRank
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByEmail[user.Email]; exists {
		return 0, datastore.ErrDuplicateEmail
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.CreatedAt = user.CreatedAt.UTC().Truncate(time.Second)
	user.ID = s.nextUserID
	s.nextUserID++

	stored := *user
	s.usersByID[stored.ID] = &stored
	s.usersByEmail[stored.Email] = &stored
	return stored.ID, nil
}

func (s *MemoryStore) deleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByID[id]; ok {
		delete(s.usersByEmail, u.Email)
		delete(s.usersByID, id)
	}
}

// GetUserByID retrieves a user by ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// GetUserByEmail retrieves a user by email.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByEmail[model.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// ListUsers returns all users.
func (s *MemoryStore) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// ListTopUsers returns the highest balances for a user type.
func (s *MemoryStore) ListTopUsers(ctx context.Context, userType model.UserType, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []model.User
	for _, user := range s.usersByID {
		if user.UserType == userType {
			users = append(users, *user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Points == users[j].Points {
			return users[i].ID < users[j].ID
		}
		return users[i].Points > users[j].Points
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// UpdateUserStatus changes a user's verification status.
func (s *MemoryStore) UpdateUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	_, err := s.updateUserStatus(userID, status)
	return err
}

func (s *MemoryStore) updateUserStatus(userID int64, status model.UserStatus) (model.UserStatus, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("store: update user status: invalid status %d", int(status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByID[userID]
	if !ok {
		return 0, datastore.ErrNotFound
	}
	prev := user.UserStatus
	user.UserStatus = status
	return prev, nil
}

// ---- Points ----

// AddPoints applies delta under the write lock.
func (s *MemoryStore) AddPoints(ctx context.Context, userID, delta int64, requireNonNegative bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByID[userID]
	if !ok {
		return 0, datastore.ErrNotFound
	}
	if requireNonNegative && user.Points+delta < 0 {
		return 0, datastore.ErrInsufficientBalance
	}
	user.Points += delta
	return user.Points, nil
}

// ---- Daily counters ----

type counterField int

const (
	redemptionCounter counterField = iota
	gamePlayCounter
)

func (f counterField) fields(u *model.User) (*int, *string) {
	if f == redemptionCounter {
		return &u.RedemptionCount, &u.LastRedemptionDate
	}
	return &u.DailyGamePlays, &u.LastGamePlayDate
}

// ResetRedemptionCount performs the conditional daily reset of the redemption counter.
func (s *MemoryStore) ResetRedemptionCount(ctx context.Context, userID int64, day string, value int) (bool, error) {
	applied, _, _, err := s.resetCounter(redemptionCounter, userID, day, value)
	return applied, err
}

// ResetDailyGamePlays performs the conditional daily reset of the game-play counter.
func (s *MemoryStore) ResetDailyGamePlays(ctx context.Context, userID int64, day string, value int) (bool, error) {
	applied, _, _, err := s.resetCounter(gamePlayCounter, userID, day, value)
	return applied, err
}

func (s *MemoryStore) resetCounter(f counterField, userID int64, day string, value int) (bool, int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByID[userID]
	if !ok {
		return false, 0, "", nil
	}
	count, lastDay := f.fields(user)
	if *lastDay == day {
		return false, 0, "", nil
	}
	prevCount, prevDay := *count, *lastDay
	*count, *lastDay = value, day
	return true, prevCount, prevDay, nil
}

func (s *MemoryStore) restoreCounter(f counterField, userID int64, value int, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.usersByID[userID]; ok {
		count, lastDay := f.fields(user)
		*count, *lastDay = value, day
	}
}

// ConsumeRedemption spends one of today's redemptions.
func (s *MemoryStore) ConsumeRedemption(ctx context.Context, userID int64) (int, error) {
	return s.consumeCounter(redemptionCounter, userID)
}

// ConsumeGamePlay spends one of today's game plays.
func (s *MemoryStore) ConsumeGamePlay(ctx context.Context, userID int64) (int, error) {
	return s.consumeCounter(gamePlayCounter, userID)
}

func (s *MemoryStore) consumeCounter(f counterField, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByID[userID]
	if !ok {
		return 0, datastore.ErrNotFound
	}
	count, _ := f.fields(user)
	if *count <= 0 {
		return 0, datastore.ErrQuotaExhausted
	}
	*count--
	return *count, nil
}

func (s *MemoryStore) refundCounter(f counterField, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.usersByID[userID]; ok {
		count, _ := f.fields(user)
		*count++
	}
}

// ---- Ledger ----

// AppendLedgerEntry records an applied delta.
func (s *MemoryStore) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if r := []rune(entry.Reason); len(r) > model.MaxReasonLength {
		entry.Reason = string(r[:model.MaxReasonLength])
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByID[entry.UserID]; !ok {
		return fmt.Errorf("store: append ledger entry: FOREIGN KEY constraint failed")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Second)
	entry.ID = s.nextLedgerID
	s.nextLedgerID++
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) removeLedgerEntry(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ledger {
		if s.ledger[i].ID == id {
			s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
			return
		}
	}
}

// ListLedgerEntries returns a user's most recent ledger entries.
func (s *MemoryStore) ListLedgerEntries(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []model.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.ledger[i].UserID == userID {
			entries = append(entries, s.ledger[i])
		}
	}
	return entries, nil
}

// memoryTx applies writes directly and keeps an undo log for Rollback.
type memoryTx struct {
	*MemoryStore
	undo []func()
	done bool
}

func (tx *memoryTx) CreateUser(ctx context.Context, user *model.User) error {
	id, err := tx.createUser(user)
	if err == nil {
		tx.undo = append(tx.undo, func() { tx.deleteUser(id) })
	}
	return err
}

func (tx *memoryTx) UpdateUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	prev, err := tx.updateUserStatus(userID, status)
	if err == nil {
		tx.undo = append(tx.undo, func() { _, _ = tx.updateUserStatus(userID, prev) })
	}
	return err
}

func (tx *memoryTx) AddPoints(ctx context.Context, userID, delta int64, requireNonNegative bool) (int64, error) {
	balance, err := tx.MemoryStore.AddPoints(ctx, userID, delta, requireNonNegative)
	if err == nil {
		tx.undo = append(tx.undo, func() { _, _ = tx.MemoryStore.AddPoints(ctx, userID, -delta, false) })
	}
	return balance, err
}

func (tx *memoryTx) ResetRedemptionCount(ctx context.Context, userID int64, day string, value int) (bool, error) {
	return tx.reset(redemptionCounter, userID, day, value)
}

func (tx *memoryTx) ResetDailyGamePlays(ctx context.Context, userID int64, day string, value int) (bool, error) {
	return tx.reset(gamePlayCounter, userID, day, value)
}

func (tx *memoryTx) reset(f counterField, userID int64, day string, value int) (bool, error) {
	applied, prevCount, prevDay, err := tx.resetCounter(f, userID, day, value)
	if applied {
		tx.undo = append(tx.undo, func() { tx.restoreCounter(f, userID, prevCount, prevDay) })
	}
	return applied, err
}

func (tx *memoryTx) ConsumeRedemption(ctx context.Context, userID int64) (int, error) {
	return tx.consume(redemptionCounter, userID)
}

func (tx *memoryTx) ConsumeGamePlay(ctx context.Context, userID int64) (int, error) {
	return tx.consume(gamePlayCounter, userID)
}

func (tx *memoryTx) consume(f counterField, userID int64) (int, error) {
	remaining, err := tx.consumeCounter(f, userID)
	if err == nil {
		tx.undo = append(tx.undo, func() { tx.refundCounter(f, userID) })
	}
	return remaining, err
}

func (tx *memoryTx) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	err := tx.MemoryStore.AppendLedgerEntry(ctx, entry)
	if err == nil {
		id := entry.ID
		tx.undo = append(tx.undo, func() { tx.removeLedgerEntry(id) })
	}
	return err
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("store: commit: transaction already finished")
	}
	tx.done = true
	tx.undo = nil
	tx.txMu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return fmt.Errorf("store: rollback: transaction already finished")
	}
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.txMu.Unlock()
	return nil
}

// Compile-time check: *MemoryStore implements DataProviderFactory.
var _ datastore.DataProviderFactory = (*MemoryStore)(nil)
