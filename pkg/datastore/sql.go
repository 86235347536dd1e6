package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Devign20164/ForgePh/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all ForgePH entities.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: begin: %w", err)
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// dsn builds a modernc.org/sqlite connection string. Pragmas set here apply
// to every pooled connection, not just the first one.
func dsn(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	// Avoid "database is locked" under concurrent writers
	q.Add("_pragma", "busy_timeout(5000)")
	// Writers take the lock at BEGIN so busy_timeout applies to transactions too
	q.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + q.Encode()
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}
	if err := DB.PingContext(context.Background()); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		name                 TEXT    NOT NULL CHECK(length(name) > 0),
		email                TEXT    NOT NULL UNIQUE COLLATE NOCASE,
		password_hash        TEXT    NOT NULL,
		phone_number         TEXT    NOT NULL DEFAULT '',
		province             TEXT    NOT NULL DEFAULT '',
		city                 TEXT    NOT NULL DEFAULT '',
		user_type            TEXT    NOT NULL DEFAULT 'Customer' CHECK(user_type IN ('Customer', 'Retailer')),
		points               INTEGER NOT NULL DEFAULT 0,
		user_rank            TEXT    NOT NULL DEFAULT 'Bronze',
		shop_name            TEXT    NOT NULL DEFAULT '',
		user_status          INTEGER NOT NULL DEFAULT 0 CHECK(user_status IN (0, 1)),
		redemption_count     INTEGER NOT NULL DEFAULT 0,
		last_redemption_date TEXT    NOT NULL DEFAULT '',
		daily_game_plays     INTEGER NOT NULL DEFAULT 0,
		last_game_play_date  TEXT    NOT NULL DEFAULT '',
		created_at           TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount        INTEGER NOT NULL,
		reason        TEXT    NOT NULL DEFAULT '',
		balance_after INTEGER NOT NULL,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_users_type_points ON users (user_type, points DESC)",
				"CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries (user_id, id DESC)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

const userColumns = `id, name, email, password_hash, phone_number, province, city, user_type, points,
	user_rank, shop_name, user_status, redemption_count, last_redemption_date,
	daily_game_plays, last_game_play_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var userType, createdAt string
	var status int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.PhoneNumber,
		&u.Location.Province, &u.Location.City, &userType, &u.Points,
		&u.Rank, &u.ShopName, &status, &u.RedemptionCount, &u.LastRedemptionDate,
		&u.DailyGamePlays, &u.LastGamePlayDate, &createdAt)
	if err != nil {
		return nil, err
	}
	u.UserType = model.UserType(userType)
	u.UserStatus = model.UserStatus(status)
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parsed
	return u, nil
}

// CreateUser validates and inserts a user, assigning its ID.
func (s *baseProvider) CreateUser(ctx context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)
	user.Name = strings.TrimSpace(user.Name)
	if err := user.Validate(); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	if !user.UserStatus.Valid() {
		return fmt.Errorf("datastore: create user: invalid status %d", int(user.UserStatus))
	}
	if user.Rank == "" {
		user.Rank = model.DefaultRank
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := s.ExecContext(ctx, `
		INSERT INTO users (name, email, password_hash, phone_number, province, city, user_type, points,
			user_rank, shop_name, user_status, redemption_count, last_redemption_date,
			daily_game_plays, last_game_play_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Name, user.Email, user.PasswordHash, user.PhoneNumber,
		user.Location.Province, user.Location.City, string(user.UserType), user.Points,
		user.Rank, user.ShopName, int(user.UserStatus), user.RedemptionCount, user.LastRedemptionDate,
		user.DailyGamePlays, user.LastGamePlayDate, formatDBTime(user.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("datastore: create user: %w", err)
	}
	user.ID, _ = res.LastInsertId()
	user.CreatedAt = user.CreatedAt.UTC().Truncate(time.Second)
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *baseProvider) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email.
func (s *baseProvider) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", model.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns all users.
func (s *baseProvider) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.queryUsers(ctx, "datastore: list users", "SELECT "+userColumns+" FROM users ORDER BY id")
}

// ListTopUsers returns the highest balances for a user type.
func (s *baseProvider) ListTopUsers(ctx context.Context, userType model.UserType, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryUsers(ctx, "datastore: list top users",
		"SELECT "+userColumns+" FROM users WHERE user_type = ? ORDER BY points DESC, id ASC LIMIT ?",
		string(userType), limit)
}

func (s *baseProvider) queryUsers(ctx context.Context, op, query string, args ...any) ([]model.User, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUserStatus changes a user's verification status.
func (s *baseProvider) UpdateUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	if !status.Valid() {
		return fmt.Errorf("datastore: update user status: invalid status %d", int(status))
	}
	res, err := s.ExecContext(ctx, "UPDATE users SET user_status = ? WHERE id = ?", int(status), userID)
	if err != nil {
		return fmt.Errorf("datastore: update user status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *baseProvider) userExists(ctx context.Context, userID int64) (bool, error) {
	var count int
	if err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ---- Points ----

// AddPoints applies delta with a single UPDATE so concurrent deltas never
// overwrite each other.
func (s *baseProvider) AddPoints(ctx context.Context, userID, delta int64, requireNonNegative bool) (int64, error) {
	query := "UPDATE users SET points = points + ? WHERE id = ? RETURNING points"
	args := []any{delta, userID}
	if requireNonNegative {
		query = "UPDATE users SET points = points + ? WHERE id = ? AND points + ? >= 0 RETURNING points"
		args = append(args, delta)
	}

	var balance int64
	err := s.QueryRowContext(ctx, query, args...).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		exists, err := s.userExists(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("datastore: add points: %w", err)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("datastore: add points: %w", err)
	}
	return balance, nil
}

// ---- Daily counters ----

// ResetRedemptionCount performs the conditional daily reset of the redemption counter.
func (s *baseProvider) ResetRedemptionCount(ctx context.Context, userID int64, day string, value int) (bool, error) {
	return s.resetCounter(ctx, "redemption_count", "last_redemption_date", userID, day, value)
}

// ResetDailyGamePlays performs the conditional daily reset of the game-play counter.
func (s *baseProvider) ResetDailyGamePlays(ctx context.Context, userID int64, day string, value int) (bool, error) {
	return s.resetCounter(ctx, "daily_game_plays", "last_game_play_date", userID, day, value)
}

// resetCounter only writes when the stored day differs, so two requests
// racing through a stale read apply the reset once.
func (s *baseProvider) resetCounter(ctx context.Context, counterCol, dayCol string, userID int64, day string, value int) (bool, error) {
	query := fmt.Sprintf("UPDATE users SET %s = ?, %s = ? WHERE id = ? AND %s <> ?", counterCol, dayCol, dayCol)
	res, err := s.ExecContext(ctx, query, value, day, userID, day)
	if err != nil {
		return false, fmt.Errorf("datastore: reset %s: %w", counterCol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: reset %s: %w", counterCol, err)
	}
	return n > 0, nil
}

// ConsumeRedemption spends one of today's redemptions.
func (s *baseProvider) ConsumeRedemption(ctx context.Context, userID int64) (int, error) {
	return s.consumeCounter(ctx, "redemption_count", userID)
}

// ConsumeGamePlay spends one of today's game plays.
func (s *baseProvider) ConsumeGamePlay(ctx context.Context, userID int64) (int, error) {
	return s.consumeCounter(ctx, "daily_game_plays", userID)
}

func (s *baseProvider) consumeCounter(ctx context.Context, counterCol string, userID int64) (int, error) {
	query := fmt.Sprintf("UPDATE users SET %s = %s - 1 WHERE id = ? AND %s > 0 RETURNING %s", counterCol, counterCol, counterCol, counterCol)
	var remaining int
	err := s.QueryRowContext(ctx, query, userID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		exists, err := s.userExists(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("datastore: consume %s: %w", counterCol, err)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrQuotaExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("datastore: consume %s: %w", counterCol, err)
	}
	return remaining, nil
}

// ---- Ledger ----

// AppendLedgerEntry records an applied delta.
func (s *baseProvider) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if r := []rune(entry.Reason); len(r) > model.MaxReasonLength {
		entry.Reason = string(r[:model.MaxReasonLength])
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.ExecContext(ctx,
		"INSERT INTO ledger_entries (user_id, amount, reason, balance_after, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.UserID, entry.Amount, entry.Reason, entry.BalanceAfter, formatDBTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: append ledger entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Second)
	return nil
}

// ListLedgerEntries returns a user's most recent ledger entries.
func (s *baseProvider) ListLedgerEntries(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx,
		"SELECT id, user_id, amount, reason, balance_after, created_at FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &e.BalanceAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan ledger entry: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan ledger entry: %w", err)
		}
		e.CreatedAt = parsed
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
