package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Devign20164/ForgePh/pkg/crypto"
	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/model"
)

// Environment variables read by ApplyEnv.
const (
	EnvJWTSecret = "FORGEPH_JWT_SECRET"
	EnvLogLevel  = "FORGEPH_LOG_LEVEL"
)

// LoadConfigFile overlays the YAML file at path onto cfg. Keys absent from
// the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvJWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// UserYAML represents an account in the YAML seed file and in exports.
// Password is only read from seed files; exports never contain it.
type UserYAML struct {
	ID        int64          `yaml:"id,omitempty"`
	Name      string         `yaml:"name"`
	Email     string         `yaml:"email"`
	Password  string         `yaml:"password,omitempty"`
	Phone     string         `yaml:"phone_number,omitempty"`
	Location  model.Location `yaml:"location,omitempty"`
	UserType  string         `yaml:"user_type"`
	ShopName  string         `yaml:"shop_name,omitempty"`
	Status    string         `yaml:"status"`
	Points    int64          `yaml:"points"`
	Rank      string         `yaml:"rank,omitempty"`
	CreatedAt string         `yaml:"created_at,omitempty"`
}

// UsersFile is the top-level YAML for user seeds and exports.
type UsersFile struct {
	Users []UserYAML `yaml:"users"`
}

// LoadUsersFromYAML reads a users YAML file and creates missing accounts.
func LoadUsersFromYAML(ctx context.Context, path string, st datastore.DataProviderFactory, bcryptCost int) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	return ImportUsersFromYAML(ctx, data, st, bcryptCost)
}

// ImportUsersFromYAML creates every account in data whose email is not yet
// registered. Existing accounts are left untouched.
func ImportUsersFromYAML(ctx context.Context, data []byte, st datastore.DataProviderFactory, bcryptCost int) error {
	var f UsersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse users file: %w", err)
	}

	created := 0
	for _, u := range f.Users {
		ok, err := ensureUser(ctx, st, u, bcryptCost)
		if err != nil {
			slog.Error("failed to create user from seed", "email", u.Email, "err", err)
			continue
		}
		if ok {
			created++
		}
	}

	slog.Info("imported users from YAML", "count", created, "total", len(f.Users))
	return nil
}

func ensureUser(ctx context.Context, st datastore.DataProviderFactory, u UserYAML, bcryptCost int) (bool, error) {
	existing, err := st.NonTx().GetUserByEmail(ctx, u.Email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if err := model.ValidatePassword(u.Password); err != nil {
		return false, err
	}
	status := model.ParseUserStatus(u.Status)
	userType := model.UserType(u.UserType)
	if userType == "" {
		userType = model.UserTypeCustomer
	}
	hash, err := crypto.HashPassword(u.Password, bcryptCost)
	if err != nil {
		return false, err
	}

	user := &model.User{
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: hash,
		PhoneNumber:  u.Phone,
		Location:     u.Location,
		UserType:     userType,
		ShopName:     u.ShopName,
		Rank:         u.Rank,
		UserStatus:   status,
	}

	tx, err := st.Tx(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateUser(ctx, user); err != nil {
		return false, err
	}
	if u.Points != 0 {
		balance, err := tx.AddPoints(ctx, user.ID, u.Points, true)
		if err != nil {
			return false, err
		}
		entry := &model.LedgerEntry{UserID: user.ID, Amount: u.Points, Reason: "seed", BalanceAfter: balance}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	slog.Debug("created user from seed", "email", user.Email, "id", user.ID)
	return true, nil
}

// ExportUsersYAML exports all users as YAML, without password hashes.
func ExportUsersYAML(ctx context.Context, ds datastore.DataStore) ([]byte, error) {
	users, err := ds.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	export := UsersFile{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Phone:     u.PhoneNumber,
			Location:  u.Location,
			UserType:  string(u.UserType),
			ShopName:  u.ShopName,
			Status:    u.UserStatus.String(),
			Points:    u.Points,
			Rank:      u.Rank,
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return yaml.Marshal(&export)
}
