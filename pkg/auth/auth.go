// Package auth issues and verifies the bearer credentials that identify a
// ForgePH account on both the HTTP API and the real-time channel.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Devign20164/ForgePh/pkg/clock"
	"github.com/Devign20164/ForgePh/pkg/model"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

const issuer = "forgeph"

// Kind classifies a verification failure.
type Kind int

const (
	MissingToken Kind = iota
	Invalid
	UserNotFound
)

func (k Kind) String() string {
	switch k {
	case MissingToken:
		return "Token missing"
	case Invalid:
		return "Invalid token"
	case UserNotFound:
		return "User not found"
	default:
		return "unknown"
	}
}

// Error is returned by Verify. It never carries a partially resolved user.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "auth: " + e.Kind.String()
	}
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the text sent to a rejected client.
func (e *Error) Reason() string {
	return "Authentication error: " + e.Kind.String()
}

// Claims is the token payload.
type Claims struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}

// UserLookup resolves a user id. It returns (nil, nil) for unknown ids.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Verifier issues and checks HS256 tokens signed with a server secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	users  UserLookup
}

// NewVerifier creates a Verifier. A non-positive ttl uses DefaultTTL.
func NewVerifier(secret []byte, ttl time.Duration, clk clock.Clock, users UserLookup) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Verifier{secret: secret, ttl: ttl, clock: clk, users: users}, nil
}

// Issue mints a token for user.
func (v *Verifier) Issue(user *model.User) (string, error) {
	if user == nil || user.ID <= 0 {
		return "", errors.New("auth: issue: user has no id")
	}
	now := v.clock.Now()
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks token and resolves it to the stored account with secret
// fields cleared. The only side effect is one user lookup.
func (v *Verifier) Verify(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &Error{Kind: MissingToken}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, &Error{Kind: Invalid, Err: err}
	}
	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, &Error{Kind: Invalid, Err: errors.New("subject does not match id claim")}
	}

	user, err := v.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user %d: %w", claims.UserID, err)
	}
	if user == nil {
		return nil, &Error{Kind: UserNotFound}
	}
	return user.Public(), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
