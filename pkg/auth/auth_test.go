package auth_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Devign20164/ForgePh/pkg/auth"
	"github.com/Devign20164/ForgePh/pkg/clock"
	"github.com/Devign20164/ForgePh/pkg/model"
	"github.com/Devign20164/ForgePh/pkg/store"
)

var testSecret = []byte("test-secret-for-forgeph")

func newVerifier(t *testing.T) (*auth.Verifier, *clock.Manual, *model.User) {
	t.Helper()

	st := store.NewMemory()
	u := &model.User{
		Name:         "Juan",
		Email:        "juan@example.com",
		PasswordHash: "$2a$10$secret",
		UserType:     model.UserTypeCustomer,
	}
	require.NoError(t, st.CreateUser(context.Background(), u))

	clk := clock.NewManual(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	v, err := auth.NewVerifier(testSecret, time.Hour, clk, st)
	require.NoError(t, err)
	return v, clk, u
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyValidToken(t *testing.T) {
	t.Parallel()

	v, _, u := newVerifier(t)
	token, err := v.Issue(u)
	require.NoError(t, err)

	got, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Juan", got.Name)
	assert.Empty(t, got.PasswordHash)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	v, clk, u := newVerifier(t)
	now := clk.Now()
	valid := func(id int64) auth.Claims {
		return auth.Claims{
			UserID: id,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "forgeph",
				Subject:   strconv.FormatInt(id, 10),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}
	noExpiry := valid(u.ID)
	noExpiry.ExpiresAt = nil
	mismatched := valid(u.ID)
	mismatched.Subject = "999"

	type tcase struct {
		token string
		kind  auth.Kind
	}

	tcases := map[string]tcase{
		"missing":      {token: "   ", kind: auth.MissingToken},
		"malformed":    {token: "not.a.jwt", kind: auth.Invalid},
		"wrong_secret": {token: signed(t, jwt.SigningMethodHS256, []byte("other"), valid(u.ID)), kind: auth.Invalid},
		"wrong_alg":    {token: signed(t, jwt.SigningMethodHS512, testSecret, valid(u.ID)), kind: auth.Invalid},
		"alg_none":     {token: signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid(u.ID)), kind: auth.Invalid},
		"no_expiry":    {token: signed(t, jwt.SigningMethodHS256, testSecret, noExpiry), kind: auth.Invalid},
		"subject_id":   {token: signed(t, jwt.SigningMethodHS256, testSecret, mismatched), kind: auth.Invalid},
		"unknown_user": {token: signed(t, jwt.SigningMethodHS256, testSecret, valid(u.ID+100)), kind: auth.UserNotFound},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := v.Verify(context.Background(), tc.token)
			assert.Nil(t, got)

			var authErr *auth.Error
			require.True(t, errors.As(err, &authErr), "expected *auth.Error, got %v", err)
			assert.Equal(t, tc.kind, authErr.Kind)
			assert.Contains(t, authErr.Reason(), "Authentication error: ")
		})
	}
}

func TestVerifyExpiredUsesClock(t *testing.T) {
	t.Parallel()

	v, clk, u := newVerifier(t)
	token, err := v.Issue(u)
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = v.Verify(context.Background(), token)

	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.Invalid, authErr.Kind)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := auth.NewVerifier(nil, 0, nil, store.NewMemory())
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		header string
		want   string
	}{
		"standard":      {header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		"case_folded":   {header: "bearer abc", want: "abc"},
		"extra_space":   {header: "  Bearer   abc  ", want: "abc"},
		"wrong_scheme":  {header: "Basic dXNlcjpwYXNz", want: ""},
		"missing_token": {header: "Bearer", want: ""},
		"empty":         {header: "", want: ""},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, auth.BearerToken(tc.header))
		})
	}
}
