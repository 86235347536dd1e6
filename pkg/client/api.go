package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Devign20164/ForgePh/pkg/model"
	"github.com/Devign20164/ForgePh/pkg/version"
)

// APIError is a non-2xx reply from the HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// API calls the server's HTTP account endpoints.
type API struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewAPI creates an API client for baseURL, e.g. http://localhost:9602.
func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken sets the bearer token sent with authenticated calls.
func (a *API) SetToken(token string) { a.token = token }

// Token returns the current bearer token.
func (a *API) Token() string { return a.token }

// Registration holds the fields accepted by Register.
type Registration struct {
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	PhoneNumber string         `json:"phoneNumber,omitempty"`
	Location    model.Location `json:"location"`
	UserType    model.UserType `json:"userType,omitempty"`
	ShopName    string         `json:"shopName,omitempty"`
}

// Register creates an account.
func (a *API) Register(ctx context.Context, reg Registration) error {
	return a.do(ctx, http.MethodPost, "/api/users/register", reg, nil)
}

// Login exchanges credentials for a token and remembers it.
func (a *API) Login(ctx context.Context, email, password string) (*model.User, error) {
	var resp struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}
	req := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	a.token = resp.Token
	return resp.User, nil
}

// Me fetches the caller's own profile.
func (a *API) Me(ctx context.Context, userID int64) (*model.User, error) {
	var resp struct {
		User *model.User `json:"user"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/users/"+strconv.FormatInt(userID, 10), nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// TopRetailers returns the leaderboard.
func (a *API) TopRetailers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := a.do(ctx, http.MethodGet, "/api/users/top-retailers", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// RedeemPromo spends one daily redemption. It returns the redemptions left
// today and the new balance.
func (a *API) RedeemPromo(ctx context.Context, code string, points int64) (int, int64, error) {
	var resp struct {
		Remaining int   `json:"remainingRedemptions"`
		NewPoints int64 `json:"newPoints"`
	}
	req := map[string]any{"code": code, "pointsValue": points}
	if err := a.do(ctx, http.MethodPost, "/api/promo-codes/redeem", req, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Remaining, resp.NewPoints, nil
}

// PlayGame spends one daily game play.
func (a *API) PlayGame(ctx context.Context, game string, points int64) (int, int64, error) {
	var resp struct {
		Remaining int   `json:"remainingPlays"`
		NewPoints int64 `json:"newPoints"`
	}
	req := map[string]any{"game": game, "pointsEarned": points}
	if err := a.do(ctx, http.MethodPost, "/api/games/play", req, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Remaining, resp.NewPoints, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent("forgeph-client"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
