package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Devign20164/ForgePh/pkg/auth"
	"github.com/Devign20164/ForgePh/pkg/crypto"
	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/logging"
	"github.com/Devign20164/ForgePh/pkg/model"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
	"github.com/Devign20164/ForgePh/pkg/rbac"
)

const (
	maxRequestBody = 1 << 16
	topRetailers   = 50
	ledgerPageSize = 100
)

type userCtxKey struct{}

// Handler returns the HTTP API, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(s.countRequests)

	r.Get("/metrics", s.handleMetrics)
	r.Get("/healthz", handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/users/top-retailers", s.handleTopRetailers)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Get("/users/{userId}", s.handleGetUser)
			r.Get("/users/{userId}/ledger", s.handleGetLedger)
			r.Get("/users/{userId}/sessions", s.handleGetSessions)
			r.Post("/promo-codes/redeem", s.handleRedeem)
			r.Post("/games/play", s.handlePlayGame)
		})
	})
	return r
}

// StartHTTP serves Handler on Config.HTTPAddr until the server context ends.
func (s *Server) StartHTTP() {
	addr := s.cfg.HTTPAddr
	if addr == "" {
		return // HTTP API disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpSrv = srv

	go func() {
		slog.Info("HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP API error", "err", err)
		}
	}()
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HTTPRequests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// requireBearer resolves the Authorization header to a user.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.verifier.Verify(r.Context(), auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				writeError(w, http.StatusUnauthorized, authErr.Reason())
				return
			}
			slog.Error("http: verify token", "err", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey{}, user)))
	})
}

func requestUser(r *http.Request) *model.User {
	u, _ := r.Context().Value(userCtxKey{}).(*model.User)
	return u
}

// ---- Accounts ----

type registerRequest struct {
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	PhoneNumber string         `json:"phoneNumber"`
	Location    model.Location `json:"location"`
	UserType    model.UserType `json:"userType"`
	ShopName    string         `json:"shopName"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserType == "" {
		req.UserType = model.UserTypeCustomer
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := &model.User{
		Name:        req.Name,
		Email:       model.NormalizeEmail(req.Email),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Location:    req.Location,
		UserType:    req.UserType,
		ShopName:    strings.TrimSpace(req.ShopName),
		Rank:        model.DefaultRank,
		UserStatus:  model.StatusNotVerified,
	}
	if err := user.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := crypto.HashPassword(req.Password, s.cfg.BcryptCost)
	if err != nil {
		slog.Error("http: hash password", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error In Creating User")
		return
	}
	user.PasswordHash = hash

	// Counters start full for the registration day.
	today := s.resetter.Policy().Today(s.clock.Now())
	user.RedemptionCount = s.cfg.RedemptionDefault
	user.LastRedemptionDate = today
	user.DailyGamePlays = s.cfg.GamePlayDefault
	user.LastGamePlayDate = today

	if err := s.store.NonTx().CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, datastore.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "User with given email already exists")
			return
		}
		slog.Error("http: create user", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error In Creating User")
		return
	}

	s.metrics.Registrations.Add(1)
	slog.Info("user registered", "user", user.ID, "type", user.UserType)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User Created Successfully"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.store.NonTx().GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("http: login lookup", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if user == nil || user.PasswordHash == "" || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		s.metrics.FailedLogins.Add(1)
		writeError(w, http.StatusUnauthorized, "Invalid Email or Password")
		return
	}

	s.resetter.Apply(r.Context(), user.ID)
	if fresh, err := s.store.NonTx().GetUserByID(r.Context(), user.ID); err == nil && fresh != nil {
		user = fresh
	}

	token, err := s.verifier.Issue(user)
	if err != nil {
		slog.Error("http: issue token", "user", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.metrics.Logins.Add(1)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user.Public()})
}

// leaderboardEntry is the public view of a retailer. Contact details and
// daily counters stay private.
type leaderboardEntry struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ShopName string `json:"shopName,omitempty"`
	Points   int64  `json:"points"`
	Rank     string `json:"rank"`
}

func (s *Server) handleTopRetailers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.NonTx().ListTopUsers(r.Context(), model.UserTypeRetailer, topRetailers)
	if err != nil {
		slog.Error("http: top retailers", "err", err)
		writeError(w, http.StatusInternalServerError, "Error fetching retailers")
		return
	}
	out := make([]leaderboardEntry, 0, len(users))
	for _, u := range users {
		out = append(out, leaderboardEntry{ID: u.ID, Name: u.Name, ShopName: u.ShopName, Points: u.Points, Rank: u.Rank})
	}
	writeJSON(w, http.StatusOK, out)
}

// selfOnly parses {userId} and checks it names the caller.
func selfOnly(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	caller := requestUser(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return nil, false
	}
	if caller == nil || caller.ID != id {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return caller, true
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := selfOnly(w, r)
	if !ok {
		return
	}

	s.resetter.Apply(r.Context(), caller.ID)

	user, err := s.store.NonTx().GetUserByID(r.Context(), caller.ID)
	if err != nil {
		slog.Error("http: get user", "user", caller.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*model.User{"user": user.Public()})
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	caller, ok := selfOnly(w, r)
	if !ok {
		return
	}
	entries, err := s.store.NonTx().ListLedgerEntries(r.Context(), caller.ID, ledgerPageSize)
	if err != nil {
		slog.Error("http: list ledger", "user", caller.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.LedgerEntry{"entries": entries})
}

type sessionView struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	caller, ok := selfOnly(w, r)
	if !ok {
		return
	}
	views := []sessionView{}
	for _, sess := range s.sessions.ByUser(caller.ID) {
		views = append(views, sessionView{ID: sess.ID, ConnectedAt: sess.ConnectedAt})
	}
	writeJSON(w, http.StatusOK, map[string][]sessionView{"sessions": views})
}

// ---- Daily counters ----

type redeemRequest struct {
	Code        string `json:"code"`
	PointsValue int64  `json:"pointsValue"`
}

type redeemResponse struct {
	RemainingRedemptions int   `json:"remainingRedemptions"`
	NewPoints            int64 `json:"newPoints"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller := requestUser(r)
	if msg := rbac.RequirePermission(caller.UserStatus, model.PermRedeemPromo); msg != "" {
		writeError(w, http.StatusForbidden, msg)
		return
	}

	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" || req.PointsValue <= 0 {
		writeError(w, http.StatusBadRequest, "code and a positive pointsValue are required")
		return
	}

	s.resetter.Apply(r.Context(), caller.ID)

	remaining, balance, err := s.ledger.SpendAndApply(r.Context(), caller.ID, CounterRedemptions, req.PointsValue, "promo:"+code)
	if err != nil {
		writeSpendError(w, err, "No redemptions left today")
		return
	}
	s.fanout.Notification(caller.ID, "Promo redeemed",
		code+" redeemed for "+strconv.FormatInt(req.PointsValue, 10)+" points", pb.NotificationSuccess)
	writeJSON(w, http.StatusOK, redeemResponse{RemainingRedemptions: remaining, NewPoints: balance})
}

type playRequest struct {
	Game         string `json:"game"`
	PointsEarned int64  `json:"pointsEarned"`
}

type playResponse struct {
	RemainingPlays int   `json:"remainingPlays"`
	NewPoints      int64 `json:"newPoints"`
}

func (s *Server) handlePlayGame(w http.ResponseWriter, r *http.Request) {
	caller := requestUser(r)
	if msg := rbac.RequirePermission(caller.UserStatus, model.PermPlayGame); msg != "" {
		writeError(w, http.StatusForbidden, msg)
		return
	}

	var req playRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	game := strings.TrimSpace(req.Game)
	if game == "" || req.PointsEarned < 0 {
		writeError(w, http.StatusBadRequest, "game is required and pointsEarned must not be negative")
		return
	}

	s.resetter.Apply(r.Context(), caller.ID)

	remaining, balance, err := s.ledger.SpendAndApply(r.Context(), caller.ID, CounterGamePlays, req.PointsEarned, "game:"+game)
	if err != nil {
		writeSpendError(w, err, "No game plays left today")
		return
	}
	writeJSON(w, http.StatusOK, playResponse{RemainingPlays: remaining, NewPoints: balance})
}

func writeSpendError(w http.ResponseWriter, err error, exhausted string) {
	if errors.Is(err, datastore.ErrQuotaExhausted) {
		writeError(w, http.StatusTooManyRequests, exhausted)
		return
	}
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Kind {
		case InsufficientBalance:
			writeError(w, http.StatusConflict, "Insufficient points")
		case UnknownAccount:
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeError(w, http.StatusServiceUnavailable, "Failed to update points")
		}
		return
	}
	slog.Error("http: spend", "err", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// ---- Helpers ----

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
