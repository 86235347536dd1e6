// Package server implements the ForgePH real-time points server: the
// TLS control channel, the HTTP API and the shared session registry.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Devign20164/ForgePh/pkg/auth"
	"github.com/Devign20164/ForgePh/pkg/clock"
	"github.com/Devign20164/ForgePh/pkg/crypto"
	"github.com/Devign20164/ForgePh/pkg/datastore"
	"github.com/Devign20164/ForgePh/pkg/quota"
)

// Config holds server configuration.
type Config struct {
	ControlAddr string `yaml:"control_addr"` // TCP/TLS bind address for the real-time channel
	HTTPAddr    string `yaml:"http_addr"`    // HTTP API, /metrics and /healthz (empty = disabled)
	DBPath      string `yaml:"db_path"`      // SQLite database path
	CertFile    string `yaml:"cert_file"`    // TLS certificate file path
	KeyFile     string `yaml:"key_file"`     // TLS private key file path
	DataDir     string `yaml:"data_dir"`     // directory for generated certs and data

	JWTSecret string        `yaml:"jwt_secret"` // empty = random per process
	TokenTTL  time.Duration `yaml:"token_ttl"`

	Timezone           string `yaml:"timezone"` // reference zone for daily counters
	RedemptionDefault  int    `yaml:"redemption_default"`
	GamePlayDefault    int    `yaml:"game_play_default"`
	RequireNonNegative bool   `yaml:"require_non_negative"`
	BcryptCost         int    `yaml:"bcrypt_cost"`

	UsersFile          string        `yaml:"users_file"` // YAML file of accounts to create on startup
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
	Clock clock.Clock // nil = wall clock
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ControlAddr:        ":9600",
		HTTPAddr:           ":9602",
		DBPath:             "forgeph.db",
		DataDir:            ".",
		TokenTTL:           auth.DefaultTTL,
		Timezone:           quota.DefaultTimezone,
		RedemptionDefault:  quota.DefaultRedemptions,
		GamePlayDefault:    quota.DefaultGamePlays,
		RequireNonNegative: true,
		BcryptCost:         crypto.DefaultCost,
		MetricsLogInterval: 60 * time.Second,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Policy builds the daily counter policy from the config.
func (c Config) Policy() (quota.Policy, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return quota.Policy{}, fmt.Errorf("server: timezone %q: %w", c.Timezone, err)
	}
	return quota.Policy{
		Location:          loc,
		RedemptionDefault: c.RedemptionDefault,
		GamePlayDefault:   c.GamePlayDefault,
	}, nil
}

// loadOrGenerateTLS loads TLS cert/key from disk or generates a self-signed pair.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "server.key")
	}

	// Try loading existing cert
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}

	slog.Info("generating self-signed TLS certificate")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"ForgePH Server"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}

	if err := writePEM(certPath, 0o644, "CERTIFICATE", certDER); err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	if err := writePEM(keyPath, 0o600, "EC PRIVATE KEY", privBytes); err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}

func writePEM(path string, mode os.FileMode, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode) //nolint:gosec // path from server config
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Server is the main ForgePH server.
type Server struct {
	cfg      Config
	clock    clock.Clock
	store    datastore.DataProviderFactory
	sessions *SessionManager
	registry *Registry
	fanout   *Fanout
	ledger   *Ledger
	resetter *quota.Resetter
	verifier *auth.Verifier
	metrics  *Metrics

	controlConn net.Listener
	httpSrv     *http.Server
	conns       sync.WaitGroup

	liveMu sync.Mutex
	live   map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance. A missing JWT secret is replaced with
// a random one, which invalidates issued tokens on restart.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server: missing store dependency")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret, err = crypto.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		slog.Warn("no JWT secret configured, generated a random one; tokens will not survive a restart")
	}

	st := deps.Store
	verifier, err := auth.NewVerifier([]byte(secret), cfg.TokenTTL, clk, st.NonTx())
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	metrics := NewMetrics()
	registry := NewRegistry()
	fanout := NewFanout(registry, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		clock:    clk,
		store:    st,
		sessions: NewSessionManager(),
		registry: registry,
		fanout:   fanout,
		ledger:   NewLedger(st, fanout, metrics, cfg.RequireNonNegative),
		resetter: quota.NewResetter(st.NonTx(), clk, policy, metrics),
		verifier: verifier,
		metrics:  metrics,
		live:     make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Ledger returns the ledger mutator.
func (s *Server) Ledger() *Ledger {
	return s.ledger
}

// Verifier returns the credential verifier.
func (s *Server) Verifier() *auth.Verifier {
	return s.verifier
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
