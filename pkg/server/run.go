package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	// Seed accounts from YAML if provided
	if s.cfg.UsersFile != "" {
		if err := LoadUsersFromYAML(s.ctx, s.cfg.UsersFile, s.store, s.cfg.BcryptCost); err != nil {
			slog.Error("failed to load users file", "path", s.cfg.UsersFile, "err", err)
		}
	}

	// Start listeners
	if err := s.StartControl(); err != nil {
		return err
	}
	s.StartHTTP()

	slog.Info("ForgePH server running",
		"control", s.cfg.ControlAddr,
		"http", s.cfg.HTTPAddr,
		"timezone", s.resetter.Policy().Location.String(),
	)

	s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	case <-s.ctx.Done():
		slog.Info("shutting down...")
	}
	s.Shutdown()
	return nil
}

// Shutdown stops both listeners, waits for connection handlers to leave
// the registry and closes the store.
func (s *Server) Shutdown() {
	s.cancel()
	if s.controlConn != nil {
		_ = s.controlConn.Close()
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		cancel()
	}

	// Active connections block in reads; closing them unblocks the handlers.
	s.closeAll()
	s.conns.Wait()

	if err := s.store.Close(); err != nil {
		slog.Warn("close store", "err", err)
	}
	s.metrics.LogSummary()
}
