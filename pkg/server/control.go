package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Devign20164/ForgePh/pkg/auth"
	"github.com/Devign20164/ForgePh/pkg/protocol"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
	"github.com/Devign20164/ForgePh/pkg/version"
)

const handshakeTimeout = 10 * time.Second

// StartControl starts the TLS listener for the real-time channel.
func (s *Server) StartControl() error {
	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	ln, err := tls.Listen("tcp", s.cfg.ControlAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	s.controlConn = ln

	slog.Info("control plane listening", "addr", s.cfg.ControlAddr)
	go s.serveControl(ln)
	return nil
}

func (s *Server) serveControl(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("accept error", "err", err)
				continue
			}
		}
		s.conns.Add(1)
		s.track(conn)
		go func() {
			defer s.conns.Done()
			defer s.untrack(conn)
			s.handleControlConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.liveMu.Lock()
	s.live[conn] = struct{}{}
	s.liveMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.liveMu.Lock()
	delete(s.live, conn)
	s.liveMu.Unlock()
}

// closeAll closes every accepted connection so blocked readers return.
func (s *Server) closeAll() {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	for conn := range s.live {
		_ = conn.Close()
	}
}

// handleControlConn runs one connection through its lifecycle:
// handshake, then either rejection or join, welcome and the event loop,
// and finally leave.
func (s *Server) handleControlConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new control connection", "remote", remoteAddr)

	// First message must be a handshake
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msg, err := protocol.ReadControlMessage(conn)
	if err != nil {
		slog.Debug("handshake read failed", "remote", remoteAddr, "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{}) // clear deadline

	token := ""
	if msg.Handshake != nil {
		token = msg.Handshake.Token
	}
	user, err := s.verifier.Verify(s.ctx, token)
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		reason := "Authentication error: Server error"
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			reason = authErr.Reason()
		}
		slog.Info("handshake rejected", "remote", remoteAddr, "err", err)
		sendDisconnect(conn, reason)
		return
	}

	session := s.sessions.Create(user, s.clock.Now())
	c := newConnection(session.ID, conn)

	defer func() {
		s.registry.Leave(c)
		c.close()
		s.sessions.Remove(session.ID)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client disconnected", "user", user.ID, "session", session.ID)
	}()

	ack := &pb.ControlMessage{
		HandshakeAck: &pb.HandshakeAck{
			SessionID:     session.ID,
			UserID:        user.ID,
			Name:          user.Name,
			Points:        user.Points,
			ServerVersion: version.String(),
		},
	}
	if err := c.Send(ack); err != nil {
		slog.Error("handshake ack write failed", "user", user.ID, "err", err)
		return
	}
	// Fanout can reach the connection only once the ack is on the wire.
	s.registry.Join(user.ID, c)
	if err := c.Send(notificationMessage("Connected", "Welcome back, "+user.Name+"!", pb.NotificationSuccess)); err != nil {
		slog.Error("welcome write failed", "user", user.ID, "err", err)
		return
	}

	s.resetter.Apply(s.ctx, user.ID)

	slog.Info("client authenticated", "user", user.ID, "name", user.Name, "session", session.ID)
	s.metrics.SuccessfulAuths.Add(1)

	// Message loop
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg, err := protocol.ReadControlMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return
			}
			slog.Error("read error", "user", user.ID, "err", err)
			return
		}

		ev, err := decodeInbound(msg)
		if err != nil {
			slog.Debug("ignoring message", "user", user.ID, "err", err)
			continue
		}
		if err := s.route(s.ctx, session, c, ev); err != nil {
			slog.Warn("event failed", "user", user.ID, "event", ev.name(), "err", err)
		}
	}
}

func sendDisconnect(conn net.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = protocol.WriteControlMessage(conn, &pb.ControlMessage{
		Disconnect: &pb.Disconnect{Reason: reason},
	})
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF)
}
