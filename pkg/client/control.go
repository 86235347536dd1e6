// Package client implements the ForgePH client: the HTTP account API and
// the real-time control connection.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Devign20164/ForgePh/pkg/protocol"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
)

const handshakeTimeout = 10 * time.Second

// ErrRejected wraps the reason a server gave for refusing a handshake.
type ErrRejected struct {
	Reason string
}

func (e *ErrRejected) Error() string {
	return "client: handshake rejected: " + e.Reason
}

// EventHandler is a callback for incoming control events.
type EventHandler func(msg *pb.ControlMessage)

// ControlClient manages the TLS control connection.
type ControlClient struct {
	conn    net.Conn
	mu      sync.Mutex
	handler EventHandler
	done    chan struct{}
}

// DialControl connects to the server's control listener via TLS.
func DialControl(ctx context.Context, addr string, insecure bool) (*ControlClient, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: insecure, //nolint:gosec // servers generate self-signed certs by default
		MinVersion:         tls.VersionTLS13,
	}

	dialer := &tls.Dialer{Config: tlsCfg}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect control: %w", err)
	}
	return NewControlClient(conn), nil
}

// NewControlClient wraps an established connection.
func NewControlClient(conn net.Conn) *ControlClient {
	return &ControlClient{
		conn: conn,
		done: make(chan struct{}),
	}
}

// SetEventHandler sets the callback for incoming control messages.
// It must be called before StartReceiving.
func (c *ControlClient) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Send sends a control message to the server.
func (c *ControlClient) Send(msg *pb.ControlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteControlMessage(c.conn, msg)
}

// Handshake presents token and waits for the server's verdict.
// A refusal is returned as *ErrRejected.
func (c *ControlClient) Handshake(token string) (*pb.HandshakeAck, error) {
	if err := c.Send(&pb.ControlMessage{Handshake: &pb.Handshake{Token: token}}); err != nil {
		return nil, fmt.Errorf("client: send handshake: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msg, err := protocol.ReadControlMessage(c.conn)
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("client: read handshake response: %w", err)
	}

	switch {
	case msg.Disconnect != nil:
		return nil, &ErrRejected{Reason: msg.Disconnect.Reason}
	case msg.HandshakeAck != nil:
		return msg.HandshakeAck, nil
	default:
		return nil, errors.New("client: unexpected handshake response")
	}
}

// CompleteAction reports an earning action.
func (c *ControlClient) CompleteAction(actionType string, points int64) error {
	return c.Send(&pb.ControlMessage{
		CompleteAction: &pb.CompleteAction{ActionType: actionType, PointsEarned: points},
	})
}

// SendChat posts a chat line to every connected user.
func (c *ControlClient) SendChat(message string) error {
	return c.Send(&pb.ControlMessage{SendMessage: &pb.SendMessage{Message: message}})
}

// Ping sends a keepalive stamped with t.
func (c *ControlClient) Ping(t time.Time) error {
	return c.Send(&pb.ControlMessage{Ping: &pb.Ping{Timestamp: t.UnixMilli()}})
}

// StartReceiving starts a goroutine that reads incoming control messages
// and dispatches them to the event handler.
func (c *ControlClient) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			msg, err := protocol.ReadControlMessage(c.conn)
			if err != nil {
				if isClosedErr(err) {
					slog.Debug("control connection closed")
					return
				}
				slog.Error("control read error", "err", err)
				return
			}
			if c.handler != nil {
				c.handler(msg)
			}
		}
	}()
}

// Close closes the control connection.
func (c *ControlClient) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *ControlClient) Done() <-chan struct{} {
	return c.done
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF)
}
