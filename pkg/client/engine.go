package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
)

// State represents the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const keepaliveInterval = 30 * time.Second

var errNotConnected = errors.New("not connected")

// Engine owns one real-time session and turns server events into callbacks.
type Engine struct {
	mu sync.RWMutex

	state     State
	sessionID string
	userID    int64
	name      string
	points    int64

	control *ControlClient
	cancel  context.CancelFunc

	// Callbacks; set before Connect.
	OnStateChange  func(state State)
	OnNotification func(n pb.Notification)
	OnPoints       func(u pb.PointsUpdate)
	OnChatMessage  func(m pb.ReceiveMessage)
	OnDisconnect   func(reason string)
}

// NewEngine creates a new client engine.
func NewEngine() *Engine {
	return &Engine{state: StateDisconnected}
}

// Connect dials addr over TLS and authenticates with token.
func (e *Engine) Connect(ctx context.Context, addr, token string, insecure bool) (*pb.HandshakeAck, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	ctrl, err := DialControl(ctx, addr, insecure)
	if err != nil {
		e.setState(StateDisconnected)
		return nil, err
	}
	return e.attach(ctrl, token)
}

// ConnectClient authenticates over an already dialed control client.
func (e *Engine) ConnectClient(ctrl *ControlClient, token string) (*pb.HandshakeAck, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	return e.attach(ctrl, token)
}

func (e *Engine) begin() error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	e.state = StateConnecting
	e.mu.Unlock()

	e.notifyStateChange(StateConnecting)
	return nil
}

func (e *Engine) attach(ctrl *ControlClient, token string) (*pb.HandshakeAck, error) {
	ack, err := ctrl.Handshake(token)
	if err != nil {
		_ = ctrl.Close()
		e.setState(StateDisconnected)
		return nil, err
	}

	slog.Info("authenticated", "session", ack.SessionID, "user", ack.UserID, "name", ack.Name)

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.control = ctrl
	e.cancel = cancel
	e.sessionID = ack.SessionID
	e.userID = ack.UserID
	e.name = ack.Name
	e.points = ack.Points
	e.state = StateConnected
	e.mu.Unlock()

	ctrl.SetEventHandler(e.handleEvent)
	ctrl.StartReceiving()
	e.notifyStateChange(StateConnected)

	go e.keepalive(ctx, ctrl)

	// Monitor for disconnect
	go func() {
		<-ctrl.Done()
		e.handleDisconnect("connection lost")
	}()

	return ack, nil
}

func (e *Engine) keepalive(ctx context.Context, ctrl *ControlClient) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := ctrl.Ping(t); err != nil {
				slog.Debug("keepalive failed", "err", err)
				return
			}
		}
	}
}

func (e *Engine) handleEvent(msg *pb.ControlMessage) {
	switch {
	case msg.PointsUpdate != nil:
		e.mu.Lock()
		e.points = msg.PointsUpdate.NewPoints
		e.mu.Unlock()
		if e.OnPoints != nil {
			e.OnPoints(*msg.PointsUpdate)
		}

	case msg.Notification != nil:
		if e.OnNotification != nil {
			e.OnNotification(*msg.Notification)
		}

	case msg.ReceiveMessage != nil:
		if e.OnChatMessage != nil {
			e.OnChatMessage(*msg.ReceiveMessage)
		}

	case msg.Disconnect != nil:
		e.handleDisconnect(msg.Disconnect.Reason)

	case msg.Pong != nil:
		// Ping/pong handled silently
	}
}

// CompleteAction reports an earning action to the server.
func (e *Engine) CompleteAction(actionType string, points int64) error {
	ctrl := e.currentControl()
	if ctrl == nil {
		return errNotConnected
	}
	return ctrl.CompleteAction(actionType, points)
}

// SendChat sends a chat line.
func (e *Engine) SendChat(text string) error {
	ctrl := e.currentControl()
	if ctrl == nil {
		return errNotConnected
	}
	return ctrl.SendChat(text)
}

// Disconnect disconnects from the server.
func (e *Engine) Disconnect() {
	e.handleDisconnect("user disconnected")
}

// GetState returns the current connection state.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Points returns the last balance the server reported.
func (e *Engine) Points() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.points
}

// UserID returns the authenticated account id.
func (e *Engine) UserID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userID
}

func (e *Engine) currentControl() *ControlClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.control
}

func (e *Engine) handleDisconnect(reason string) {
	e.mu.Lock()
	if e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}
	e.state = StateDisconnected
	ctrl := e.control
	cancel := e.cancel
	e.control = nil
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ctrl != nil {
		_ = ctrl.Close()
	}

	slog.Info("disconnected", "reason", reason)
	e.notifyStateChange(StateDisconnected)
	if e.OnDisconnect != nil {
		e.OnDisconnect(reason)
	}
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	e.notifyStateChange(state)
}

func (e *Engine) notifyStateChange(state State) {
	if e.OnStateChange != nil {
		e.OnStateChange(state)
	}
}
