package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Devign20164/ForgePh/pkg/model"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
	"github.com/Devign20164/ForgePh/pkg/rbac"
)

// inboundEvent is the closed set of messages a client may send after the
// handshake.
type inboundEvent interface {
	name() string
}

type completeActionEvent struct{ *pb.CompleteAction }
type sendMessageEvent struct{ *pb.SendMessage }
type pingEvent struct{ *pb.Ping }

func (completeActionEvent) name() string { return "completeAction" }
func (sendMessageEvent) name() string    { return "sendMessage" }
func (pingEvent) name() string           { return "ping" }

var errNotInbound = errors.New("not a client event")

// decodeInbound maps a decoded envelope onto an inbound event variant.
func decodeInbound(msg *pb.ControlMessage) (inboundEvent, error) {
	if n := msg.FieldCount(); n != 1 {
		return nil, fmt.Errorf("envelope has %d fields set", n)
	}
	switch {
	case msg.CompleteAction != nil:
		return completeActionEvent{msg.CompleteAction}, nil
	case msg.SendMessage != nil:
		return sendMessageEvent{msg.SendMessage}, nil
	case msg.Ping != nil:
		return pingEvent{msg.Ping}, nil
	default:
		return nil, errNotInbound
	}
}

// route dispatches one inbound event for an active session.
func (s *Server) route(ctx context.Context, sess *model.Session, c *connection, ev inboundEvent) error {
	switch ev := ev.(type) {
	case completeActionEvent:
		return s.handleCompleteAction(ctx, sess, c, ev.CompleteAction)
	case sendMessageEvent:
		return s.handleSendMessage(sess, c, ev.SendMessage)
	case pingEvent:
		return c.Send(&pb.ControlMessage{Pong: &pb.Pong{Timestamp: ev.Timestamp}})
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

func (s *Server) handleCompleteAction(ctx context.Context, sess *model.Session, c *connection, req *pb.CompleteAction) error {
	if msg := rbac.RequirePermission(sess.Status, model.PermEarnPoints); msg != "" {
		_ = c.Send(notificationMessage("Error", msg, pb.NotificationError))
		return errors.New(msg)
	}

	reason := sanitizeText(strings.TrimSpace(req.ActionType))
	if _, err := s.ledger.ApplyDelta(ctx, sess.UserID, req.PointsEarned, reason); err != nil {
		// Only the acting connection hears about the failure.
		_ = c.Send(notificationMessage("Error", "Failed to update points", pb.NotificationError))
		return err
	}
	return nil
}

func (s *Server) handleSendMessage(sess *model.Session, c *connection, req *pb.SendMessage) error {
	if msg := rbac.RequirePermission(sess.Status, model.PermSendMessage); msg != "" {
		_ = c.Send(notificationMessage("Error", msg, pb.NotificationError))
		return errors.New(msg)
	}

	m := model.Message{
		SenderID:   sess.UserID,
		SenderName: sess.Username,
		Body:       sanitizeText(strings.TrimSpace(req.Message)),
		CreatedAt:  s.clock.Now(),
	}
	if err := m.Validate(); err != nil {
		return err // empty or too long, silently drop
	}

	s.fanout.ChatBroadcast(m)
	return nil
}

func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars (null, bell, ANSI escapes, etc.)
		}
		return r
	}, s)
}
