package server

import (
	"log/slog"

	"github.com/Devign20164/ForgePh/pkg/model"
	"github.com/Devign20164/ForgePh/pkg/protocol"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
)

// Fanout turns domain events into frames and pushes them through the
// registry. Each event is encoded once regardless of how many endpoints
// receive it. Nothing here reports errors to callers.
type Fanout struct {
	registry *Registry
	metrics  *Metrics
}

// NewFanout creates a Fanout.
func NewFanout(registry *Registry, metrics *Metrics) *Fanout {
	return &Fanout{registry: registry, metrics: metrics}
}

// ToUser delivers msg to every connection of userID.
func (f *Fanout) ToUser(userID int64, msg *pb.ControlMessage) {
	frame, ok := f.encode(msg)
	if !ok {
		return
	}
	delivered, dropped := f.registry.PublishToUser(userID, frame)
	f.record(delivered, dropped)
	if dropped > 0 {
		slog.Debug("fanout: dropped deliveries", "user", userID, "dropped", dropped)
	}
}

// ToAll delivers msg to every connection.
func (f *Fanout) ToAll(msg *pb.ControlMessage) {
	frame, ok := f.encode(msg)
	if !ok {
		return
	}
	f.record(f.registry.PublishToAll(frame))
}

// Notification sends a titled notice to one user.
func (f *Fanout) Notification(userID int64, title, message, kind string) {
	f.ToUser(userID, notificationMessage(title, message, kind))
}

// PointsUpdate tells every connection of userID its new absolute balance.
func (f *Fanout) PointsUpdate(userID, newBalance, amount int64, reason string) {
	f.ToUser(userID, &pb.ControlMessage{
		PointsUpdate: &pb.PointsUpdate{
			UserID:      userID,
			NewPoints:   newBalance,
			PointsAdded: amount,
			ActionType:  reason,
		},
	})
}

// ChatBroadcast relays a validated chat line to everyone.
func (f *Fanout) ChatBroadcast(m model.Message) {
	f.ToAll(&pb.ControlMessage{
		ReceiveMessage: &pb.ReceiveMessage{
			UserID:    m.SenderID,
			Username:  m.SenderName,
			Message:   m.Body,
			Timestamp: m.CreatedAt.UnixMilli(),
		},
	})
	f.metrics.ChatMessagesSent.Add(1)
}

func (f *Fanout) encode(msg *pb.ControlMessage) ([]byte, bool) {
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		slog.Error("fanout: encode failed", "err", err)
		return nil, false
	}
	return frame, true
}

func (f *Fanout) record(delivered, dropped int) {
	f.metrics.EventsDelivered.Add(int64(delivered))
	f.metrics.EventsDropped.Add(int64(dropped))
}

func notificationMessage(title, message, kind string) *pb.ControlMessage {
	return &pb.ControlMessage{
		Notification: &pb.Notification{Title: title, Message: message, Type: kind},
	}
}
