// Package pb holds the JSON messages carried on the ForgePH real-time channel.
package pb

// ControlMessage wraps every message on the real-time channel.
type ControlMessage struct {
	// Only one of these fields should be set.
	Handshake      *Handshake      `json:"handshake,omitempty"`
	HandshakeAck   *HandshakeAck   `json:"handshakeAck,omitempty"`
	Disconnect     *Disconnect     `json:"disconnect,omitempty"`
	Notification   *Notification   `json:"notification,omitempty"`
	PointsUpdate   *PointsUpdate   `json:"pointsUpdate,omitempty"`
	ReceiveMessage *ReceiveMessage `json:"receiveMessage,omitempty"`
	CompleteAction *CompleteAction `json:"completeAction,omitempty"`
	SendMessage    *SendMessage    `json:"sendMessage,omitempty"`
	Ping           *Ping           `json:"ping,omitempty"`
	Pong           *Pong           `json:"pong,omitempty"`
}

// FieldCount returns how many variants are set. A well-formed message has one.
func (m *ControlMessage) FieldCount() int {
	n := 0
	for _, set := range []bool{
		m.Handshake != nil,
		m.HandshakeAck != nil,
		m.Disconnect != nil,
		m.Notification != nil,
		m.PointsUpdate != nil,
		m.ReceiveMessage != nil,
		m.CompleteAction != nil,
		m.SendMessage != nil,
		m.Ping != nil,
		m.Pong != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// ----- Handshake -----

type Handshake struct {
	Token string `json:"token"`
}

type HandshakeAck struct {
	SessionID     string `json:"sessionId"`
	UserID        int64  `json:"userId"`
	Name          string `json:"name"`
	Points        int64  `json:"points"`
	ServerVersion string `json:"serverVersion"`
}

type Disconnect struct {
	Reason string `json:"reason"`
}

// ----- Server events -----

// Notification types understood by clients.
const (
	NotificationSuccess = "success"
	NotificationInfo    = "info"
	NotificationError   = "error"
)

type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// PointsUpdate carries the absolute balance after a mutation.
type PointsUpdate struct {
	UserID      int64  `json:"userId"`
	NewPoints   int64  `json:"newPoints"`
	PointsAdded int64  `json:"pointsAdded"`
	ActionType  string `json:"actionType"`
}

type ReceiveMessage struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// ----- Client events -----

type CompleteAction struct {
	ActionType   string `json:"actionType"`
	PointsEarned int64  `json:"pointsEarned"`
}

type SendMessage struct {
	Message string `json:"message"`
}

// ----- Keepalive -----

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}
