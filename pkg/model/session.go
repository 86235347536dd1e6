package model

import (
	"strconv"
	"time"
)

// Session is a live real-time connection owned by one user (in-memory only).
type Session struct {
	ID          string // connection UUID
	UserID      int64
	Username    string
	Status      UserStatus // captured at handshake
	ConnectedAt time.Time
}

// RoomFor names the per-user delivery room for userID.
func RoomFor(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
