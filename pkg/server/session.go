package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Devign20164/ForgePh/pkg/model"
)

// SessionManager tracks the metadata of live real-time connections.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session // connection ID -> session
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*model.Session),
	}
}

// Create records a new session for an authenticated user.
func (sm *SessionManager) Create(user *model.User, connectedAt time.Time) *model.Session {
	sess := &model.Session{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Username:    user.Name,
		Status:      user.UserStatus,
		ConnectedAt: connectedAt,
	}

	sm.mu.Lock()
	sm.sessions[sess.ID] = sess
	sm.mu.Unlock()
	return sess
}

// Get retrieves a copy of a session by ID.
func (sm *SessionManager) Get(id string) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// ByUser returns every session owned by userID, oldest first.
func (sm *SessionManager) ByUser(userID int64) []model.Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var result []model.Session
	for _, s := range sm.sessions {
		if s.UserID == userID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Remove removes a session.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
