package server

import (
	"sync"

	"github.com/Devign20164/ForgePh/pkg/model"
)

// Endpoint is one live delivery target, usually a real-time connection.
type Endpoint interface {
	ID() string
	// Deliver writes an already encoded frame. It must be safe to call
	// concurrently and after the endpoint has closed.
	Deliver(frame []byte) error
}

// Registry maps users to their live endpoints. Every endpoint belongs to
// exactly one per-user room (see model.RoomFor), so a publish to one user
// can never reach another user's connections.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Endpoint // room -> endpoint ID -> endpoint
	roomOf map[string]string              // endpoint ID -> room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]Endpoint),
		roomOf: make(map[string]string),
	}
}

// Join adds ep to userID's room. Joining again is a no-op; joining under a
// different user moves the endpoint.
func (r *Registry) Join(userID int64, ep Endpoint) {
	room := model.RoomFor(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.roomOf[ep.ID()]; ok {
		if prev == room {
			return
		}
		r.removeLocked(prev, ep.ID())
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Endpoint)
		r.rooms[room] = members
	}
	members[ep.ID()] = ep
	r.roomOf[ep.ID()] = room
}

// Leave removes ep from whichever room holds it. It reports whether the
// endpoint was registered.
func (r *Registry) Leave(ep Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.roomOf[ep.ID()]
	if !ok {
		return false
	}
	r.removeLocked(room, ep.ID())
	return true
}

func (r *Registry) removeLocked(room, id string) {
	delete(r.roomOf, id)
	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// PublishToUser delivers frame to every endpoint of userID. Delivery is
// best effort and at most once per endpoint.
func (r *Registry) PublishToUser(userID int64, frame []byte) (delivered, dropped int) {
	r.mu.RLock()
	targets := snapshot(r.rooms[model.RoomFor(userID)])
	r.mu.RUnlock()
	return deliverAll(targets, frame)
}

// PublishToAll delivers frame to every registered endpoint. Only for
// events meant for everyone, like chat.
func (r *Registry) PublishToAll(frame []byte) (delivered, dropped int) {
	r.mu.RLock()
	var targets []Endpoint
	for _, members := range r.rooms {
		targets = append(targets, snapshot(members)...)
	}
	r.mu.RUnlock()
	return deliverAll(targets, frame)
}

// Endpoints returns how many endpoints userID has.
func (r *Registry) Endpoints(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[model.RoomFor(userID)])
}

// Count returns the total number of endpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomOf)
}

func snapshot(members map[string]Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(members))
	for _, ep := range members {
		out = append(out, ep)
	}
	return out
}

// deliverAll runs outside the registry lock so a slow endpoint cannot block
// joins and leaves.
func deliverAll(targets []Endpoint, frame []byte) (delivered, dropped int) {
	for _, ep := range targets {
		if err := ep.Deliver(frame); err != nil {
			dropped++
			continue
		}
		delivered++
	}
	return delivered, dropped
}
