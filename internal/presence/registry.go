// Package presence tracks who is connected and what conversation each user is
// looking at, in memory. It is the authority for online state inside one
// process; an optional Redis mirror exposes the same state to neighbours.
package presence

import (
	"context"
	"log"
	"sync"
	"time"
)

// PresenceWriter persists presence transitions so offline peers can show a
// last-seen time.
type PresenceWriter interface {
	SetUserPresence(ctx context.Context, userID int, online bool, lastSeen time.Time) error
}

type Registry struct {
	mu      sync.RWMutex
	conns   map[string]int              // connection id -> user id
	users   map[int]map[string]struct{} // user id -> connection ids
	viewing map[int]map[int]int         // conversation id -> user id -> open views

	writer PresenceWriter
	mirror *Mirror
}

func NewRegistry(writer PresenceWriter, mirror *Mirror) *Registry {
	return &Registry{
		conns:   make(map[string]int),
		users:   make(map[int]map[string]struct{}),
		viewing: make(map[int]map[int]int),
		writer:  writer,
		mirror:  mirror,
	}
}

// Connect registers a connection for the user. It reports whether this was the
// user's first live connection, i.e. the offline -> online transition. A user
// with several devices flips online exactly once.
func (r *Registry) Connect(userID int, connID string) (wentOnline bool) {
	r.mu.Lock()
	r.conns[connID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	wentOnline = len(set) == 1
	r.mu.Unlock()

	// Writes happen outside the lock; presence state must never block on IO.
	if wentOnline {
		r.writeThrough(userID, true)
	}
	if r.mirror != nil {
		r.mirror.SetOnline(userID)
	}
	return wentOnline
}

// Disconnect removes the connection and reports the owning user plus whether
// this was their last connection. Unknown connection ids are ignored.
func (r *Registry) Disconnect(connID string) (userID int, wentOffline bool) {
	r.mu.Lock()
	userID, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return 0, false
	}
	delete(r.conns, connID)
	if set := r.users[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
			wentOffline = true
		}
	}
	// Once the last connection is gone no view can remain either.
	if wentOffline {
		for convID, viewers := range r.viewing {
			delete(viewers, userID)
			if len(viewers) == 0 {
				delete(r.viewing, convID)
			}
		}
	}
	r.mu.Unlock()

	if wentOffline {
		r.writeThrough(userID, false)
		if r.mirror != nil {
			r.mirror.SetOffline(userID)
		}
	}
	return userID, wentOffline
}

// JoinRoom marks the user as actively viewing the conversation. Counted, so
// two devices in the same room need two leaves.
func (r *Registry) JoinRoom(userID, conversationID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	viewers, ok := r.viewing[conversationID]
	if !ok {
		viewers = make(map[int]int)
		r.viewing[conversationID] = viewers
	}
	viewers[userID]++
}

func (r *Registry) LeaveRoom(userID, conversationID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	viewers, ok := r.viewing[conversationID]
	if !ok {
		return
	}
	viewers[userID]--
	if viewers[userID] <= 0 {
		delete(viewers, userID)
	}
	if len(viewers) == 0 {
		delete(r.viewing, conversationID)
	}
}

func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) IsViewing(userID, conversationID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewing[conversationID][userID] > 0
}

// OnlineUsers snapshots the currently connected user ids.
func (r *Registry) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

// RefreshMirror re-arms the Redis TTL for every connected user. Run it on a
// ticker shorter than the TTL.
func (r *Registry) RefreshMirror() {
	if r.mirror == nil {
		return
	}
	for _, id := range r.OnlineUsers() {
		r.mirror.Refresh(id)
	}
}

func (r *Registry) writeThrough(userID int, online bool) {
	if r.writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.writer.SetUserPresence(ctx, userID, online, time.Now().UTC()); err != nil {
		// Presence persistence is best effort, the live registry is the truth.
		log.Printf("presence write-through failed for user %d: %v", userID, err)
	}
}
