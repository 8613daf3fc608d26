package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Session is a live connection as seen by the sync core. The websocket
// layer adapts real sockets to this; tests use in-memory fakes.
type Session interface {
	ID() string
	Emit(event string, args ...any) error
}

// Registry maps board rooms to their live sessions. A session belongs
// to at most one room; joining a new board implicitly leaves the
// previous one.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]Session
	current map[string]string // session id -> board id
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]Session),
		current: make(map[string]string),
	}
}

// Join adds the session to the board's room and returns the room it
// left, if any. Joining the same room twice is a no-op.
func (r *Registry) Join(session Session, boardID string) (left string, switched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := session.ID()
	if prev, ok := r.current[id]; ok {
		if prev == boardID {
			return "", false
		}
		r.removeLocked(id, prev)
		left, switched = prev, true
	}

	room, ok := r.rooms[boardID]
	if !ok {
		room = make(map[string]Session)
		r.rooms[boardID] = room
	}
	room[id] = session
	r.current[id] = boardID
	return left, switched
}

// Leave removes the session from whatever room it is in and reports
// which board that was.
func (r *Registry) Leave(session Session) (boardID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := session.ID()
	boardID, ok = r.current[id]
	if !ok {
		return "", false
	}
	r.removeLocked(id, boardID)
	return boardID, true
}

func (r *Registry) removeLocked(sessionID, boardID string) {
	delete(r.current, sessionID)
	if room, ok := r.rooms[boardID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(r.rooms, boardID)
		}
	}
}

// Room reports the board the session is currently in.
func (r *Registry) Room(session Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	boardID, ok := r.current[session.ID()]
	return boardID, ok
}

// Count returns the number of live sessions in a room.
func (r *Registry) Count(boardID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[boardID])
}

// Counts returns a snapshot of room occupancy, keyed by board id.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int, len(r.rooms))
	for boardID, room := range r.rooms {
		counts[boardID] = len(room)
	}
	return counts
}

// Clear empties a room, detaching every session in it. Used when the
// board itself is deleted.
func (r *Registry) Clear(boardID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[boardID]
	if !ok {
		return nil
	}
	sessions := make([]Session, 0, len(room))
	for id, s := range room {
		sessions = append(sessions, s)
		delete(r.current, id)
	}
	delete(r.rooms, boardID)
	return sessions
}

// Broadcast delivers an event to every session in the room except the
// excluded one. Delivery is best-effort, at most once per peer; a
// failing session is logged and skipped.
func (r *Registry) Broadcast(boardID, event string, exclude string, args ...any) {
	r.mu.RLock()
	room := r.rooms[boardID]
	peers := make([]Session, 0, len(room))
	for id, s := range room {
		if id == exclude {
			continue
		}
		peers = append(peers, s)
	}
	r.mu.RUnlock()

	for _, peer := range peers {
		if err := peer.Emit(event, args...); err != nil {
			logrus.WithFields(logrus.Fields{
				"board_id":   boardID,
				"session_id": peer.ID(),
				"event":      event,
			}).WithError(err).Warn("Failed to deliver event to peer")
		}
	}
}
