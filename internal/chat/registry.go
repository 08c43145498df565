package chat

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Session binds one user identity to one live transport handle, together
// with the set of chats the user belonged to when the connection came up.
// That set is a connect-time snapshot: the router re-checks membership on
// every message, so a stale snapshot can widen routing but never
// authorization.
type Session struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Handle Handle
	chats  map[int64]struct{}
}

func (s *Session) InChat(chatID int64) bool {
	_, ok := s.chats[chatID]
	return ok
}

// Target is one delivery destination resolved for a chat.
type Target struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Handle    Handle
}

// Registry is the single in-process owner of live session state. All maps
// are guarded by one RWMutex: registrations and removals take the write
// lock, fan-out resolution takes the read lock and copies out before any
// delivery I/O happens.
type Registry struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*Session
	byHandle map[string]*Session
	byUser   map[uuid.UUID]map[uuid.UUID]*Session
	byChat   map[int64]map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[uuid.UUID]*Session),
		byHandle: make(map[string]*Session),
		byUser:   make(map[uuid.UUID]map[uuid.UUID]*Session),
		byChat:   make(map[int64]map[uuid.UUID]*Session),
	}
}

// Register adds a session for user on handle, scoped to chatIDs. A user may
// hold any number of concurrent sessions (multi-device). Re-registering the
// same user on a handle it already owns replaces the old session; a handle
// owned by a different user fails with ErrDuplicateHandle.
func (r *Registry) Register(userID uuid.UUID, handle Handle, chatIDs []int64) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byHandle[handle.ID()]; ok {
		if existing.UserID != userID {
			return uuid.Nil, ErrDuplicateHandle
		}
		log.Printf("[REGISTRY] Replacing session %s (user %s reconnected on handle %s)", existing.ID, userID, handle.ID())
		r.removeLocked(existing)
	}

	s := &Session{
		ID:     uuid.New(),
		UserID: userID,
		Handle: handle,
		chats:  make(map[int64]struct{}, len(chatIDs)),
	}
	for _, chatID := range chatIDs {
		s.chats[chatID] = struct{}{}
	}

	r.byID[s.ID] = s
	r.byHandle[handle.ID()] = s

	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[uuid.UUID]*Session)
	}
	r.byUser[userID][s.ID] = s

	for chatID := range s.chats {
		if _, ok := r.byChat[chatID]; !ok {
			r.byChat[chatID] = make(map[uuid.UUID]*Session)
		}
		r.byChat[chatID][s.ID] = s
	}

	log.Printf("[REGISTRY] Registered session %s for user %s (%d chats, %d live sessions total)",
		s.ID, userID, len(chatIDs), len(r.byID))
	return s.ID, nil
}

// Unregister removes a session. It is idempotent: removing an absent id is
// a no-op, which makes the disconnect path and the router's lazy prune safe
// to race.
func (r *Registry) Unregister(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[sessionID]
	if !ok {
		return
	}
	r.removeLocked(s)
	log.Printf("[REGISTRY] Unregistered session %s (user %s, %d live sessions remaining)", s.ID, s.UserID, len(r.byID))
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byID, s.ID)
	delete(r.byHandle, s.Handle.ID())

	if sessions, ok := r.byUser[s.UserID]; ok {
		delete(sessions, s.ID)
		if len(sessions) == 0 {
			delete(r.byUser, s.UserID)
		}
	}

	for chatID := range s.chats {
		if sessions, ok := r.byChat[chatID]; ok {
			delete(sessions, s.ID)
			if len(sessions) == 0 {
				delete(r.byChat, chatID)
			}
		}
	}
}

// LiveSessionsFor returns the handles of every live session for a user.
// An unknown user yields an empty slice, not an error.
func (r *Registry) LiveSessionsFor(userID uuid.UUID) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	handles := make([]Handle, 0, len(sessions))
	for _, s := range sessions {
		handles = append(handles, s.Handle)
	}
	return handles
}

// LiveSessionsForChat resolves every live session whose snapshot includes
// chatID. The result is copied out under the read lock so that callers
// never hold registry state across delivery I/O.
func (r *Registry) LiveSessionsForChat(chatID int64) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byChat[chatID]
	targets := make([]Target, 0, len(sessions))
	for _, s := range sessions {
		targets = append(targets, Target{
			SessionID: s.ID,
			UserID:    s.UserID,
			Handle:    s.Handle,
		})
	}
	return targets
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CloseAll tears down every live session. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		r.removeLocked(s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Handle.Close()
	}
	log.Printf("[REGISTRY] Closed %d sessions on shutdown", len(sessions))
}
