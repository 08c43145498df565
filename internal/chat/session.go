package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"chathub/internal/auth"
	"chathub/internal/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ChatLister fetches a user's current chat memberships at connect time.
type ChatLister interface {
	GetChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]int64, error)
}

type connState int

const (
	stateAccepted connState = iota
	stateAwaitingIdentity
	stateActive
	stateTerminated
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateAwaitingIdentity:
		return "awaiting_identity"
	case stateActive:
		return "active"
	case stateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Lifecycle drives one connection from accept to termination:
// accepted -> awaiting_identity -> active -> terminated. Terminated is
// final; a reconnecting client gets a brand-new session.
type Lifecycle struct {
	registry    *Registry
	router      *Router
	verifier    auth.Verifier
	chats       ChatLister
	authTimeout time.Duration
}

func NewLifecycle(registry *Registry, router *Router, verifier auth.Verifier, chats ChatLister, authTimeout time.Duration) *Lifecycle {
	return &Lifecycle{
		registry:    registry,
		router:      router,
		verifier:    verifier,
		chats:       chats,
		authTimeout: authTimeout,
	}
}

// HandleConnection runs the full state machine for one accepted socket.
// It blocks until the connection terminates.
func (l *Lifecycle) HandleConnection(conn *websocket.Conn) {
	h := newWSHandle(conn)
	go h.writePump()

	state := stateAccepted
	defer func() {
		state = stateTerminated
		log.Printf("[SESSION] Handle %s %s", h.ID(), state)
		h.Close()
	}()

	state = stateAwaitingIdentity
	userID, err := l.awaitIdentity(h)
	if err != nil {
		log.Printf("[SESSION] Handle %s failed identity assertion: %v", h.ID(), err)
		l.sendError(h, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	chatIDs, err := l.chats.GetChatIDsForUser(ctx, userID)
	cancel()
	if err != nil {
		log.Printf("[SESSION] Chat list fetch for user %s failed: %v", userID, err)
		l.sendError(h, "could not load chat memberships")
		return
	}

	sessionID, err := l.registry.Register(userID, h, chatIDs)
	if err != nil {
		log.Printf("[SESSION] Register failed for user %s on handle %s: %v", userID, h.ID(), err)
		l.sendError(h, "session could not be registered")
		return
	}
	// The deferred unregister and the router's lazy prune may race; the
	// registry's idempotent Unregister makes that race harmless.
	defer l.registry.Unregister(sessionID)

	state = stateActive
	log.Printf("[SESSION] User %s %s on handle %s (%d chats)", userID, state, h.ID(), len(chatIDs))

	l.readLoop(h, userID)
}

// awaitIdentity reads the identity-assertion frame under the configured
// deadline and verifies the credential it carries.
func (l *Lifecycle) awaitIdentity(h *wsHandle) (uuid.UUID, error) {
	h.conn.SetReadDeadline(time.Now().Add(l.authTimeout))

	_, raw, err := h.conn.ReadMessage()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: no identity frame: %v", ErrAuthenticationRequired, err)
	}

	var frame IdentityFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Token == "" {
		return uuid.Nil, fmt.Errorf("%w: malformed identity frame", ErrAuthenticationRequired)
	}

	userID, err := l.verifier.VerifyIdentity(frame.Token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrAuthenticationRequired, err)
	}

	return userID, nil
}

func (l *Lifecycle) readLoop(h *wsHandle, userID uuid.UUID) {
	conn := h.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := middleware.NewRatelimiter(5, 500*time.Millisecond)
	var lastWarning time.Time

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SESSION] Unexpected close for user %s: %v", userID, err)
			}
			return
		}

		if !limiter.Allow() {
			if time.Since(lastWarning) > 3*time.Second {
				l.sendSystem(h, "Rate limit exceeded.")
				lastWarning = time.Now()
			}
			continue
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			l.sendError(h, "malformed message")
			continue
		}

		ev := Event{
			ChatID:       frame.ChatID,
			SenderID:     userID,
			OriginHandle: h.ID(),
			Content:      frame.Message,
			DataType:     frame.DataType,
			Timestamp:    time.Now().UTC(),
		}

		failures, err := l.router.Dispatch(context.Background(), ev)
		switch {
		case errors.Is(err, ErrNotAuthorized):
			l.sendError(h, "not a member of this chat")
		case errors.Is(err, ErrUnsupportedPayloadKind):
			l.sendError(h, "unsupported data_type")
		case err != nil:
			log.Printf("[SESSION] Dispatch failed for user %s: %v", userID, err)
			l.sendError(h, "message could not be routed")
		default:
			if len(failures) > 0 {
				log.Printf("[SESSION] Message to chat %d missed %d recipients", ev.ChatID, len(failures))
			}
		}
	}
}

func (l *Lifecycle) sendError(h *wsHandle, msg string) {
	l.sendFrame(h, FrameError, msg)
}

func (l *Lifecycle) sendSystem(h *wsHandle, msg string) {
	l.sendFrame(h, FrameSystem, msg)
}

func (l *Lifecycle) sendFrame(h *wsHandle, kind FrameType, msg string) {
	payload, _ := json.Marshal(OutboundFrame{
		Type:      kind,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Send(ctx, payload); err != nil {
		log.Printf("[SESSION] Could not send %s frame on handle %s: %v", kind, h.ID(), err)
	}
}
