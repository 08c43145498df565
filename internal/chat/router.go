package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chathub/internal/models"

	"github.com/google/uuid"
)

// MessageStore is the persistence collaborator for message history.
type MessageStore interface {
	Save(ctx context.Context, m *models.Message) error
}

const persistTimeout = 5 * time.Second

// Router fans one inbound event out to every live session of the target
// chat. Durability and liveness are best-effort independently: history is
// written concurrently with delivery and a failed write never blocks a
// recipient.
type Router struct {
	registry     *Registry
	members      *MembershipCache
	store        MessageStore
	writeTimeout time.Duration
}

func NewRouter(registry *Registry, members *MembershipCache, store MessageStore, writeTimeout time.Duration) *Router {
	return &Router{
		registry:     registry,
		members:      members,
		store:        store,
		writeTimeout: writeTimeout,
	}
}

// Dispatch routes one event. It returns ErrNotAuthorized or
// ErrUnsupportedPayloadKind for per-message rejections (nothing delivered,
// nothing persisted) and otherwise the per-recipient failures, which are
// informational: a failed recipient never fails the batch or the sender.
//
// Delivery policy: every live session of every member receives the
// message, including the sender's other devices; only the originating
// handle is excluded.
func (r *Router) Dispatch(ctx context.Context, ev Event) ([]DeliveryFailure, error) {
	ok, err := r.members.IsMember(ctx, ev.ChatID, ev.SenderID)
	if err != nil {
		return nil, fmt.Errorf("authorizing sender %s for chat %d: %w", ev.SenderID, ev.ChatID, err)
	}
	if !ok {
		return nil, ErrNotAuthorized
	}

	switch ev.DataType {
	case models.DataText:
		// deliverable
	case models.DataFile, models.DataImage:
		// Valid kinds with no transport yet. Rejected cleanly rather than
		// silently swallowed.
		return nil, ErrUnsupportedPayloadKind
	default:
		return nil, ErrUnsupportedPayloadKind
	}

	go r.persist(ev)

	targets := r.registry.LiveSessionsForChat(ev.ChatID)

	payload, err := json.Marshal(OutboundFrame{
		Type:      FrameMessage,
		ChatID:    ev.ChatID,
		SenderID:  ev.SenderID,
		Message:   ev.Content,
		DataType:  ev.DataType,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding outbound frame: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []DeliveryFailure
	)

	for _, target := range targets {
		if target.Handle.ID() == ev.OriginHandle {
			continue
		}

		wg.Add(1)
		go func(t Target) {
			defer wg.Done()

			dctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
			defer cancel()

			if err := t.Handle.Send(dctx, payload); err != nil {
				mu.Lock()
				failures = append(failures, DeliveryFailure{
					SessionID: t.SessionID,
					UserID:    t.UserID,
					Err:       err,
				})
				mu.Unlock()

				if errors.Is(err, ErrHandleClosed) {
					// Lazy prune: a dead session found on first failed use.
					go r.registry.Unregister(t.SessionID)
				}
				log.Printf("[ROUTER] Delivery to session %s (user %s) failed: %v", t.SessionID, t.UserID, err)
			}
		}(target)
	}
	wg.Wait()

	return failures, nil
}

func (r *Router) persist(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	m := &models.Message{
		ID:        uuid.New(),
		ChatID:    ev.ChatID,
		SenderID:  ev.SenderID,
		Content:   ev.Content,
		DataType:  ev.DataType,
		CreatedAt: ev.Timestamp,
	}
	if err := r.store.Save(ctx, m); err != nil {
		log.Printf("[ROUTER] History write for chat %d failed (delivery unaffected): %v", ev.ChatID, err)
	}
}
