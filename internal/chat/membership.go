package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemberSource is the persistence collaborator the cache fills from.
type MemberSource interface {
	GetChatMembers(ctx context.Context, chatID int64) ([]uuid.UUID, error)
}

// MembershipCache keeps the authorized member set per chat. A miss fetches
// synchronously, blocking only the requesting flow; a hit may lag a
// concurrent membership change until the mutating endpoint calls
// Invalidate. That staleness window is bounded: membership churn is rare
// next to message volume, and the router consults IsMember on every single
// message.
type MembershipCache struct {
	mu     sync.RWMutex
	source MemberSource
	chats  map[int64]map[uuid.UUID]struct{}
}

func NewMembershipCache(source MemberSource) *MembershipCache {
	return &MembershipCache{
		source: source,
		chats:  make(map[int64]map[uuid.UUID]struct{}),
	}
}

// MembersOf returns a copy of the member set for chatID, loading it from
// the source on a miss. Two flows racing on the same cold chat may both
// fetch; last writer wins, which is harmless because both read the same
// committed state or newer.
func (c *MembershipCache) MembersOf(ctx context.Context, chatID int64) (map[uuid.UUID]struct{}, error) {
	c.mu.RLock()
	members, ok := c.chats[chatID]
	if ok {
		out := make(map[uuid.UUID]struct{}, len(members))
		for id := range members {
			out[id] = struct{}{}
		}
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	fetched, err := c.source.GetChatMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("membership fetch for chat %d: %w", chatID, err)
	}

	members = make(map[uuid.UUID]struct{}, len(fetched))
	for _, id := range fetched {
		members[id] = struct{}{}
	}

	c.mu.Lock()
	c.chats[chatID] = members
	c.mu.Unlock()

	out := make(map[uuid.UUID]struct{}, len(members))
	for id := range members {
		out[id] = struct{}{}
	}
	return out, nil
}

// IsMember authorizes one user against one chat, filling the cache if
// needed.
func (c *MembershipCache) IsMember(ctx context.Context, chatID int64, userID uuid.UUID) (bool, error) {
	members, err := c.MembersOf(ctx, chatID)
	if err != nil {
		return false, err
	}
	_, ok := members[userID]
	return ok, nil
}

// Invalidate drops the cached set for chatID. Membership-mutation
// endpoints call this after their write commits; the cache never decides
// on its own when to refresh.
func (c *MembershipCache) Invalidate(chatID int64) {
	c.mu.Lock()
	delete(c.chats, chatID)
	c.mu.Unlock()
}
