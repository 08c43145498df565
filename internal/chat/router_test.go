package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chathub/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []*models.Message
	err   error
}

func (s *fakeStore) Save(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, m)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// blockingHandle never accepts a payload; Send parks until the delivery
// context expires.
type blockingHandle struct {
	id string
}

func (h *blockingHandle) ID() string { return h.id }

func (h *blockingHandle) Send(ctx context.Context, payload []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *blockingHandle) Close() error { return nil }

func textEvent(chatID int64, sender uuid.UUID, origin string) Event {
	return Event{
		ChatID:       chatID,
		SenderID:     sender,
		OriginHandle: origin,
		Content:      "hi",
		DataType:     models.DataText,
		Timestamp:    time.Now().UTC(),
	}
}

func TestRouter_FanOut_MultiDeviceExcludesOriginHandle(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{}
	router := NewRouter(registry, NewMembershipCache(source), store, 100*time.Millisecond)

	// Given users A (two devices) and B (one device) in chat 7
	userA := uuid.New()
	userB := uuid.New()
	source.set(7, userA, userB)

	a1 := newFakeHandle("a1")
	a2 := newFakeHandle("a2")
	b1 := newFakeHandle("b1")
	_, err := registry.Register(userA, a1, []int64{7})
	req.NoError(err)
	_, err = registry.Register(userA, a2, []int64{7})
	req.NoError(err)
	_, err = registry.Register(userB, b1, []int64{7})
	req.NoError(err)

	// When A1 sends to chat 7
	failures, err := router.Dispatch(context.Background(), textEvent(7, userA, a1.ID()))
	req.NoError(err)
	req.Empty(failures)

	// Then B1 and A's other device receive it; the origin handle does not
	req.Equal(1, b1.delivered())
	req.Equal(1, a2.delivered())
	req.Equal(0, a1.delivered())

	var frame OutboundFrame
	req.NoError(json.Unmarshal(b1.frames[0], &frame))
	req.Equal(FrameMessage, frame.Type)
	req.Equal(int64(7), frame.ChatID)
	req.Equal(userA, frame.SenderID)
	req.Equal("hi", frame.Message)

	// And the message reaches history
	req.Eventually(func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRouter_NonMemberRejected(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{}
	router := NewRouter(registry, NewMembershipCache(source), store, 100*time.Millisecond)

	member := uuid.New()
	outsider := uuid.New()
	source.set(7, member)

	b1 := newFakeHandle("b1")
	_, err := registry.Register(member, b1, []int64{7})
	req.NoError(err)

	// When a non-member sends to chat 7
	failures, err := router.Dispatch(context.Background(), textEvent(7, outsider, "c1"))

	// Then it is rejected and nothing is delivered or persisted
	req.ErrorIs(err, ErrNotAuthorized)
	req.Empty(failures)
	req.Equal(0, b1.delivered())
	req.Equal(0, store.count())
}

func TestRouter_UnsupportedPayloadKindRejected(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{}
	router := NewRouter(registry, NewMembershipCache(source), store, 100*time.Millisecond)

	sender := uuid.New()
	peer := uuid.New()
	source.set(7, sender, peer)

	b1 := newFakeHandle("b1")
	_, err := registry.Register(peer, b1, []int64{7})
	req.NoError(err)

	for _, kind := range []models.DataType{models.DataFile, models.DataImage, "gif"} {
		ev := textEvent(7, sender, "a1")
		ev.DataType = kind

		failures, err := router.Dispatch(context.Background(), ev)
		req.ErrorIs(err, ErrUnsupportedPayloadKind)
		req.Empty(failures)
	}

	req.Equal(0, b1.delivered())
	req.Equal(0, store.count())
}

func TestRouter_PartialFailureDoesNotAbortBatch(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{}
	router := NewRouter(registry, NewMembershipCache(source), store, 100*time.Millisecond)

	sender := uuid.New()
	userB := uuid.New()
	userC := uuid.New()
	source.set(7, sender, userB, userC)

	a1 := newFakeHandle("a1")
	b1 := newFakeHandle("b1")
	c1 := newFakeHandle("c1")
	_, err := registry.Register(sender, a1, []int64{7})
	req.NoError(err)
	bID, err := registry.Register(userB, b1, []int64{7})
	req.NoError(err)
	_, err = registry.Register(userC, c1, []int64{7})
	req.NoError(err)

	// Given B's transport died abruptly
	b1.fail(ErrHandleClosed)

	// When the sender fans out
	failures, err := router.Dispatch(context.Background(), textEvent(7, sender, a1.ID()))
	req.NoError(err)

	// Then the failure is isolated to B and C still receives the message
	req.Len(failures, 1)
	req.Equal(bID, failures[0].SessionID)
	req.Equal(userB, failures[0].UserID)
	req.Equal(1, c1.delivered())

	// And B's dead session is pruned lazily
	req.Eventually(func() bool { return registry.Len() == 2 }, time.Second, 10*time.Millisecond)

	// Subsequent sends omit B without surfacing an error to the sender
	failures, err = router.Dispatch(context.Background(), textEvent(7, sender, a1.ID()))
	req.NoError(err)
	req.Empty(failures)
	req.Equal(2, c1.delivered())
}

func TestRouter_SlowRecipientTimesOutWithoutPrune(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{}
	router := NewRouter(registry, NewMembershipCache(source), store, 50*time.Millisecond)

	sender := uuid.New()
	slowUser := uuid.New()
	fastUser := uuid.New()
	source.set(7, sender, slowUser, fastUser)

	a1 := newFakeHandle("a1")
	fast := newFakeHandle("fast")
	_, err := registry.Register(sender, a1, []int64{7})
	req.NoError(err)
	_, err = registry.Register(slowUser, &blockingHandle{id: "slow"}, []int64{7})
	req.NoError(err)
	_, err = registry.Register(fastUser, fast, []int64{7})
	req.NoError(err)

	failures, err := router.Dispatch(context.Background(), textEvent(7, sender, a1.ID()))
	req.NoError(err)

	// The wedged transport times out; it is not a closed handle, so it is
	// reported but not pruned
	req.Len(failures, 1)
	req.Equal(slowUser, failures[0].UserID)
	req.Equal(1, fast.delivered())
	req.Equal(3, registry.Len())
}

func TestRouter_PersistenceFailureDoesNotBlockDelivery(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{err: context.DeadlineExceeded}
	router := NewRouter(registry, NewMembershipCache(source), store, 100*time.Millisecond)

	sender := uuid.New()
	peer := uuid.New()
	source.set(7, sender, peer)

	b1 := newFakeHandle("b1")
	_, err := registry.Register(peer, b1, []int64{7})
	req.NoError(err)

	failures, err := router.Dispatch(context.Background(), textEvent(7, sender, "a1"))
	req.NoError(err)
	req.Empty(failures)
	req.Equal(1, b1.delivered())
}

func TestRouter_EmptyChatIsValidNoOp(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	source := newFakeMemberSource()
	store := &fakeStore{}
	router := NewRouter(registry, NewMembershipCache(source), store, 100*time.Millisecond)

	sender := uuid.New()
	source.set(7, sender)

	// Nobody is connected; dispatch succeeds with zero deliveries
	failures, err := router.Dispatch(context.Background(), textEvent(7, sender, "a1"))
	req.NoError(err)
	req.Empty(failures)
}
