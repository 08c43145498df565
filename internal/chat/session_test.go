package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chathub/internal/chat"
	"chathub/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	users map[string]uuid.UUID
}

func (v *stubVerifier) VerifyIdentity(token string) (uuid.UUID, error) {
	if id, ok := v.users[token]; ok {
		return id, nil
	}
	return uuid.Nil, errors.New("invalid token")
}

type stubChatLister struct {
	chats map[uuid.UUID][]int64
}

func (l *stubChatLister) GetChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	return l.chats[userID], nil
}

type stubMemberSource struct {
	members map[int64][]uuid.UUID
}

func (s *stubMemberSource) GetChatMembers(ctx context.Context, chatID int64) ([]uuid.UUID, error) {
	return s.members[chatID], nil
}

type stubMessageStore struct{}

func (s *stubMessageStore) Save(ctx context.Context, m *models.Message) error { return nil }

type harness struct {
	server   *httptest.Server
	registry *chat.Registry
}

func newHarness(t *testing.T, verifier *stubVerifier, lister *stubChatLister, source *stubMemberSource, authTimeout time.Duration) *harness {
	t.Helper()

	registry := chat.NewRegistry()
	router := chat.NewRouter(registry, chat.NewMembershipCache(source), &stubMessageStore{}, time.Second)
	lifecycle := chat.NewLifecycle(registry, router, verifier, lister, authTimeout)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go lifecycle.HandleConnection(conn)
	}))
	t.Cleanup(server.Close)

	return &harness{server: server, registry: registry}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func identify(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(chat.IdentityFrame{Token: token}))
}

func readFrame(t *testing.T, conn *websocket.Conn) chat.OutboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	// The write side may coalesce queued frames; take the first.
	if idx := strings.IndexByte(string(raw), '\n'); idx >= 0 {
		raw = raw[:idx]
	}

	var frame chat.OutboundFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestLifecycle_EndToEndFanOut(t *testing.T) {
	req := require.New(t)

	userA := uuid.New()
	userB := uuid.New()
	verifier := &stubVerifier{users: map[string]uuid.UUID{"tokA": userA, "tokB": userB}}
	lister := &stubChatLister{chats: map[uuid.UUID][]int64{userA: {7}, userB: {7}}}
	source := &stubMemberSource{members: map[int64][]uuid.UUID{7: {userA, userB}}}

	h := newHarness(t, verifier, lister, source, 5*time.Second)

	// Given A on two devices and B on one, all active
	a1 := h.dial(t)
	a2 := h.dial(t)
	b1 := h.dial(t)
	identify(t, a1, "tokA")
	identify(t, a2, "tokA")
	identify(t, b1, "tokB")

	req.Eventually(func() bool { return h.registry.Len() == 3 }, 2*time.Second, 10*time.Millisecond)

	// When A1 sends a text message to chat 7
	req.NoError(a1.WriteJSON(chat.InboundFrame{ChatID: 7, Message: "hi", DataType: models.DataText}))

	// Then B1 receives it
	frame := readFrame(t, b1)
	req.Equal(chat.FrameMessage, frame.Type)
	req.Equal(int64(7), frame.ChatID)
	req.Equal(userA, frame.SenderID)
	req.Equal("hi", frame.Message)

	// And A's other device receives the echo
	frame = readFrame(t, a2)
	req.Equal("hi", frame.Message)

	// But the originating handle does not
	a1.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := a1.ReadMessage()
	req.Error(err)
}

func TestLifecycle_NonMemberGetsErrorFrame(t *testing.T) {
	req := require.New(t)

	userC := uuid.New()
	member := uuid.New()
	verifier := &stubVerifier{users: map[string]uuid.UUID{"tokC": userC}}
	lister := &stubChatLister{chats: map[uuid.UUID][]int64{}}
	source := &stubMemberSource{members: map[int64][]uuid.UUID{7: {member}}}

	h := newHarness(t, verifier, lister, source, 5*time.Second)

	c1 := h.dial(t)
	identify(t, c1, "tokC")
	req.Eventually(func() bool { return h.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// When a non-member sends into chat 7
	req.NoError(c1.WriteJSON(chat.InboundFrame{ChatID: 7, Message: "sneaky", DataType: models.DataText}))

	// Then the sender is told, and the connection stays open
	frame := readFrame(t, c1)
	req.Equal(chat.FrameError, frame.Type)
	req.Equal(1, h.registry.Len())
}

func TestLifecycle_UnsupportedKindGetsErrorFrame(t *testing.T) {
	req := require.New(t)

	userA := uuid.New()
	verifier := &stubVerifier{users: map[string]uuid.UUID{"tokA": userA}}
	lister := &stubChatLister{chats: map[uuid.UUID][]int64{userA: {7}}}
	source := &stubMemberSource{members: map[int64][]uuid.UUID{7: {userA}}}

	h := newHarness(t, verifier, lister, source, 5*time.Second)

	a1 := h.dial(t)
	identify(t, a1, "tokA")
	req.Eventually(func() bool { return h.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	req.NoError(a1.WriteJSON(chat.InboundFrame{ChatID: 7, Message: "cat.png", DataType: models.DataImage}))

	frame := readFrame(t, a1)
	req.Equal(chat.FrameError, frame.Type)
}

func TestLifecycle_InvalidTokenTerminates(t *testing.T) {
	req := require.New(t)

	verifier := &stubVerifier{users: map[string]uuid.UUID{}}
	lister := &stubChatLister{chats: map[uuid.UUID][]int64{}}
	source := &stubMemberSource{members: map[int64][]uuid.UUID{}}

	h := newHarness(t, verifier, lister, source, 5*time.Second)

	conn := h.dial(t)
	identify(t, conn, "forged")

	// The connection is torn down without ever registering a session
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	req.Equal(0, h.registry.Len())
}

func TestLifecycle_UnauthenticatedSocketTimesOut(t *testing.T) {
	req := require.New(t)

	verifier := &stubVerifier{users: map[string]uuid.UUID{}}
	lister := &stubChatLister{chats: map[uuid.UUID][]int64{}}
	source := &stubMemberSource{members: map[int64][]uuid.UUID{}}

	// Given a 200ms identity deadline
	h := newHarness(t, verifier, lister, source, 200*time.Millisecond)

	conn := h.dial(t)

	// When the client never asserts an identity, the server hangs up
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	req.Error(err)
	req.Equal(0, h.registry.Len())
}

func TestLifecycle_DisconnectUnregisters(t *testing.T) {
	req := require.New(t)

	userA := uuid.New()
	verifier := &stubVerifier{users: map[string]uuid.UUID{"tokA": userA}}
	lister := &stubChatLister{chats: map[uuid.UUID][]int64{userA: {7}}}
	source := &stubMemberSource{members: map[int64][]uuid.UUID{7: {userA}}}

	h := newHarness(t, verifier, lister, source, 5*time.Second)

	conn := h.dial(t)
	identify(t, conn, "tokA")
	req.Eventually(func() bool { return h.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// When the transport drops abruptly
	conn.Close()

	// Then the session is released
	req.Eventually(func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
