package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chathub/internal/chat"
	"chathub/internal/middleware"
	"chathub/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeMemberSource struct {
	members map[int64][]uuid.UUID
}

func (s *fakeMemberSource) GetChatMembers(ctx context.Context, chatID int64) ([]uuid.UUID, error) {
	return s.members[chatID], nil
}

type fakeMessageRepo struct {
	messages  []*models.Message
	gotLimit  int
	gotBefore time.Time
}

func (r *fakeMessageRepo) Save(ctx context.Context, m *models.Message) error { return nil }

func (r *fakeMessageRepo) Fetch(ctx context.Context, chatID int64, limit int, before time.Time) ([]*models.Message, error) {
	r.gotLimit = limit
	r.gotBefore = before
	var out []*models.Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func historyRequest(t *testing.T, user *models.User, target string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.SetPathValue("chatID", "7")
	return r.WithContext(context.WithValue(r.Context(), middleware.UserKey, user))
}

func TestHistoryHandler_ReturnsMessagesForMember(t *testing.T) {
	req := require.New(t)
	user := &models.User{ID: uuid.New()}
	cache := chat.NewMembershipCache(&fakeMemberSource{members: map[int64][]uuid.UUID{7: {user.ID}}})

	repo := &fakeMessageRepo{messages: []*models.Message{
		{ID: uuid.New(), ChatID: 7, SenderID: user.ID, Content: "newest", DataType: models.DataText, CreatedAt: time.Now()},
		{ID: uuid.New(), ChatID: 7, SenderID: user.ID, Content: "older", DataType: models.DataText, CreatedAt: time.Now().Add(-time.Minute)},
		{ID: uuid.New(), ChatID: 9, SenderID: user.ID, Content: "other chat", DataType: models.DataText, CreatedAt: time.Now()},
	}}

	w := httptest.NewRecorder()
	HistoryHandler(repo, cache)(w, historyRequest(t, user, "/api/chats/7/messages"))

	req.Equal(http.StatusOK, w.Code)
	req.Equal(50, repo.gotLimit)

	var got []MessageDTO
	req.NoError(json.Unmarshal(w.Body.Bytes(), &got))
	req.Len(got, 2)
	req.Equal("newest", got[0].Message)
}

func TestHistoryHandler_PagingParams(t *testing.T) {
	req := require.New(t)
	user := &models.User{ID: uuid.New()}
	cache := chat.NewMembershipCache(&fakeMemberSource{members: map[int64][]uuid.UUID{7: {user.ID}}})
	repo := &fakeMessageRepo{}

	before := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := httptest.NewRecorder()
	HistoryHandler(repo, cache)(w, historyRequest(t, user, "/api/chats/7/messages?limit=10&before=2025-06-01T12:00:00Z"))

	req.Equal(http.StatusOK, w.Code)
	req.Equal(10, repo.gotLimit)
	req.True(repo.gotBefore.Equal(before))
}

func TestHistoryHandler_RejectsBadParams(t *testing.T) {
	req := require.New(t)
	user := &models.User{ID: uuid.New()}
	cache := chat.NewMembershipCache(&fakeMemberSource{members: map[int64][]uuid.UUID{7: {user.ID}}})
	repo := &fakeMessageRepo{}

	for _, target := range []string{
		"/api/chats/7/messages?limit=0",
		"/api/chats/7/messages?limit=201",
		"/api/chats/7/messages?limit=abc",
		"/api/chats/7/messages?before=yesterday",
	} {
		w := httptest.NewRecorder()
		HistoryHandler(repo, cache)(w, historyRequest(t, user, target))
		req.Equal(http.StatusBadRequest, w.Code, target)
	}
}

func TestHistoryHandler_NonMemberGetsNotFound(t *testing.T) {
	req := require.New(t)
	outsider := &models.User{ID: uuid.New()}
	cache := chat.NewMembershipCache(&fakeMemberSource{members: map[int64][]uuid.UUID{7: {uuid.New()}}})
	repo := &fakeMessageRepo{}

	// Membership is hidden; outsiders see the same 404 as a missing chat
	w := httptest.NewRecorder()
	HistoryHandler(repo, cache)(w, historyRequest(t, outsider, "/api/chats/7/messages"))
	req.Equal(http.StatusNotFound, w.Code)
}

func TestHistoryHandler_Unauthenticated(t *testing.T) {
	req := require.New(t)
	cache := chat.NewMembershipCache(&fakeMemberSource{members: map[int64][]uuid.UUID{}})

	r := httptest.NewRequest(http.MethodGet, "/api/chats/7/messages", nil)
	r.SetPathValue("chatID", "7")
	w := httptest.NewRecorder()
	HistoryHandler(&fakeMessageRepo{}, cache)(w, r)
	req.Equal(http.StatusUnauthorized, w.Code)
}
