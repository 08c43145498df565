package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"chathub/internal/chat"
	"chathub/internal/middleware"
	"chathub/internal/models"
	"chathub/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func chatToDTO(c *models.Chat) ChatDTO {
	return ChatDTO{
		ID:        c.ID,
		Name:      c.Name,
		Users:     c.Members,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func chatIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("chatID"), 10, 64)
}

func CreateChatHandler(chats repository.ChatRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		var payload CreateChatRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := validate.Struct(payload); err != nil {
			http.Error(w, "Chat name is required (1-128 chars)", http.StatusBadRequest)
			return
		}

		// The creator is always a member, whatever the request listed.
		members := lo.Uniq(append(payload.Users, user.ID))

		newChat := &models.Chat{Name: payload.Name}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := chats.CreateChat(dbctx, newChat, members); err != nil {
			log.Printf("[CHAT] Create failed for user %s: %v", user.ID, err)
			http.Error(w, "Error creating chat", http.StatusBadRequest)
			return
		}

		log.Printf("[CHAT] User %s created chat %d (%d members)", user.ID, newChat.ID, len(members))
		writeJSON(w, http.StatusCreated, chatToDTO(newChat))
	}
}

func MyChatsHandler(chats repository.ChatRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		list, err := chats.GetChatsForUser(dbctx, user.ID)
		if err != nil {
			log.Printf("[CHAT] List failed for user %s: %v", user.ID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, lo.Map(list, func(c *models.Chat, _ int) ChatDTO {
			return chatToDTO(c)
		}))
	}
}

func GetChatHandler(chats repository.ChatRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		chatID, err := chatIDFromPath(r)
		if err != nil {
			http.Error(w, "Invalid chat id", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		c, err := chats.GetChat(dbctx, chatID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "Chat not found", http.StatusNotFound)
				return
			}
			log.Printf("[CHAT] Get failed for chat %d: %v", chatID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		// Non-members get the same answer as a missing chat.
		if !lo.Contains(c.Members, user.ID) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, chatToDTO(c))
	}
}

// AddMemberHandler grants a user membership. It invalidates the routing
// cache only after the write commits, so the fan-out engine picks the new
// member up on the next message.
func AddMemberHandler(chats repository.ChatRepository, users repository.UserRepository, cache *chat.MembershipCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		chatID, err := chatIDFromPath(r)
		if err != nil {
			http.Error(w, "Invalid chat id", http.StatusBadRequest)
			return
		}
		username := r.PathValue("username")

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		isMember, err := cache.IsMember(dbctx, chatID, requester.ID)
		if err != nil {
			log.Printf("[CHAT] Membership check failed for chat %d: %v", chatID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !isMember {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}

		target, err := users.GetUserByUsername(dbctx, username)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "User with this login not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := chats.AddMember(dbctx, chatID, target.ID); err != nil {
			log.Printf("[CHAT] Add member %s to chat %d failed: %v", target.ID, chatID, err)
			http.Error(w, "Could not add member", http.StatusInternalServerError)
			return
		}

		cache.Invalidate(chatID)
		log.Printf("[CHAT] User %s added %s to chat %d", requester.ID, target.ID, chatID)

		c, err := chats.GetChat(dbctx, chatID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, chatToDTO(c))
	}
}

// RemoveMemberHandler revokes a membership and invalidates the routing
// cache; the removed user's next send attempt is rejected even though
// their connect-time session snapshot still lists the chat.
func RemoveMemberHandler(chats repository.ChatRepository, users repository.UserRepository, cache *chat.MembershipCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		chatID, err := chatIDFromPath(r)
		if err != nil {
			http.Error(w, "Invalid chat id", http.StatusBadRequest)
			return
		}
		username := r.PathValue("username")

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		isMember, err := cache.IsMember(dbctx, chatID, requester.ID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !isMember {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}

		target, err := users.GetUserByUsername(dbctx, username)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "User with this login not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := chats.RemoveMember(dbctx, chatID, target.ID); err != nil {
			if errors.Is(err, repository.ErrNotAMember) {
				http.Error(w, "User not in the chat", http.StatusNotFound)
				return
			}
			log.Printf("[CHAT] Remove member %s from chat %d failed: %v", target.ID, chatID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		cache.Invalidate(chatID)
		log.Printf("[CHAT] User %s removed %s from chat %d", requester.ID, target.ID, chatID)

		writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted from chat successfully"})
	}
}

func HistoryHandler(messages repository.MessageRepo, cache *chat.MembershipCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		chatID, err := chatIDFromPath(r)
		if err != nil {
			http.Error(w, "Invalid chat id", http.StatusBadRequest)
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		isMember, err := cache.IsMember(dbctx, chatID, user.ID)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !isMember {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 200 {
				http.Error(w, "limit must be between 1 and 200", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		var before time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			before, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "before must be RFC3339", http.StatusBadRequest)
				return
			}
		}

		history, err := messages.Fetch(dbctx, chatID, limit, before)
		if err != nil {
			log.Printf("[CHAT] History fetch failed for chat %d: %v", chatID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, lo.Map(history, func(m *models.Message, _ int) MessageDTO {
			return MessageDTO{
				ID:        m.ID,
				ChatID:    m.ChatID,
				SenderID:  m.SenderID,
				Message:   m.Content,
				DataType:  m.DataType,
				CreatedAt: m.CreatedAt,
			}
		}))
	}
}
