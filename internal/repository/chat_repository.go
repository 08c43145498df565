package repository

import (
	"context"
	"errors"
	"fmt"
	"log"

	"chathub/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotAMember = errors.New("user is not a member of the chat")

type ChatRepository interface {
	CreateChat(ctx context.Context, chat *models.Chat, memberIDs []uuid.UUID) error
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error)
	GetChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]int64, error)
	GetChatMembers(ctx context.Context, chatID int64) ([]uuid.UUID, error)
	AddMember(ctx context.Context, chatID int64, userID uuid.UUID) error
	RemoveMember(ctx context.Context, chatID int64, userID uuid.UUID) error
}

type PostgresChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *PostgresChatRepo {
	return &PostgresChatRepo{
		pool: pool,
	}
}

func (r *PostgresChatRepo) CreateChat(ctx context.Context, chat *models.Chat, memberIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertChat = `INSERT INTO chats (name) VALUES ($1) RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, insertChat, chat.Name).Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}

	const insertMember = `INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, memberID := range memberIDs {
		if _, err := tx.Exec(ctx, insertMember, chat.ID, memberID); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", memberID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chat creation: %w", err)
	}

	chat.Members = memberIDs
	return nil
}

func (r *PostgresChatRepo) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	const query = `SELECT id, name, created_at, updated_at FROM chats WHERE id = $1`

	chat := &models.Chat{}
	err := r.pool.QueryRow(ctx, query, chatID).Scan(
		&chat.ID,
		&chat.Name,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find chat %d: %w", chatID, err)
	}

	members, err := r.GetChatMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chat.Members = members

	return chat, nil
}

func (r *PostgresChatRepo) GetChatsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error) {
	const query = `
        SELECT c.id, c.name, c.created_at, c.updated_at
        FROM chats c
        JOIN chat_members m ON m.chat_id = c.id
        WHERE m.user_id = $1
        ORDER BY c.created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		log.Printf("[REPO ERROR] Chat list failed for user %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		c := &models.Chat{}
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range chats {
		members, err := r.GetChatMembers(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Members = members
	}

	return chats, nil
}

func (r *PostgresChatRepo) GetChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	const query = `SELECT chat_id FROM chat_members WHERE user_id = $1`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat ids for user %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *PostgresChatRepo) GetChatMembers(ctx context.Context, chatID int64) ([]uuid.UUID, error) {
	const query = `SELECT user_id FROM chat_members WHERE chat_id = $1`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}

	return members, rows.Err()
}

func (r *PostgresChatRepo) AddMember(ctx context.Context, chatID int64, userID uuid.UUID) error {
	const exists = `SELECT 1 FROM chats WHERE id = $1`
	var one int
	if err := r.pool.QueryRow(ctx, exists, chatID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("chat %d not found: %w", chatID, err)
		}
		return err
	}

	const query = `INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, chatID, userID); err != nil {
		return fmt.Errorf("failed to add member %s to chat %d: %w", userID, chatID, err)
	}
	return nil
}

func (r *PostgresChatRepo) RemoveMember(ctx context.Context, chatID int64, userID uuid.UUID) error {
	const query = `DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`

	tag, err := r.pool.Exec(ctx, query, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member %s from chat %d: %w", userID, chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAMember
	}
	return nil
}
