package repository

import (
	"context"
	"log"
	"time"

	"chathub/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepo interface {
	Save(ctx context.Context, message *models.Message) error
	Fetch(ctx context.Context, chatID int64, limit int, before time.Time) ([]*models.Message, error)
}

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
}

func NewMessagesRepo(pool *pgxpool.Pool) *PostgresMessagesRepo {
	return &PostgresMessagesRepo{
		pool: pool,
	}
}

func (r *PostgresMessagesRepo) Save(ctx context.Context, m *models.Message) error {
	const query = `
        INSERT INTO messages (id, chat_id, sender_id, content, data_type, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING
    `

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.ChatID,
		m.SenderID,
		m.Content,
		m.DataType,
		m.CreatedAt,
	)

	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message %s from %s: %v", m.ID, m.SenderID, err)
		return err
	}

	return nil
}

func (r *PostgresMessagesRepo) Fetch(ctx context.Context, chatID int64, limit int, before time.Time) ([]*models.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}

	const query = `
        SELECT id, chat_id, sender_id, content, data_type, created_at
        FROM messages
        WHERE chat_id = $1
          AND created_at < $2
        ORDER BY created_at DESC
        LIMIT $3
    `

	rows, err := r.pool.Query(ctx, query, chatID, before, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Fetch failed for chat %d: %v", chatID, err)
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(
			&m.ID,
			&m.ChatID,
			&m.SenderID,
			&m.Content,
			&m.DataType,
			&m.CreatedAt,
		)
		if err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
