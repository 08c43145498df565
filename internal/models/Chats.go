package models

import (
	"time"

	"github.com/google/uuid"
)

type Chat struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Members   []uuid.UUID `json:"members"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
