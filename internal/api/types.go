package api

import (
	"time"

	"chathub/internal/models"

	"github.com/google/uuid"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserDTO struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateChatRequest struct {
	Name  string      `json:"name" validate:"required,min=1,max=128"`
	Users []uuid.UUID `json:"users"`
}

type ChatDTO struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Users     []uuid.UUID `json:"users"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type MessageDTO struct {
	ID        uuid.UUID       `json:"id"`
	ChatID    int64           `json:"chat_id"`
	SenderID  uuid.UUID       `json:"sender_id"`
	Message   string          `json:"message"`
	DataType  models.DataType `json:"data_type"`
	CreatedAt time.Time       `json:"created_at"`
}
