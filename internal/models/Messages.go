package models

import (
	"time"

	"github.com/google/uuid"
)

// DataType is the closed set of payload kinds a message can carry.
// Only DataText is deliverable over the live socket today; file and
// image rows can exist in history but the router rejects them inbound.
type DataType string

const (
	DataText  DataType = "text"
	DataFile  DataType = "file"
	DataImage DataType = "image"
)

func (d DataType) Valid() bool {
	switch d {
	case DataText, DataFile, DataImage:
		return true
	}
	return false
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	DataType  DataType  `json:"data_type"`
	CreatedAt time.Time `json:"created_at"`
}
