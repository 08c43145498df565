package chat

import (
	"context"
	"time"

	"chathub/internal/models"

	"github.com/google/uuid"
)

// Handle abstracts one live bidirectional connection to a client. The
// registry and router only ever see this interface; the websocket-backed
// implementation lives in conn.go.
type Handle interface {
	// ID is stable and unique for the life of the connection.
	ID() string
	// Send queues a payload for delivery. It returns ErrHandleClosed once
	// the transport is gone and ctx.Err() if the peer is too slow.
	Send(ctx context.Context, payload []byte) error
	// Close tears the transport down. Safe to call more than once.
	Close() error
}

type FrameType string

const (
	FrameMessage FrameType = "message"
	FrameSystem  FrameType = "system"
	FrameError   FrameType = "error"
)

// IdentityFrame is the first frame a client must send after the upgrade.
type IdentityFrame struct {
	Token string `json:"token"`
}

// InboundFrame is a chat message as received from a client.
type InboundFrame struct {
	ChatID   int64           `json:"chat_id"`
	Message  string          `json:"message"`
	DataType models.DataType `json:"data_type"`
}

// OutboundFrame is what recipients see. Error and system frames reuse the
// shape with only Type and Message set.
type OutboundFrame struct {
	Type      FrameType       `json:"type"`
	ChatID    int64           `json:"chat_id,omitempty"`
	SenderID  uuid.UUID       `json:"sender_id,omitempty"`
	Message   string          `json:"message"`
	DataType  models.DataType `json:"data_type,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event is one inbound message on its way through the router.
type Event struct {
	ChatID       int64
	SenderID     uuid.UUID
	OriginHandle string
	Content      string
	DataType     models.DataType
	Timestamp    time.Time
}
