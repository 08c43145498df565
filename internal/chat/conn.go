package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 10 * time.Second
	sendBuffer     = 256
	maxMessageSize = 4096
)

// wsHandle adapts a gorilla connection to the Handle interface. All writes
// to the socket go through writePump; Send only queues.
type wsHandle struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSHandle(conn *websocket.Conn) *wsHandle {
	return &wsHandle{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (h *wsHandle) ID() string { return h.id }

func (h *wsHandle) Send(ctx context.Context, payload []byte) error {
	select {
	case <-h.done:
		return ErrHandleClosed
	default:
	}

	select {
	case h.send <- payload:
		return nil
	case <-h.done:
		return ErrHandleClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *wsHandle) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.conn.Close()
	})
	return nil
}

// writePump owns the write side of the connection: queued payloads, pings,
// and the close frame. It exits when the handle closes or a write fails.
func (h *wsHandle) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.Close()
	}()

	for {
		select {
		case <-h.done:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			h.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-h.send:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := h.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush whatever else is already queued into the same frame.
			n := len(h.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-h.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
