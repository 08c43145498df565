package api

import (
	"log"
	"net/http"

	"chathub/internal/chat"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 512,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and hands the socket to the lifecycle
// handler. Identity is asserted on the socket itself, not here: the first
// frame must carry a valid token before the connection becomes active.
func ServeWS(lifecycle *chat.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Upgrade error: %v", err)
			return
		}

		go lifecycle.HandleConnection(conn)
	}
}
