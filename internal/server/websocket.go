package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
)

// WebSocketHandler upgrades GET requests and runs the same session loop as
// TCP clients, one text frame per protocol message.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.connOpts.BufferSize,
		WriteBufferSize: s.connOpts.BufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}
		if s.isClosed() {
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnF("WebSocket upgrade failed: %v", err)
			return
		}

		if !s.acquire() {
			_ = conn.Close()
			return
		}
		defer s.release()

		wsConn := connection.NewWSConn(conn, r.RemoteAddr, s.connOpts.BufferSize, s.connOpts.WriteTimeout)
		if !s.track(wsConn) {
			_ = wsConn.Close()
			return
		}
		defer s.untrack(wsConn)

		s.handle(wsConn)
	}
}

// NewWebSocketServer serves the chat protocol on /ws and a liveness probe on /health.
func (s *Server) NewWebSocketServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WebSocketHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, "Chat server is running!")
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
