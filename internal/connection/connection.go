// Package connection wraps the transports a chat client can arrive on behind
// a single message-oriented handle.
package connection

//go:generate mockgen -source=connection.go -destination=mocks/mock_conn.go -package=mocks

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
)

// Conn is a live bidirectional stream to one client. ReadMessage returns one
// protocol message per call; Send writes one reply.
type Conn interface {
	ID() string
	RemoteAddr() string
	ReadMessage() (string, error)
	Send(message string) error
	Close() error
}

func newConnID() string {
	return uuid.NewString()[:8]
}

// normalize strips what a C-string read or a terminal client appends to a payload.
func normalize(payload []byte) string {
	message := string(payload)
	if i := strings.IndexByte(message, 0); i >= 0 {
		message = message[:i]
	}
	return strings.TrimRight(message, "\r\n")
}

// Send writes data in full, retrying short writes.
func Send(w io.Writer, data []byte, connID string) error {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			logger.ErrorF("[%s] Fail to send data, details: %v", connID, err)
			return err
		}
		total += n
	}
	logger.DebugF("[%s] Send %d bytes to client", connID, total)
	return nil
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func HandleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.InfoF("[%s] Client close connection", connID)
	case errors.Is(err, net.ErrClosed):
		logger.InfoF("[%s] Connection closed by server", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading message, details: %v", connID, err)
	}
}
