package connection

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
)

// WSConn carries one protocol message per WebSocket text frame.
type WSConn struct {
	conn         *websocket.Conn
	id           string
	remote       string
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func NewWSConn(conn *websocket.Conn, remote string, bufferSize int, writeTimeout time.Duration) *WSConn {
	if bufferSize > 0 {
		conn.SetReadLimit(int64(bufferSize))
	}
	return &WSConn{
		conn:         conn,
		id:           newConnID(),
		remote:       remote,
		writeTimeout: writeTimeout,
	}
}

func (c *WSConn) ID() string {
	return c.id
}

func (c *WSConn) RemoteAddr() string {
	return c.remote
}

func (c *WSConn) ReadMessage() (string, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return normalize(payload), nil
}

func (c *WSConn) Send(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		logger.ErrorF("[%s] Fail to send data, details: %v", c.id, err)
		return err
	}
	logger.DebugF("[%s] Send %d bytes to client", c.id, len(message))
	return nil
}

func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}
