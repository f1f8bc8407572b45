package connection

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
)

// ErrMessageTooLong is returned by line framing when a line exceeds the buffer.
var ErrMessageTooLong = errors.New("message exceeds buffer size")

type Options struct {
	Framing      string
	BufferSize   int
	WriteTimeout time.Duration
}

// TCPConn frames messages on a net.Conn. With raw framing every Read is one
// message and replies carry no terminator; with line framing messages and
// replies are newline delimited.
type TCPConn struct {
	conn    net.Conn
	id      string
	opts    Options
	buf     []byte
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

func NewTCPConn(conn net.Conn, opts Options) *TCPConn {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	c := &TCPConn{
		conn: conn,
		id:   newConnID(),
		opts: opts,
	}
	if opts.Framing == config.FramingLine {
		c.scanner = bufio.NewScanner(conn)
		c.scanner.Buffer(make([]byte, 0, opts.BufferSize), opts.BufferSize)
	} else {
		c.buf = make([]byte, opts.BufferSize)
	}
	return c
}

func (c *TCPConn) ID() string {
	return c.id
}

func (c *TCPConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *TCPConn) ReadMessage() (string, error) {
	if c.scanner != nil {
		if !c.scanner.Scan() {
			err := c.scanner.Err()
			switch {
			case err == nil:
				return "", io.EOF
			case errors.Is(err, bufio.ErrTooLong):
				return "", fmt.Errorf("%w (%d bytes)", ErrMessageTooLong, c.opts.BufferSize)
			default:
				return "", err
			}
		}
		return normalize(c.scanner.Bytes()), nil
	}

	n, err := c.conn.Read(c.buf)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", io.EOF
	}
	return normalize(c.buf[:n]), nil
}

func (c *TCPConn) Send(message string) error {
	if c.opts.Framing == config.FramingLine {
		message += "\n"
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return Send(c.conn, []byte(message), c.id)
}

func (c *TCPConn) Close() error {
	return c.conn.Close()
}
