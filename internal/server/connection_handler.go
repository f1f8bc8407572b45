package server

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/command"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/router"
)

// ConnectionHandler runs the session loop of one client: a single
// authentication exchange followed by one command per read.
type ConnectionHandler struct {
	conn          connection.Conn
	connId        string
	username      string
	router        *router.Router
	authenticator *auth.Authenticator
	metrics       *metrics.Metrics
}

func (c *ConnectionHandler) handleAuthentication() error {
	username, err := c.authenticator.Authenticate(c.conn)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			logger.InfoF("[%s] Closing unauthenticated connection from %s", c.connId, c.conn.RemoteAddr())
		} else {
			connection.HandleReadError(c.connId, err)
		}
		return err
	}

	if err := c.router.Register(c.conn, username); err != nil {
		return err
	}
	c.username = username
	return nil
}

func (c *ConnectionHandler) handleMessages() {
	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			connection.HandleReadError(c.connId, err)
			return
		}

		logger.DebugF("[%s] Receive message from %s, data %q", c.connId, c.username, message)

		if !c.dispatch(command.Parse(message)) {
			logger.InfoF("[%s] %s quit", c.connId, c.username)
			return
		}
	}
}

// dispatch executes one command and reports whether the session continues.
// Protocol errors are answered by the router and never end the session.
func (c *ConnectionHandler) dispatch(cmd command.Command) bool {
	c.metrics.Command(cmd.Kind.String())

	var err error
	switch cmd.Kind {
	case command.Broadcast:
		c.router.Broadcast(router.BroadcastContent(c.username, cmd.Text), c.conn)
	case command.DirectMessage:
		err = c.router.DirectMessage(cmd.Target, cmd.Text, c.conn)
	case command.GroupCreate:
		err = c.router.CreateGroup(cmd.Target, c.conn)
	case command.GroupJoin:
		err = c.router.JoinGroup(cmd.Target, c.conn)
	case command.GroupLeave:
		err = c.router.LeaveGroup(cmd.Target, c.conn)
	case command.GroupMessage:
		err = c.router.GroupMessage(cmd.Target, cmd.Text, c.conn)
	case command.GroupMembers:
		err = c.router.ListMembers(cmd.Target, c.conn)
	case command.Quit:
		return false
	case command.InvalidGroup:
		c.metrics.ProtocolError("invalid_group_command")
		c.router.Reply(c.conn, router.ReplyInvalidGroupCommand)
	default:
		c.metrics.ProtocolError("invalid_command")
		c.router.Reply(c.conn, router.ReplyInvalidCommand)
	}

	if err != nil {
		logger.DebugF("[%s] %s command from %s answered with error: %v", c.connId, cmd.Kind, c.username, err)
	}
	return true
}

func (c *ConnectionHandler) handleConnection() {
	c.metrics.ConnectionOpened()
	defer func() {
		c.router.Unregister(c.conn)
		logger.DebugF("[%s] Connection closed", c.connId)
		if err := c.conn.Close(); err != nil && !connection.IsNetClosedError(err) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.connId, err)
		}
		c.metrics.ConnectionClosed()
	}()

	if err := c.handleAuthentication(); err != nil {
		return
	}

	c.handleMessages()
}
