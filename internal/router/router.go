// Package router delivers messages and applies group changes.
//
// Every operation runs inside one process-wide critical section: registry
// and group mutations, lookups, and the synchronous sends that follow them.
// Nothing can observe a half-registered or half-removed connection, at the
// price of serializing all delivery. A recipient that stops reading stalls
// every other sender until its write fails or times out.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/group"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/registry"
)

var (
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrAlreadyLoggedIn  = errors.New("user already logged in")
	ErrNotRegistered    = errors.New("connection is not registered")
)

type Router struct {
	mu       sync.Mutex
	registry *registry.Registry
	groups   *group.Manager
	policy   string
	metrics  *metrics.Metrics
}

// New creates a router applying the given duplicate login policy
// (config.LoginReplace, config.LoginReject or config.LoginKick).
func New(policy string, m *metrics.Metrics) *Router {
	if policy == "" {
		policy = config.LoginReplace
	}
	return &Router{
		registry: registry.New(),
		groups:   group.NewManager(),
		policy:   policy,
		metrics:  m,
	}
}

func (r *Router) deliver(conn connection.Conn, message string, kind string) {
	err := conn.Send(message)
	r.metrics.Delivered(kind, err)
	if err != nil {
		logger.WarnF("[%s] Fail to deliver %s message, details: %v", conn.ID(), kind, err)
	}
}

// Register makes conn reachable under username. Under the reject policy a
// name that is already online is refused with ErrAlreadyLoggedIn and the
// refusal is sent to conn; the caller must then close it.
func (r *Router) Register(conn connection.Conn, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, online := r.registry.Resolve(username); online && current != conn {
		switch r.policy {
		case config.LoginReject:
			r.deliver(conn, AlreadyLoggedIn(username), metrics.KindReply)
			logger.WarnF("[%s] Rejected second login of %s", conn.ID(), username)
			return fmt.Errorf("register %s: %w", username, ErrAlreadyLoggedIn)
		case config.LoginKick:
			r.registry.Unregister(current)
			if err := current.Close(); err != nil && !connection.IsNetClosedError(err) {
				logger.WarnF("[%s] Error occured while closing replaced connection, details: %v", current.ID(), err)
			}
			logger.InfoF("[%s] Disconnected previous session of %s", current.ID(), username)
		default:
			logger.WarnF("[%s] %s logged in again, connection %s no longer receives direct messages", conn.ID(), username, current.ID())
		}
	}

	r.registry.Register(conn, username)
	r.metrics.SetUsersOnline(r.registry.Online())
	logger.InfoF("[%s] %s is online, %d connections active", conn.ID(), username, r.registry.Connections())
	return nil
}

// Unregister removes conn. Safe to call for a connection that was never
// registered or has already been removed.
func (r *Router) Unregister(conn connection.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.registry.Unregister(conn)
	if !ok {
		return
	}
	r.metrics.SetUsersOnline(r.registry.Online())
	logger.InfoF("[%s] %s is offline, %d connections active", conn.ID(), username, r.registry.Connections())
}

// Broadcast sends text to every registered connection except sender.
func (r *Router) Broadcast(text string, sender connection.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := r.registry.BroadcastTargets(sender)
	for _, conn := range targets {
		r.deliver(conn, text, metrics.KindBroadcast)
	}
	logger.DebugF("[%s] Broadcast delivered to %d connections", sender.ID(), len(targets))
}

// DirectMessage sends "[sender] text" to recipient. An offline or unknown
// recipient produces one error reply to the sender and nothing else.
func (r *Router) DirectMessage(recipient, text string, sender connection.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, ok := r.registry.Username(sender)
	if !ok {
		return ErrNotRegistered
	}

	target, ok := r.registry.Resolve(recipient)
	if !ok {
		r.metrics.ProtocolError("unknown_recipient")
		r.deliver(sender, UserNotFound(recipient), metrics.KindReply)
		return fmt.Errorf("message to %s: %w", recipient, ErrUnknownRecipient)
	}

	r.deliver(target, DirectContent(from, text), metrics.KindDirect)
	return nil
}

// GroupMessage sends to every member of the group that is online, other
// than the sender. Offline members are skipped silently.
func (r *Router) GroupMessage(name, text string, sender connection.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, ok := r.registry.Username(sender)
	if !ok {
		return ErrNotRegistered
	}

	members, err := r.groups.Members(name)
	if err != nil {
		r.replyGroupError(sender, name, err)
		return err
	}

	content := GroupContent(name, from, text)
	delivered := 0
	for _, member := range members {
		conn, online := r.registry.Resolve(member)
		if !online || conn == sender {
			continue
		}
		r.deliver(conn, content, metrics.KindGroup)
		delivered++
	}
	logger.DebugF("[%s] Group %s message delivered to %d of %d members", sender.ID(), name, delivered, len(members))
	return nil
}

func (r *Router) CreateGroup(name string, sender connection.Conn) error {
	return r.changeGroup(name, sender, r.groups.Create, GroupCreated)
}

func (r *Router) JoinGroup(name string, sender connection.Conn) error {
	return r.changeGroup(name, sender, r.groups.Join, GroupJoined)
}

func (r *Router) LeaveGroup(name string, sender connection.Conn) error {
	return r.changeGroup(name, sender, r.groups.Leave, GroupLeft)
}

// changeGroup applies a membership change for the sender's username and
// reports the outcome to the sender only.
func (r *Router) changeGroup(name string, sender connection.Conn, apply func(name, username string) error, success func(string) string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.registry.Username(sender)
	if !ok {
		return ErrNotRegistered
	}

	if err := apply(name, username); err != nil {
		r.replyGroupError(sender, name, err)
		return err
	}

	r.metrics.SetGroups(r.groups.Len())
	r.deliver(sender, success(name), metrics.KindReply)
	return nil
}

func (r *Router) replyGroupError(conn connection.Conn, name string, err error) {
	var reply, reason string
	switch {
	case errors.Is(err, group.ErrUnknownGroup):
		reply, reason = GroupNotFound(name), "unknown_group"
	case errors.Is(err, group.ErrGroupAlreadyExists):
		reply, reason = GroupAlreadyExists(name), "group_exists"
	case errors.Is(err, group.ErrAlreadyMember):
		reply, reason = AlreadyMember(name), "already_member"
	case errors.Is(err, group.ErrNotAMember):
		reply, reason = NotAMember(name), "not_a_member"
	default:
		logger.ErrorF("[%s] Unexpected group error: %v", conn.ID(), err)
		return
	}
	r.metrics.ProtocolError(reason)
	r.deliver(conn, reply, metrics.KindReply)
}

// Members returns the member list of a group.
func (r *Router) Members(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups.Members(name)
}

// ListMembers replies to sender with the member list of a group.
func (r *Router) ListMembers(name string, sender connection.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, err := r.groups.Members(name)
	if err != nil {
		r.replyGroupError(sender, name, err)
		return err
	}
	r.deliver(sender, GroupMembers(name, members), metrics.KindReply)
	return nil
}

// Reply sends text to conn inside the critical section so it cannot
// interleave with a delivery to the same connection.
func (r *Router) Reply(conn connection.Conn, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliver(conn, text, metrics.KindReply)
}

func (r *Router) IsOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.registry.Resolve(username)
	return ok
}
