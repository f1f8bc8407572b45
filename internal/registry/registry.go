// Package registry tracks which connections are online and under which name.
//
// Registry is not safe for concurrent use. The router serializes every call
// behind its single critical section, so lookups and the sends that follow
// them always observe a consistent view.
package registry

import (
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/samber/lo"
)

type Registry struct {
	conns  []connection.Conn
	byConn map[connection.Conn]string
	byName map[string]connection.Conn
}

func New() *Registry {
	return &Registry{
		byConn: make(map[connection.Conn]string),
		byName: make(map[string]connection.Conn),
	}
}

// Register binds conn to username and returns the connection the name was
// bound to before, or nil. The previous connection stays in the active set;
// deciding what happens to it is up to the caller.
func (r *Registry) Register(conn connection.Conn, username string) connection.Conn {
	if _, exists := r.byConn[conn]; !exists {
		r.conns = append(r.conns, conn)
	}
	r.byConn[conn] = username

	previous, found := r.byName[username]
	r.byName[username] = conn
	if !found || previous == conn {
		return nil
	}
	return previous
}

// Unregister drops conn from the active set. The name mapping is removed
// only while it still points at conn, so tearing down a replaced session
// never evicts the session that replaced it.
func (r *Registry) Unregister(conn connection.Conn) (string, bool) {
	username, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	r.conns = lo.Without(r.conns, conn)
	delete(r.byConn, conn)
	if r.byName[username] == conn {
		delete(r.byName, username)
	}
	return username, true
}

func (r *Registry) Resolve(username string) (connection.Conn, bool) {
	conn, ok := r.byName[username]
	return conn, ok
}

func (r *Registry) Username(conn connection.Conn) (string, bool) {
	username, ok := r.byConn[conn]
	return username, ok
}

// BroadcastTargets lists every active connection except exclude, in
// registration order.
func (r *Registry) BroadcastTargets(exclude connection.Conn) []connection.Conn {
	return lo.Filter(r.conns, func(conn connection.Conn, _ int) bool {
		return conn != exclude
	})
}

// Connections is the number of active connections.
func (r *Registry) Connections() int {
	return len(r.conns)
}

// Online is the number of usernames bound to a connection.
func (r *Registry) Online() int {
	return len(r.byName)
}
