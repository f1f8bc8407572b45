// Package group keeps named groups and their members. Groups live for the
// life of the process: they are never deleted, not even once empty, and a
// member stays a member after disconnecting.
//
// Manager is not safe for concurrent use; the router serializes access.
package group

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

var (
	ErrUnknownGroup       = errors.New("unknown group")
	ErrGroupAlreadyExists = errors.New("group already exists")
	ErrAlreadyMember      = errors.New("already a member")
	ErrNotAMember         = errors.New("not a member")
)

type Group struct {
	Name    string
	Members []string
}

type Manager struct {
	groups map[string]*Group
}

func NewManager() *Manager {
	return &Manager{groups: make(map[string]*Group)}
}

// Create adds a group whose first member is its creator.
func (m *Manager) Create(name, creator string) error {
	if _, exists := m.groups[name]; exists {
		return fmt.Errorf("create %s: %w", name, ErrGroupAlreadyExists)
	}
	m.groups[name] = &Group{Name: name, Members: []string{creator}}
	return nil
}

func (m *Manager) Join(name, username string) error {
	g, ok := m.groups[name]
	if !ok {
		return fmt.Errorf("join %s: %w", name, ErrUnknownGroup)
	}
	if lo.Contains(g.Members, username) {
		return fmt.Errorf("join %s: %w", name, ErrAlreadyMember)
	}
	g.Members = append(g.Members, username)
	return nil
}

func (m *Manager) Leave(name, username string) error {
	g, ok := m.groups[name]
	if !ok {
		return fmt.Errorf("leave %s: %w", name, ErrUnknownGroup)
	}
	if !lo.Contains(g.Members, username) {
		return fmt.Errorf("leave %s: %w", name, ErrNotAMember)
	}
	g.Members = lo.Without(g.Members, username)
	return nil
}

// Members returns a copy of the member list in join order.
func (m *Manager) Members(name string) ([]string, error) {
	g, ok := m.groups[name]
	if !ok {
		return nil, fmt.Errorf("members %s: %w", name, ErrUnknownGroup)
	}
	members := make([]string, len(g.Members))
	copy(members, g.Members)
	return members, nil
}

func (m *Manager) Len() int {
	return len(m.groups)
}
