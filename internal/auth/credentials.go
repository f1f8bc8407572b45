package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
)

// CredentialStore is the username to password table loaded at startup. It is
// never modified afterwards, so concurrent reads need no locking.
type CredentialStore struct {
	users map[string]string
}

func NewCredentialStore(users map[string]string) *CredentialStore {
	copied := make(map[string]string, len(users))
	for username, password := range users {
		copied[username] = password
	}
	return &CredentialStore{users: copied}
}

// LoadFile reads a username:password file. A missing file is an error.
func LoadFile(path string) (*CredentialStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credential file: %w", err)
	}
	defer func() { _ = f.Close() }()

	users, err := ParseCredentials(f)
	if err != nil {
		return nil, fmt.Errorf("read credential file %s: %w", path, err)
	}
	logger.InfoF("Loaded %d credentials from %s", len(users), path)
	return &CredentialStore{users: users}, nil
}

// ParseCredentials splits each line on its first colon; the password may
// contain further colons. Lines without a colon are logged and skipped and
// a repeated username keeps the last password.
func ParseCredentials(r io.Reader) (map[string]string, error) {
	users := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		username, password, found := strings.Cut(line, ":")
		if !found {
			logger.WarnF("Invalid line %d in credential file (missing colon): %s", lineNo, line)
			continue
		}
		users[username] = password
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Verify reports whether username exists and password matches it exactly.
func (s *CredentialStore) Verify(username, password string) bool {
	expected, ok := s.users[username]
	return ok && expected == password
}

func (s *CredentialStore) Len() int {
	return len(s.users)
}
