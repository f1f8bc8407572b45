package auth

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/metrics"
)

const (
	PromptUsername = "Enter username: "
	PromptPassword = "Enter password: "
	ReplyWelcome   = "Welcome to the server!"
	ReplyFailed    = "Authentication failed"
)

var ErrAuthenticationFailed = errors.New("authentication failed")

type Verifier interface {
	Verify(username, password string) bool
}

// Authenticator runs the single username/password exchange a connection gets.
type Authenticator struct {
	verifier Verifier
	metrics  *metrics.Metrics
}

func NewAuthenticator(verifier Verifier, m *metrics.Metrics) *Authenticator {
	return &Authenticator{verifier: verifier, metrics: m}
}

// Authenticate prompts for a username and a password, one read each, and
// returns the username on an exact match. There is no retry: on failure the
// caller must close the connection without registering it.
func (a *Authenticator) Authenticate(conn connection.Conn) (string, error) {
	username, err := a.ask(conn, PromptUsername)
	if err != nil {
		return "", err
	}
	password, err := a.ask(conn, PromptPassword)
	if err != nil {
		return "", err
	}

	if !a.verifier.Verify(username, password) {
		a.metrics.AuthAttempt(false)
		logger.WarnF("[%s] Authentication failed for user %q", conn.ID(), username)
		if err := conn.Send(ReplyFailed); err != nil {
			return "", fmt.Errorf("send authentication result: %w", err)
		}
		return "", ErrAuthenticationFailed
	}

	a.metrics.AuthAttempt(true)
	if err := conn.Send(ReplyWelcome); err != nil {
		return "", fmt.Errorf("send authentication result: %w", err)
	}
	logger.InfoF("[%s] User %s authenticated", conn.ID(), username)
	return username, nil
}

func (a *Authenticator) ask(conn connection.Conn, prompt string) (string, error) {
	if err := conn.Send(prompt); err != nil {
		return "", fmt.Errorf("send prompt: %w", err)
	}
	answer, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read answer to %q: %w", prompt, err)
	}
	return answer, nil
}
