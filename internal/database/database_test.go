package database

import (
	"context"
	"testing"

	c "github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURI(t *testing.T) {
	tests := []struct {
		name   string
		config c.DatabaseConfig
		want   string
	}{
		{
			name:   "without auth",
			config: c.DatabaseConfig{Host: "localhost", Port: 27017},
			want:   "mongodb://localhost:27017/",
		},
		{
			name:   "with auth",
			config: c.DatabaseConfig{Host: "db", Port: 27018, Username: "chat", Password: "secret"},
			want:   "mongodb://chat:secret@db:27018/?authSource=admin",
		},
		{
			name:   "escapes special characters",
			config: c.DatabaseConfig{Host: "db", Port: 27017, Username: "a@b", Password: "p:w/d"},
			want:   "mongodb://a%40b:p%3Aw%2Fd@db:27017/?authSource=admin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildURI(tt.config))
		})
	}
}

func TestClientOptions(t *testing.T) {
	config := c.DefaultConfig()
	opts := clientOptions(config)

	require.NotNil(t, opts.MaxPoolSize)
	assert.Equal(t, config.Database.MaxPoolSize, *opts.MaxPoolSize)
	require.NotNil(t, opts.AppName)
	assert.Equal(t, config.AppName, *opts.AppName)
	assert.Nil(t, opts.TLSConfig)
}

func TestCredentialsFromDocuments(t *testing.T) {
	users := credentialsFromDocuments([]CredentialDocument{
		{Username: "alice", Password: "pw1"},
		{Username: "", Password: "orphan"},
		{Username: "bob", Password: "old"},
		{Username: "bob", Password: "new"},
	})

	assert.Equal(t, map[string]string{"alice": "pw1", "bob": "new"}, users)
}

func TestLoadCredentialsWithoutConnection(t *testing.T) {
	store := &DBStore{}
	_, err := store.LoadCredentials(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseCallbackWithoutClient(t *testing.T) {
	require.Nil(t, Client)
	callback := NewDBCloseCallback()
	assert.NoError(t, callback.Invoke(context.Background()))
	assert.NoError(t, callback.Invoke(context.Background()))
}
