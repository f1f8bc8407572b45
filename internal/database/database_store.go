package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type DBStore struct {
	client      *mongo.Client
	credentials *mongo.Collection
}

var (
	DbStore             *DBStore
	ErrNotConnected     = errors.New("database is not connected")
	ErrEmptyCredentials = errors.New("credentials collection is empty")
)

func NewDatabaseStore() *DBStore {
	if DbStore == nil {
		DbStore = &DBStore{client: Client, credentials: Credentials}
	}
	return DbStore
}

// LoadCredentials reads the whole credentials collection into a
// username to password map. It is called once at startup.
func (ds *DBStore) LoadCredentials(ctx context.Context) (map[string]string, error) {
	if ds.credentials == nil {
		return nil, ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	startTime := time.Now()
	cursor, err := ds.credentials.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}

	var documents []CredentialDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	logger.DebugF("credentials query cost: %v", time.Since(startTime))

	users := credentialsFromDocuments(documents)
	if len(users) == 0 {
		return nil, ErrEmptyCredentials
	}
	logger.InfoF("Loaded %d credentials from collection %s", len(users), CredentialCollectionName)
	return users, nil
}

func credentialsFromDocuments(documents []CredentialDocument) map[string]string {
	users := make(map[string]string, len(documents))
	for _, document := range documents {
		if document.Username == "" {
			logger.WarnF("Skipping credential document without username")
			continue
		}
		users[document.Username] = document.Password
	}
	return users
}
