package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	c "github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
	event2 "github.com/life-stream-dev/life-stream-go-chat-server/internal/event"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Client *mongo.Client
var Database *mongo.Database
var Credentials *mongo.Collection
var OperationTimeout time.Duration

type DBCloseCallback struct {
}

func NewDBCloseCallback() *DBCloseCallback {
	return &DBCloseCallback{}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	if Client == nil {
		return nil
	}
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	err := Client.Disconnect(ctx)
	Client, Database, Credentials, DbStore = nil, nil, nil, nil
	return err
}

// buildURI escapes the credentials; an empty username means no auth section.
func buildURI(config c.DatabaseConfig) string {
	if config.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", config.Host, config.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(config.Username), url.QueryEscape(config.Password),
		config.Host,
		config.Port,
	)
}

func clientOptions(config c.Config) *options.ClientOptions {
	clientOptions := options.Client().ApplyURI(buildURI(config.Database)).SetAppName(config.AppName)
	// pool
	clientOptions.SetMinPoolSize(config.Database.MinPoolSize)
	clientOptions.SetMaxPoolSize(config.Database.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTime(config.Database.ConnectIdleTimeout))
	// timeouts
	clientOptions.SetConnectTimeout(utils.ParseStringTime(config.Database.ConnectTimeout))
	clientOptions.SetSocketTimeout(utils.ParseStringTime(config.Database.SocketTimeout))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTime(config.Database.Heartbeat))
	if config.Database.UseTLS {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: false,
		}
		clientOptions.SetTLSConfig(tlsConfig)
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %+v", evt)
			}
		},
	})
	return clientOptions
}

// ConnectDatabase opens the client used as the credential source.
func ConnectDatabase() error {
	logger.DebugF("Connecting to database...")
	config, err := c.GetConfig()
	if err != nil {
		return fmt.Errorf("error occured while connecting to database: %w", err)
	}

	OperationTimeout = utils.ParseStringTime(config.Database.OperationTimeout)
	if OperationTimeout <= 0 {
		OperationTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	Client, err = mongo.Connect(ctx, clientOptions(config))
	if err != nil {
		return fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = Client.Ping(ctx, nil); err != nil {
		_ = Client.Disconnect(ctx)
		return fmt.Errorf("error occured while pinging database: %w", err)
	}

	Database = Client.Database(config.Database.Database)
	Credentials = Database.Collection(CredentialCollectionName)

	_, err = Credentials.Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("credentials_username_unique"),
		},
	)
	if err != nil {
		_ = Client.Disconnect(ctx)
		return fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	return nil
}

// LoadCredentials connects, reads the credentials collection once and
// disconnects again. The server never goes back to the database after
// startup, so no client is kept open while sessions run.
func LoadCredentials(ctx context.Context) (map[string]string, error) {
	if err := ConnectDatabase(); err != nil {
		return nil, err
	}
	closer := NewDBCloseCallback()
	// covers a signal arriving while the query runs
	event2.NewCleaner().Add(closer)
	defer func() {
		if err := closer.Invoke(ctx); err != nil {
			logger.WarnF("Error occured while closing database connection, details: %v", err)
		}
	}()

	return NewDatabaseStore().LoadCredentials(ctx)
}
