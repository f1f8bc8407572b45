package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/event"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/router"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/server"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	store, err := loadCredentials(cfg)
	if err != nil {
		fatal(cleaner, "Error occured while loading credentials, details: %v", err)
	}
	logger.InfoF("Loaded %d user credentials from %s source", store.Len(), cfg.Credentials.Source)

	m := metrics.NewMetrics()
	r := router.New(cfg.Server.DuplicateLogin, m)
	srv := server.New(cfg.Server, r, auth.NewAuthenticator(store, m), m)

	ln, err := net.Listen("tcp", srv.Address())
	if err != nil {
		fatal(cleaner, "Chat Server Start error: %v", err)
	}
	cleaner.Add(srv)

	if cfg.Server.WebSocketAddr != "" {
		startHTTP(cleaner, "WebSocket", srv.NewWebSocketServer(cfg.Server.WebSocketAddr))
	}
	if cfg.Server.MetricsAddr != "" {
		startHTTP(cleaner, "Metrics", metrics.NewHTTPServer(cfg.Server.MetricsAddr, m))
	}

	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.ErrorF("Chat server stopped unexpectedly: %v", err)
			cleaner.Shutdown()
		}
	}()

	<-cleaner.Done()
}

func loadCredentials(cfg config.Config) (*auth.CredentialStore, error) {
	switch cfg.Credentials.Source {
	case config.SourceMongo:
		users, err := database.LoadCredentials(context.Background())
		if err != nil {
			return nil, err
		}
		return auth.NewCredentialStore(users), nil
	default:
		return auth.LoadFile(cfg.Credentials.File)
	}
}

func startHTTP(cleaner *event.Cleaner, name string, httpServer *http.Server) {
	go func() {
		logger.InfoF("%s endpoint listen on %s", name, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF("%s endpoint error: %v", name, err)
		}
	}()
	cleaner.Add(event.CallableFunc(func(ctx context.Context) error {
		logger.InfoF("Stopping %s endpoint", name)
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown %s endpoint: %w", name, err)
		}
		return nil
	}))
}

func fatal(cleaner *event.Cleaner, format string, v ...interface{}) {
	logger.FatalF(format, v...)
	cleaner.Shutdown()
	os.Exit(1)
}
