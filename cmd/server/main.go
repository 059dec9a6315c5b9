// Package main runs the add-on server: the installation webhook, the OAuth
// login handshake endpoints, and the admin MCP surface, all over a pluggable
// multi-tenant credential store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/appleboy/graceful"

	"github.com/mermaidchart/confluence-connect/pkg/logger"
	"github.com/mermaidchart/confluence-connect/pkg/store"
)

func main() {
	var addr string
	var mcBaseURL string
	var clientID string
	var localBaseURL string
	var logLevel string
	var storeType string
	var redisAddr string
	var redisPassword string
	var redisDB int
	flag.StringVar(&addr, "addr", ":8080", "address to listen on")
	flag.StringVar(&mcBaseURL, "mc-base-url", "https://test.mermaidchart.com", "base URL of the diagramming service")
	flag.StringVar(&clientID, "client-id", "", "OAuth 2.0 client ID registered with the diagramming service")
	flag.StringVar(&localBaseURL, "local-base-url", "", "externally reachable base URL of this add-on (used for the OAuth redirect)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.StringVar(&storeType, "store", "memory", "Store type: memory or redis")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (only used when store=redis)")
	flag.StringVar(&redisPassword, "redis-password", "", "Redis password (only used when store=redis)")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database (only used when store=redis)")
	flag.Parse()

	// Initialize logger with the specified log level
	logger.NewWithLevel(logLevel)

	// Missing startup settings are fatal: the affected routes must never be
	// reachable half-configured.
	if clientID == "" {
		slog.Error("Client ID must be provided")
		os.Exit(1)
	}
	if localBaseURL == "" {
		slog.Error("Local base URL must be provided")
		os.Exit(1)
	}
	redirectURI := strings.TrimRight(localBaseURL, "/") + "/callback"

	// Initialize store using factory pattern
	storeConfig := store.Config{
		Type: store.ParseStoreType(storeType),
		Redis: store.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	}

	credStore, err := store.NewStore(storeConfig)
	if err != nil {
		slog.Error("Failed to create store", "type", storeType, "error", err)
		os.Exit(1)
	}

	switch storeConfig.Type {
	case store.StoreTypeMemory:
		slog.Info("Using in-memory store")
	case store.StoreTypeRedis:
		slog.Info("Using Redis store", "addr", redisAddr, "db", redisDB)
	}

	app := newAppServer(serverConfig{
		Addr:        addr,
		MCBaseURL:   mcBaseURL,
		ClientID:    clientID,
		RedirectURI: redirectURI,
	}, credStore)

	srv := &http.Server{
		Addr:         addr,
		Handler:      app.setupRouter(),
		ReadTimeout:  10 * time.Second, // 10 seconds
		WriteTimeout: 10 * time.Second, // 10 seconds
		IdleTimeout:  60 * time.Second, // 60 seconds
	}

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		slog.Info("Shutdown signal received, shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		if redisStore, ok := credStore.(*store.RedisStore); ok {
			redisStore.Close()
		}
		slog.Info("Server shutdown gracefully")
		return nil
	})

	<-m.Done()
}
