/*
Package main is the entry point for the RelayChat application.

It is responsible for loading configuration, initializing the global logging
system, connecting to Postgres, Redis, and blob storage, wiring the realtime
broker components, setting up the HTTP server, and gracefully handling
operating system interrupt signals (SIGINT, SIGTERM) to ensure a smooth server
shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/files"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/logx"
)

// storeSink adapts the persistence layer to the broker's message sink.
type storeSink struct {
	store store.Store
}

func (s *storeSink) CreateMessage(ctx context.Context, roomKey, senderID, content, attachmentKey string) (chat.StoredMessage, error) {
	created, err := s.store.CreateMessage(ctx, roomKey, senderID, content, attachmentKey)
	if err != nil {
		return chat.StoredMessage{}, err
	}

	return chat.StoredMessage{
		ID:         created.ID,
		SequenceNo: created.SequenceNo,
		CreatedAt:  created.CreatedAt,
	}, nil
}

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("send_queue_size", cfg.SendQueueSize).
		Bool("allow_multi_conn", cfg.AllowMultiConn).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Postgres and run pending migrations.
	pg, err := store.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to connect to Postgres")
	}
	defer pg.Close()

	// Connect to Redis for cross-process membership invalidation.
	bus, err := store.NewEventBus(ctx, cfg.RedisURL)
	if err != nil {
		logx.Fatal(err, "Failed to connect to Redis")
	}
	defer bus.Close()

	// Connect to blob storage for attachment and avatar presigning.
	fileService, err := files.NewService(files.ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		logx.Fatal(err, "Failed to initialize blob storage")
	}

	// Wire the realtime broker components.
	registry := chat.NewRegistry(cfg.AllowMultiConn)
	guard := chat.NewGuard(pg, cfg.MembershipCacheTTL)
	directory := chat.NewDirectory(registry, guard)
	broker := chat.NewBroker(guard, directory, registry, &storeSink{store: pg})

	deps := &handler.AppDeps{
		Config:    cfg,
		Store:     pg,
		Files:     fileService,
		Bus:       bus,
		Broker:    broker,
		Registry:  registry,
		Directory: directory,
		Guard:     guard,
	}

	// Membership changes made by other processes propagate here the same way
	// local mutations do: cache invalidation plus subscription revocation.
	bus.SubscribeMembershipChanges(ctx, handler.HandleMembershipEvent(deps))

	// Setup HTTP server and routes
	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("RelayChat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	logx.Info("Server gracefully stopped.")
}
