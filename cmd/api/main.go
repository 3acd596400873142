package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codepad/api/internal/accounts"
	"codepad/api/internal/app"
	"codepad/api/internal/archive"
	"codepad/api/internal/collab"
	"codepad/api/internal/config"
	"codepad/api/internal/email"
	"codepad/api/internal/history"
	"codepad/api/internal/presence"
	"codepad/api/internal/search"
	"codepad/api/internal/store"
	"codepad/api/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var presenceStore *presence.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		presenceStore, err = presence.NewRedisStore(cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer presenceStore.Close()
	}

	var objectStore *archive.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objectStore, err = archive.NewObjectStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store setup failed: %v", err)
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: archive bucket unavailable: %v", err)
			objectStore = nil
		}
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	deps := app.Deps{
		Store:    dataStore,
		Accounts: accounts.NewService(dataStore),
		History:  historyService,
		Search:   searchService,
		Archive:  archive.NewService(objectStore),
		Email:    emailService,
	}
	if presenceStore != nil {
		deps.Presence = presenceStore
	}
	service := app.New(cfg, deps)

	hub := ws.NewHub()
	engine := collab.NewEngine(collab.Config{
		GracePeriod: cfg.CollabGracePeriod,
		FlushQuiet:  cfg.CollabFlushQuiet,
		FlushMaxAge: cfg.CollabFlushMaxAge,
		EchoOrigin:  cfg.CollabEchoOrigin,
		OnFlush: func(docID string, snap collab.Snapshot) {
			service.RecordFlushedSnapshot(docID, snap.Content, snap.Version)
		},
	}, store.NewContentGateway(dataStore), hub)

	wsOpts := ws.Options{
		SendBuffer:    cfg.CollabSendBuffer,
		AckOrigin:     !cfg.CollabEchoOrigin,
		AllowedOrigin: cfg.CORSOrigin,
	}
	if presenceStore != nil {
		wsOpts.Presence = presenceStore
	}
	wsHandler := ws.NewHandler(engine, hub, []byte(cfg.JWTSecret), wsOpts)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Codepad API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	// Flush dirty collaboration sessions before exit.
	engine.Shutdown(shutdownCtx)
}
