package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wufengchun/AFFiNE/internal/blob"
	"github.com/wufengchun/AFFiNE/internal/config"
	"github.com/wufengchun/AFFiNE/internal/docmerge"
	"github.com/wufengchun/AFFiNE/internal/flags"
	"github.com/wufengchun/AFFiNE/internal/metrics"
	"github.com/wufengchun/AFFiNE/internal/space"
	"github.com/wufengchun/AFFiNE/internal/store"
	"github.com/wufengchun/AFFiNE/internal/sync"
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

	merger := docmerge.NewLogMerger()
	workspaceDocs := store.NewDocStore(db, merger, string(space.TypeWorkspace))
	userspaceDocs := store.NewDocStore(db, merger, string(space.TypeUserspace))
	workspaceReader := store.NewSnapshotReader(db, merger, string(space.TypeWorkspace))
	permissions := store.NewPermissionStore(db)

	var flagSource flags.Source
	var redisFlags *flags.RedisSource
	if cfg.RedisURL != "" {
		redisFlags, err = flags.NewRedisSource(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisFlags.Close()
		flagSource = redisFlags
		log.Printf("Using Redis for runtime flags")
	} else {
		flagSource = flags.NewStatic(nil)
		log.Printf("No Redis configured, runtime flags are all off")
	}

	var archiver sync.SnapshotArchiver
	if cfg.BlobEndpoint != "" {
		blobArchiver, err := blob.NewArchiver(cfg.BlobEndpoint, cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobBucket, cfg.BlobUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		if err := blobArchiver.EnsureBucket(ctx); err != nil {
			log.Fatalf("object storage bucket check failed: %v", err)
		}
		archiver = blobArchiver
		log.Printf("Snapshot archival enabled, bucket %s", cfg.BlobBucket)
	}

	registry := metrics.NewRegistry()
	gateway := sync.New(sync.Options{
		Version:         cfg.ServerVersion,
		WorkspaceDocs:   workspaceDocs,
		UserspaceDocs:   userspaceDocs,
		WorkspaceReader: workspaceReader,
		Permissions:     permissions,
		Flags:           flagSource,
		Metrics:         registry,
		Archiver:        archiver,
		TokenSecret:     []byte(cfg.JWTSecret),
		SendBuffer:      cfg.SendBuffer,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ok := true
		checks := map[string]string{"database": "ok"}
		if err := db.PingContext(checkCtx); err != nil {
			ok = false
			checks["database"] = err.Error()
		}
		if redisFlags != nil {
			checks["redis"] = "ok"
			if err := redisFlags.Ping(checkCtx); err != nil {
				ok = false
				checks["redis"] = err.Error()
			}
		}

		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     ok,
			"checks": checks,
			"gauges": registry.Snapshot(),
		})
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Sync gateway listening on %s (version %s)", cfg.Addr, cfg.ServerVersion)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
