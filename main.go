package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdfmark/config"
	"pdfmark/config/database"
	"pdfmark/internal/archive"
	"pdfmark/pkg/logger"
	"pdfmark/router"
	"pdfmark/socket"
	"pdfmark/store"
)

func main() {
	logger.Init(config.GetEnv("LOG_LEVEL", "info"))
	defer logger.Sync()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The export ledger is optional.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
	} else {
		logger.Sugar.Info("DATABASE_URL not set, export ledger disabled")
	}

	var arch archive.Archiver
	if cfg.ExportBucket != "" {
		gcs, err := archive.NewGCS(ctx, cfg.ExportBucket)
		if err != nil {
			logger.Sugar.Fatalf("Failed to open export bucket: %v", err)
		}
		defer gcs.Close()
		arch = gcs
	}

	st := store.New()
	hub := socket.NewHub(st)
	go hub.Run()
	go hub.SessionReaper(ctx, cfg.SessionTTL)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Setup(cfg, st, hub, db, arch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("pdfmark listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
}
