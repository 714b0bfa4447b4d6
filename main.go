package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/db"
	"github.com/nijaru/tubeprompt/dispatcher"
	"github.com/nijaru/tubeprompt/events"
	"github.com/nijaru/tubeprompt/extractor"
	"github.com/nijaru/tubeprompt/handlers/api"
	"github.com/nijaru/tubeprompt/logger"
	"github.com/nijaru/tubeprompt/session"
	"github.com/nijaru/tubeprompt/storage"
	"github.com/nijaru/tubeprompt/transcription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logs, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	store, err := db.Open(cfg.Database, logs)
	if err != nil {
		logs.WithError(err).Fatal("Failed to open database")
	}
	defer store.Close()

	host, err := browser.Connect(cfg.Browser, logs)
	if err != nil {
		logs.WithError(err).Fatal("Failed to connect to browser")
	}
	defer host.Close()

	hub := events.NewHub(logs)
	sessions := session.NewStore()
	transcriber := transcription.NewClient(cfg.Transcription, logs)

	// The extractor reports usage through the dispatcher, which is built after it.
	var d *dispatcher.Dispatcher
	ext := extractor.New(cfg.Acquisition, sessions, transcriber, logs,
		extractor.WithTokenSource(func(ctx context.Context) (string, error) {
			return store.Preference(ctx, db.PrefToken)
		}),
		extractor.WithUsage(func(ctx context.Context, requestID string, tokens int) {
			d.RelayUsageSignal(ctx, requestID, tokens)
		}),
	)

	var opts []dispatcher.Option
	if cfg.Archive.Enabled() {
		archive, err := storage.NewArchive(cfg.Archive)
		if err != nil {
			logs.WithError(err).Fatal("Failed to initialize transcript archive")
		}
		opts = append(opts, dispatcher.WithArchive(archive))
		logs.WithField("bucket", cfg.Archive.Bucket).Info("Transcript archive enabled")
	}

	d = dispatcher.New(cfg, host, sessions, ext, store, hub, logs, opts...)
	if err := d.Recover(context.Background()); err != nil {
		logs.WithError(err).Warn("Failed to expire stale acquisitions")
	}

	server := api.NewServer(cfg, d, store, hub,
		api.WithLogger(logs),
		api.WithHealthCheck(store),
	)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logs.WithError(err).Fatal("Server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logs.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logs.WithError(err).Error("Server shutdown failed")
	}
	hub.Close()
	if err := d.Shutdown(ctx); err != nil {
		logs.WithError(err).Warn("In-flight acquisitions did not finish")
	}
	logs.WithFields(logrus.Fields{"version": cfg.Version}).Info("Stopped")
}
