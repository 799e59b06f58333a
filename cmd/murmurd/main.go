// Command murmurd is the meeting pipeline daemon: it drives bots, ingests
// recordings into the encrypted vault, and serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"murmur/internal/api"
	"murmur/internal/config"
	"murmur/internal/crypto"
	"murmur/internal/logging"
	"murmur/internal/meetings"
	"murmur/internal/notifications"
	"murmur/internal/pipeline"
	"murmur/internal/services/recallbot"
	"murmur/internal/services/summarizer"
	"murmur/internal/services/transcriber"
	"murmur/internal/vault"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatalf("murmurd: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, _, _, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: "*.log",
	})

	// One daemon per vault. A second instance would race head writes and the
	// metadata store.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "murmurd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another murmurd instance holds %s", lock.Path())
	}
	defer lock.Unlock() //nolint:errcheck

	masterKey, err := cfg.MasterKey()
	if err != nil {
		return err
	}
	wrapper, err := crypto.NewKeyWrapper(masterKey)
	if err != nil {
		return err
	}

	store, err := meetings.Open(cfg)
	if err != nil {
		return fmt.Errorf("open meeting store: %w", err)
	}
	defer store.Close()

	v, err := vault.New(cfg.Paths.VaultDir)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	orch := pipeline.New(pipeline.Deps{
		Config:      cfg,
		Store:       store,
		Vault:       v,
		Wrapper:     wrapper,
		Provider:    recallbot.NewClient(cfg.Recall),
		Transcriber: transcriber.NewService(cfg.Transcriber, cfg.Processors, logger),
		Summarizer:  summarizer.NewService(cfg.Summarizer, cfg.Processors, logger),
		Notifier:    notifications.NewService(cfg.Notifications),
		Logger:      logger,
	})

	if err := orch.Resume(ctx); err != nil {
		logger.Warn("resume interrupted meetings", logging.Error(err))
	}

	server := api.NewServer(cfg, orch, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("murmurd shutting down, waiting for background tasks")
	orch.Wait()
	return nil
}
