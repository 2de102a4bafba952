package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting progression-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	progressor := services.NewMonthProgressor(repo, cfg.StatementRetention)
	progression := services.NewProgressionService(progressor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCheck := func() {
		groups, err := repo.ListGroupIDs(ctx)
		if err != nil {
			logger.Error("Failed to list groups", "error", err)
			return
		}

		for _, groupID := range groups {
			lastChecked, err := repo.Checkpoint(ctx, groupID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				logger.Error("Failed to load checkpoint", "error", err, "group_id", groupID)
				continue
			}

			now := time.Now()
			result := progression.Check(ctx, groupID, lastChecked)
			if !result.Success {
				logger.Error("Month progression failed",
					"error", result.Err,
					"group_id", groupID,
					"progressed_cards", result.ProgressedCards)
				continue
			}

			if err := repo.AdvanceCheckpoint(ctx, groupID, now); err != nil {
				logger.Error("Failed to advance checkpoint", "error", err, "group_id", groupID)
				continue
			}

			logger.Info("Month progression check completed",
				"group_id", groupID,
				"progressed_cards", result.ProgressedCards,
				"cleaned_statements", result.CleanedStatements)

			if result.ProgressedCards > 0 && amqpClient != nil {
				if err := amqpClient.PublishInvalidation(ctx, groupID, amqp.ReasonMonthProgression); err != nil {
					logger.Warn("Invalidation publish failed", "error", err, "group_id", groupID)
				}
				if err := amqpClient.PublishProgressionCompleted(ctx, groupID, result.ProgressedCards, result.CleanedStatements); err != nil {
					logger.Warn("Progression report publish failed", "error", err, "group_id", groupID)
				}
			}
		}
	}

	// Run an initial check on startup so restarts across a month boundary
	// are not left waiting for the next scheduled run.
	logger.Info("Running initial progression check...")
	runCheck()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ProgressionSchedule, runCheck); err != nil {
		logger.Error("Failed to schedule progression check", "error", err, "schedule", cfg.ProgressionSchedule)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("Progression check scheduled",
		"schedule", cfg.ProgressionSchedule,
		"retention", cfg.StatementRetention.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down progression-worker...")
	cancel()

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("Progression-worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
