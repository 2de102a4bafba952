package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	apphttp "bilancio/internal/http"
	"bilancio/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	progressor := services.NewMonthProgressor(repo, cfg.StatementRetention)
	progression := services.NewProgressionService(progressor)

	var publisher apphttp.InvalidationPublisher
	if amqpClient != nil {
		publisher = amqpClient
	}

	srv := apphttp.NewServer(":"+cfg.Port, repo, repo, repo, progression, publisher, cfg.DefaultHorizonDays)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Drop superseded snapshots when another process signals that a group's
	// cached projection is stale.
	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeInvalidations(ctx, func(msg *amqp.InvalidationMessage) error {
				srv.InvalidateSnapshots(msg.GroupID)
				deleted, err := repo.DeleteSnapshots(ctx, msg.GroupID)
				if err != nil {
					return err
				}
				logger.Info("Invalidated snapshots",
					"group_id", msg.GroupID,
					"reason", msg.Reason,
					"deleted", deleted)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("Invalidation consumer stopped", "error", err)
			}
		}()

		// Surface the worker's progression runs in the host's log.
		go func() {
			err := amqpClient.ConsumeProgressionReports(ctx, func(msg *amqp.ProgressionCompletedMessage) error {
				logger.Info("Month progression completed",
					"group_id", msg.GroupID,
					"progressed_cards", msg.ProgressedCards,
					"cleaned_statements", msg.CleanedStatements)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("Progression report consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting bilancio server",
		"port", cfg.Port,
		"default_horizon_days", cfg.DefaultHorizonDays,
		"sqlite_db", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
