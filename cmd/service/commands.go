package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"commitsaga/internal/api"
	"commitsaga/internal/config"
	"commitsaga/internal/database"
	"commitsaga/internal/model"
	"commitsaga/internal/syncer"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background pipeline driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup context for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	logger := e.logger

	shutdownTelemetry, err := config.SetupTelemetry(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer shutdownTelemetry()

	if err := migrateUp(e); err != nil {
		return err
	}

	svc, err := wire(e.cfg, e.pool, logger)
	if err != nil {
		return err
	}

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		svc.syncer.Start(ctx)
	}()

	if err := svc.syncer.Bootstrap(ctx, e.cfg.ReposToSync); err != nil {
		return fmt.Errorf("failed to register repositories: %w", err)
	}

	srv := &http.Server{
		Addr:              e.cfg.HTTPAddr,
		Handler:           api.NewRouter(svc.store, svc.syncer, svc.github, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	logger.Info("Application started. Waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-srvErr:
		logger.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	select {
	case <-driverDone:
	case <-shutdownCtx.Done():
		logger.Warn("Driver did not stop in time")
	}
	logger.Info("Shutdown complete")
	return nil
}

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrateUp(e)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := database.NewMigrator(e.pool)
				if err != nil {
					return err
				}
				if err := m.Down(); err != nil {
					return fmt.Errorf("failed to roll back database migrations: %w", err)
				}
				e.logger.Info("Database migrations rolled back")
				return nil
			},
		},
	)
	return cmd
}

func migrateUp(e *env) error {
	m, err := database.NewMigrator(e.pool)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	e.logger.Info("Database migrations applied successfully")
	return nil
}

func newRegisterCmd(e *env) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "register owner/name[@branch]...",
		Short: "Register repositories for analysis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := syncer.ParseRepoIdentifiers(args)
			if err != nil {
				return err
			}
			var frequency *model.Granularity
			if schedule != "" {
				g, err := model.ParseGranularity(schedule)
				if err != nil {
					return err
				}
				frequency = &g
			}

			svc, err := wire(e.cfg, e.pool, e.logger)
			if err != nil {
				return err
			}
			for _, id := range ids {
				repo, err := svc.syncer.Register(cmd.Context(), id)
				if err != nil {
					return err
				}
				if id.Branch != "" && repo.SelectedBranch != id.Branch {
					e.logger.Warn("Repository already registered; the branch changes on the next submitted run",
						"repository_id", repo.ID, "branch", repo.Branch(), "requested_branch", id.Branch)
				}
				if frequency != nil {
					err := svc.store.UpdateRepositorySchedule(cmd.Context(), database.UpdateRepositoryScheduleParams{
						ID:            repo.ID,
						CronEnabled:   true,
						CronFrequency: frequency,
					})
					if err != nil {
						return fmt.Errorf("failed to schedule %s: %w", repo.FullName(), err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", repo.ID, repo.FullName())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "enable periodic re-analysis: weekly or monthly")
	return cmd
}

func newRunCmd(e *env) *cobra.Command {
	var granularity string
	cmd := &cobra.Command{
		Use:   "run <repository-id>",
		Short: "Run ingestion, grouping and summarization for one repository in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid repository id %q: %w", args[0], err)
			}
			g, err := model.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			if granularity == "" {
				g = e.cfg.Granularity
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			shutdownTelemetry, err := config.SetupTelemetry(ctx, e.cfg)
			if err != nil {
				return fmt.Errorf("failed to set up telemetry: %w", err)
			}
			defer shutdownTelemetry()

			svc, err := wire(e.cfg, e.pool, e.logger)
			if err != nil {
				return err
			}
			if err := svc.syncer.RunSync(ctx, id, g); err != nil {
				return err
			}

			repo, err := svc.store.GetRepository(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", repo.FullName(), repo.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&granularity, "granularity", "", "grouping period: weekly or monthly (default from DEFAULT_GRANULARITY)")
	return cmd
}
