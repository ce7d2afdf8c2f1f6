// cmd/service/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"commitsaga/internal/config"
	"commitsaga/internal/database"
	"commitsaga/internal/github"
	"commitsaga/internal/narrative"
	"commitsaga/internal/pipeline"
	"commitsaga/internal/syncer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: configuration, a logger and a database pool.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func newRootCmd() *cobra.Command {
	var e env
	root := &cobra.Command{
		Use:   "commitsaga",
		Short: "CommitSaga - narrative history and contributor impact for GitHub repositories",
		Long: `CommitSaga ingests a repository's commits, pull requests and issues, groups the
commits into weekly or monthly buckets and writes a narrative summary per bucket
together with an impact score per contributor.

Use 'commitsaga serve' to run the API and the background driver, or
'commitsaga run <repository-id>' to analyze a single repository in the foreground.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.pool != nil {
				e.pool.Close()
			}
		},
	}
	root.AddCommand(
		newServeCmd(&e),
		newMigrateCmd(&e),
		newRegisterCmd(&e),
		newRunCmd(&e),
	)
	return root
}

func (e *env) open(ctx context.Context) error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	e.logger = newLogger(os.Stdout, "json", logLevel)
	slog.SetDefault(e.logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	e.cfg = cfg
	setLogLevel(cfg.LogLevel, logLevel)
	if cfg.LogFormat != "json" {
		e.logger = newLogger(os.Stdout, cfg.LogFormat, logLevel)
		slog.SetDefault(e.logger)
	}
	e.logger.Info("Configuration loaded successfully")

	// 3. Initialize database connection
	e.pool, err = pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	e.logger.Info("Database connection established")
	return nil
}

// services is the wired application graph.
type services struct {
	store    database.Store
	github   *github.Client
	pipeline *pipeline.Pipeline
	syncer   *syncer.Syncer
}

func wire(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger, ghOpts ...github.Option) (*services, error) {
	store := database.NewStore(pool)

	opts := append([]github.Option{github.WithLimiter(github.NewGitHubLimiter(cfg.GithubRequestsPerHour))}, ghOpts...)
	ghClient, err := github.NewClient(cfg.GithubToken, logger, opts...)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(store, ghClient, generatorFactory(cfg, logger), logger)
	s := syncer.NewSyncer(store, p, logger, syncer.Config{
		Concurrency:        cfg.WorkerConcurrency,
		MaxAttempts:        cfg.MaxAttempts,
		RetryBackoff:       cfg.RetryBackoff,
		SyncInterval:       cfg.SyncInterval,
		DefaultGranularity: cfg.Granularity,
	})
	return &services{store: store, github: ghClient, pipeline: p, syncer: s}, nil
}

// generatorFactory builds a generator per summarization run. All runs share one
// request limiter so concurrent runs stay within the provider quota together.
func generatorFactory(cfg *config.Config, logger *slog.Logger) pipeline.GeneratorFactory {
	limiter := narrative.NewLimiter(cfg.AIRequestsPerMinute)
	ncfg := narrative.Config{
		Provider:     cfg.AIProvider,
		APIKey:       cfg.AIAPIKey(),
		FastModel:    cfg.AIFastModel,
		QualityModel: cfg.AIQualityModel,
	}
	if cfg.AIProvider == narrative.ProviderOpenAI {
		ncfg.BaseURL = cfg.OpenAIBaseURL
	}
	return func(ctx context.Context) (narrative.Generator, error) {
		g, err := narrative.New(ctx, ncfg, logger)
		if err != nil {
			return nil, err
		}
		if _, ok := g.(narrative.Noop); ok || cfg.AIRequestsPerMinute <= 0 {
			return g, nil
		}
		return narrative.NewLimited(g, limiter), nil
	}
}

func newLogger(w *os.File, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch strings.ToLower(level) {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
