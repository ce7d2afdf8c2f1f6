// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"commitsaga/internal/database"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

const (
	defaultConcurrency  = 5
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 60 * time.Second
	defaultQueueSize    = 100
)

// Stage is one unit of pipeline work.
type Stage int

const (
	StageIngest Stage = iota
	StageAnalyze
	StageSummarize
)

func (s Stage) String() string {
	switch s {
	case StageIngest:
		return "ingest"
	case StageAnalyze:
		return "analyze"
	case StageSummarize:
		return "summarize"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Job asks for one stage to run for one repository. Attempt starts at 1.
type Job struct {
	RepositoryID uuid.UUID
	Stage        Stage
	Granularity  model.Granularity
	Attempt      int
}

// next is the job that follows a successful run of j.
func (j Job) next() (Job, bool) {
	if j.Stage == StageSummarize {
		return Job{}, false
	}
	return Job{RepositoryID: j.RepositoryID, Stage: j.Stage + 1, Granularity: j.Granularity, Attempt: 1}, true
}

// Runner executes pipeline stages. *pipeline.Pipeline implements it.
type Runner interface {
	Ingest(ctx context.Context, id uuid.UUID) error
	Analyze(ctx context.Context, id uuid.UUID, granularity model.Granularity) error
	Summarize(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, stage string, err error) error
}

// Store is the part of the data store the driver needs.
type Store interface {
	CreateRepository(ctx context.Context, arg database.CreateRepositoryParams) (model.Repository, error)
	GetRepository(ctx context.Context, id uuid.UUID) (model.Repository, error)
	MarkRepositoryPending(ctx context.Context, id uuid.UUID, branch string) (int64, error)
	ListScheduledRepositories(ctx context.Context) ([]model.Repository, error)
}

// Config tunes the driver. Zero values fall back to defaults.
type Config struct {
	Concurrency        int
	MaxAttempts        int
	RetryBackoff       time.Duration
	SyncInterval       time.Duration
	DefaultGranularity model.Granularity
	QueueSize          int
}

// RepoIdentifier holds the owner, name and optional branch of a repository.
type RepoIdentifier struct {
	Owner  string
	Name   string
	Branch string
}

// Syncer schedules pipeline stages: a bounded worker pool drains a job queue,
// chains ingest, analyze and summarize, and retries rate-limited stages.
type Syncer struct {
	store   Store
	runner  Runner
	logger  *slog.Logger
	cfg     Config
	jobs    chan Job
	pending sync.WaitGroup
	now     func() time.Time
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(store Store, runner Runner, logger *slog.Logger, cfg Config) *Syncer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.DefaultGranularity == "" {
		cfg.DefaultGranularity = model.Weekly
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Syncer{
		store:  store,
		runner: runner,
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan Job, cfg.QueueSize),
		now:    time.Now,
	}
}

// Start drains the job queue until ctx is cancelled. When a sync interval is
// configured it also re-analyzes scheduled repositories on every tick.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.cfg.SyncInterval.String(), "concurrency", s.cfg.Concurrency)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	var tick <-chan time.Time
	if s.cfg.SyncInterval > 0 {
		ticker := time.NewTicker(s.cfg.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
		s.dispatch(ctx, &g, s.scheduledJobs(ctx)...)
	}

	for {
		select {
		case job := <-s.jobs:
			s.dispatch(ctx, &g, job)
		case <-tick:
			s.dispatch(ctx, &g, s.scheduledJobs(ctx)...)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			_ = g.Wait()
			s.pending.Wait()
			for {
				select {
				case job := <-s.jobs:
					s.drop(ctx, job)
				default:
					return
				}
			}
		}
	}
}

func (s *Syncer) dispatch(ctx context.Context, g *errgroup.Group, jobs ...Job) {
	for _, job := range jobs {
		g.Go(func() error {
			s.process(ctx, job)
			return nil
		})
	}
}

// Enqueue schedules a job, blocking while the queue is full.
func (s *Syncer) Enqueue(ctx context.Context, job Job) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	select {
	case s.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handoff enqueues job after delay without holding a worker.
func (s *Syncer) handoff(ctx context.Context, job Job, delay time.Duration) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				s.drop(ctx, job)
				return
			}
		}
		if err := s.Enqueue(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				s.drop(ctx, job)
				return
			}
			s.logger.Error("Failed to enqueue job", "repository_id", job.RepositoryID, "stage", job.Stage.String(), "error", err)
		}
	}()
}

// drop records a job abandoned at shutdown so its repository does not stay in progress.
func (s *Syncer) drop(ctx context.Context, job Job) {
	s.logger.Warn("Dropping job at shutdown", "repository_id", job.RepositoryID, "stage", job.Stage.String())
	err := fmt.Errorf("interrupted: %w", context.Cause(ctx))
	if merr := s.runner.MarkFailed(context.WithoutCancel(ctx), job.RepositoryID, job.Stage.String(), err); merr != nil {
		s.logger.Error("Failed to mark repository failed", "repository_id", job.RepositoryID, "error", merr)
	}
}

func (s *Syncer) process(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		s.drop(ctx, job)
		return
	}
	next, delay, err := s.step(ctx, job)
	if next != nil {
		s.handoff(ctx, *next, delay)
	}
	if err != nil && !errors.Is(err, context.Canceled) && next == nil {
		s.logger.Error("Pipeline run stopped", "repository_id", job.RepositoryID, "stage", job.Stage.String(), "attempt", job.Attempt, "error", err)
	}
}

// step runs one job and returns the follow-up job, if any, with the delay before
// it should run. Rate-limited stages are retried up to MaxAttempts, after which
// the repository is marked failed.
func (s *Syncer) step(ctx context.Context, job Job) (*Job, time.Duration, error) {
	logger := s.logger.With("repository_id", job.RepositoryID, "stage", job.Stage.String(), "attempt", job.Attempt)
	logger.Info("Running stage")

	err := s.run(ctx, job)
	if err == nil {
		next, ok := job.next()
		if !ok {
			logger.Info("Pipeline run finished")
			return nil, 0, nil
		}
		return &next, 0, nil
	}

	if custom_errors.IsTransient(err) {
		if job.Attempt < s.cfg.MaxAttempts {
			retry := job
			retry.Attempt++
			logger.Warn("Stage rate limited, scheduling retry", "backoff", s.cfg.RetryBackoff.String(), "error", err)
			return &retry, s.cfg.RetryBackoff, err
		}
		logger.Error("Retries exhausted, marking repository failed", "error", err)
		if merr := s.runner.MarkFailed(context.WithoutCancel(ctx), job.RepositoryID, job.Stage.String(), err); merr != nil {
			logger.Error("Failed to mark repository failed", "error", merr)
		}
	}
	return nil, 0, err
}

func (s *Syncer) run(ctx context.Context, job Job) error {
	switch job.Stage {
	case StageIngest:
		return s.runner.Ingest(ctx, job.RepositoryID)
	case StageAnalyze:
		return s.runner.Analyze(ctx, job.RepositoryID, job.Granularity)
	case StageSummarize:
		return s.runner.Summarize(ctx, job.RepositoryID)
	default:
		return fmt.Errorf("unknown stage %s", job.Stage)
	}
}

// RunSync runs all three stages for a repository in the calling goroutine,
// applying the same retry policy as the worker pool.
func (s *Syncer) RunSync(ctx context.Context, id uuid.UUID, granularity model.Granularity) error {
	if granularity == "" {
		granularity = s.cfg.DefaultGranularity
	}
	if err := s.claim(ctx, id, ""); err != nil {
		return err
	}

	job := Job{RepositoryID: id, Stage: StageIngest, Granularity: granularity, Attempt: 1}
	for {
		next, delay, err := s.step(ctx, job)
		if next == nil {
			return err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		job = *next
	}
}

// Reanalyze resets a repository to pending and schedules a fresh run. A
// repository that is fetching or analyzing is left untouched and
// ErrAnalysisInProgress is returned.
func (s *Syncer) Reanalyze(ctx context.Context, id uuid.UUID, granularity model.Granularity) error {
	return s.schedule(ctx, id, "", granularity)
}

// Submit registers a repository and schedules a run for it. A requested branch
// is applied together with the reset to pending, so a repository that is
// already running keeps its branch and ErrAnalysisInProgress is returned
// alongside the stored record.
func (s *Syncer) Submit(ctx context.Context, id RepoIdentifier) (model.Repository, error) {
	repo, err := s.Register(ctx, id)
	if err != nil {
		return model.Repository{}, err
	}
	if err := s.schedule(ctx, repo.ID, id.Branch, ""); err != nil {
		return repo, err
	}
	repo.Status = model.StatusPending
	repo.LastError = ""
	if id.Branch != "" {
		repo.SelectedBranch = id.Branch
	}
	return repo, nil
}

func (s *Syncer) schedule(ctx context.Context, id uuid.UUID, branch string, granularity model.Granularity) error {
	if granularity == "" {
		granularity = s.cfg.DefaultGranularity
	}
	if err := s.claim(ctx, id, branch); err != nil {
		return err
	}
	err := s.Enqueue(ctx, Job{RepositoryID: id, Stage: StageIngest, Granularity: granularity, Attempt: 1})
	if err != nil {
		// The repository is already pending; record that no run follows.
		s.logger.Error("Failed to enqueue re-analysis", "repository_id", id, "error", err)
		if merr := s.runner.MarkFailed(context.WithoutCancel(ctx), id, StageIngest.String(), fmt.Errorf("failed to schedule run: %w", err)); merr != nil {
			s.logger.Error("Failed to mark repository failed", "repository_id", id, "error", merr)
		}
		return err
	}
	s.logger.Info("Re-analysis scheduled", "repository_id", id, "granularity", granularity)
	return nil
}

// claim moves an idle repository back to pending, switching to branch when one is given.
func (s *Syncer) claim(ctx context.Context, id uuid.UUID, branch string) error {
	repo, err := s.store.GetRepository(ctx, id)
	if err != nil {
		return err
	}
	if repo.InProgress() {
		return custom_errors.ErrAnalysisInProgress
	}
	n, err := s.store.MarkRepositoryPending(ctx, id, branch)
	if err != nil {
		return fmt.Errorf("failed to reset repository status: %w", err)
	}
	if n == 0 {
		// Another run claimed it between the read and the update.
		return custom_errors.ErrAnalysisInProgress
	}
	return nil
}

// Register creates the repository record, or returns the existing one
// unchanged. Branch changes for a known repository go through Submit.
func (s *Syncer) Register(ctx context.Context, id RepoIdentifier) (model.Repository, error) {
	repo, err := s.store.CreateRepository(ctx, database.CreateRepositoryParams{
		ID:             uuid.New(),
		Owner:          id.Owner,
		Name:           id.Name,
		SelectedBranch: id.Branch,
	})
	if err != nil {
		return model.Repository{}, fmt.Errorf("failed to register %s/%s: %w", id.Owner, id.Name, err)
	}
	s.logger.Info("Repository registered", "repository_id", repo.ID, "owner", repo.Owner, "repo", repo.Name, "branch", repo.Branch())
	return repo, nil
}

// Bootstrap registers the given "owner/name[@branch]" repositories and schedules
// a run for each one that is not already being processed.
func (s *Syncer) Bootstrap(ctx context.Context, repos []string) error {
	ids, err := ParseRepoIdentifiers(repos)
	if err != nil {
		return err
	}
	for _, id := range ids {
		repo, err := s.Submit(ctx, id)
		if errors.Is(err, custom_errors.ErrAnalysisInProgress) {
			s.logger.Info("Repository already in progress, not rescheduling", "repository_id", repo.ID)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// scheduledJobs returns ingest jobs for scheduled repositories whose last analysis
// is older than their frequency.
func (s *Syncer) scheduledJobs(ctx context.Context) []Job {
	s.logger.Info("Starting scheduled re-analysis cycle")
	repos, err := s.store.ListScheduledRepositories(ctx)
	if err != nil {
		s.logger.Error("Failed to list scheduled repositories", "error", err)
		return nil
	}

	var jobs []Job
	now := s.now()
	for _, repo := range repos {
		if repo.CronFrequency == nil || !due(repo, now) {
			continue
		}
		if err := s.claim(ctx, repo.ID, ""); err != nil {
			if !errors.Is(err, custom_errors.ErrAnalysisInProgress) {
				s.logger.Error("Failed to schedule repository", "repository_id", repo.ID, "error", err)
			}
			continue
		}
		jobs = append(jobs, Job{RepositoryID: repo.ID, Stage: StageIngest, Granularity: *repo.CronFrequency, Attempt: 1})
	}
	s.logger.Info("Scheduled re-analysis cycle finished", "scheduled", len(jobs))
	return jobs
}

// due reports whether a scheduled repository should be re-analyzed at now.
func due(repo model.Repository, now time.Time) bool {
	if repo.LastAnalyzedAt == nil {
		return true
	}
	next := repo.LastAnalyzedAt.AddDate(0, 0, 7)
	if *repo.CronFrequency == model.Monthly {
		next = repo.LastAnalyzedAt.AddDate(0, 1, 0)
	}
	return !now.Before(next)
}

// ParseRepoIdentifier parses "owner/name" or "owner/name@branch".
func ParseRepoIdentifier(r string) (RepoIdentifier, error) {
	path, branch, hasBranch := strings.Cut(strings.TrimSpace(r), "@")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || (hasBranch && branch == "") {
		return RepoIdentifier{}, &custom_errors.ErrInvalidRepoFormat{Repo: r}
	}
	return RepoIdentifier{Owner: parts[0], Name: parts[1], Branch: branch}, nil
}

func ParseRepoIdentifiers(repos []string) ([]RepoIdentifier, error) {
	var identifiers []RepoIdentifier
	for _, r := range repos {
		id, err := ParseRepoIdentifier(r)
		if err != nil {
			return nil, err
		}
		identifiers = append(identifiers, id)
	}
	return identifiers, nil
}
