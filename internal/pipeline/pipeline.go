// Package pipeline implements the three analysis stages run for a repository:
// ingestion from the source host, grouping of commits into time buckets, and
// summarization with contributor scoring.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"commitsaga/internal/database"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
	"commitsaga/internal/narrative"
)

// Source is the read-only view of the source-control host used by ingestion.
type Source interface {
	GetRepository(ctx context.Context, owner, name string) (model.RepositoryMetadata, error)
	ListContributors(ctx context.Context, owner, name string) ([]model.Contributor, error)
	ListCommits(ctx context.Context, owner, name, branch string, limit int) ([]model.Commit, error)
	GetCommit(ctx context.Context, owner, name, sha string, maxFiles int) (model.Commit, error)
	ListPullRequests(ctx context.Context, owner, name string, limit int) ([]model.PullRequest, error)
	GetPullRequestStats(ctx context.Context, owner, name string, number int) (additions, deletions, changedFiles int, err error)
	ListPullRequestCommitSHAs(ctx context.Context, owner, name string, number, limit int) ([]string, error)
	ListIssues(ctx context.Context, owner, name string, limit int) ([]model.Issue, error)
	ListComments(ctx context.Context, owner, name string, number, limit, maxBody int) ([]model.Comment, error)
}

// GeneratorFactory builds the narrative generator at the start of a summarization run.
type GeneratorFactory func(ctx context.Context) (narrative.Generator, error)

// Limits bound what ingestion fetches from the host.
type Limits struct {
	Commits        int
	FilesPerCommit int
	PullRequests   int
	Issues         int
	Comments       int
	CommentBody    int
	PRCommits      int
}

var DefaultLimits = Limits{
	Commits:        500,
	FilesPerCommit: 20,
	PullRequests:   100,
	Issues:         100,
	Comments:       20,
	CommentBody:    1000,
	PRCommits:      50,
}

const (
	defaultFetchConcurrency   = 4
	defaultSummaryConcurrency = 4
)

// Pipeline runs the analysis stages against a store, a source host and a generator.
type Pipeline struct {
	store              database.Store
	source             Source
	newGenerator       GeneratorFactory
	logger             *slog.Logger
	limits             Limits
	fetchConcurrency   int
	summaryConcurrency int
	tracer             trace.Tracer
}

type Option func(*Pipeline)

func WithLimits(l Limits) Option {
	return func(p *Pipeline) { p.limits = l }
}

// WithFetchConcurrency bounds parallel per-commit and per-PR detail requests.
func WithFetchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.fetchConcurrency = n
		}
	}
}

// WithSummaryConcurrency bounds parallel generator calls for bucket summaries.
func WithSummaryConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.summaryConcurrency = n
		}
	}
}

func New(store database.Store, source Source, newGenerator GeneratorFactory, logger *slog.Logger, opts ...Option) *Pipeline {
	if newGenerator == nil {
		newGenerator = func(context.Context) (narrative.Generator, error) { return narrative.Noop{}, nil }
	}
	p := &Pipeline{
		store:              store,
		source:             source,
		newGenerator:       newGenerator,
		logger:             logger,
		limits:             DefaultLimits,
		fetchConcurrency:   defaultFetchConcurrency,
		summaryConcurrency: defaultSummaryConcurrency,
		tracer:             otel.Tracer("commitsaga/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) startSpan(ctx context.Context, stage string, id uuid.UUID) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(
		attribute.String("repository.id", id.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// fail records a fatal stage error on the repository and returns it. Transient
// source errors leave the status alone so the driver can retry the stage.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, id uuid.UUID, stage string, err error) error {
	if custom_errors.IsTransient(err) {
		logger.Warn("Stage hit a rate limit, leaving retry to the driver", "stage", stage, "error", err)
		return err
	}
	if errors.Is(err, context.Canceled) {
		// Hand the repository back so a later re-analysis is not refused.
		logger.Warn("Stage interrupted", "stage", stage)
		if serr := p.store.SetRepositoryStatus(context.WithoutCancel(ctx), id, model.StatusPending, stage+": interrupted"); serr != nil {
			logger.Error("Failed to release interrupted repository", "stage", stage, "error", serr)
		}
		return err
	}
	logger.Error("Stage failed", "stage", stage, "error", err)
	// The run context may be gone; the failure still has to be recorded.
	if serr := p.store.SetRepositoryStatus(context.WithoutCancel(ctx), id, model.StatusFailed, stage+": "+err.Error()); serr != nil {
		logger.Error("Failed to record stage failure", "stage", stage, "error", serr)
	}
	return err
}

// MarkFailed records err as the terminal failure of a run, used by the driver once retries are exhausted.
func (p *Pipeline) MarkFailed(ctx context.Context, id uuid.UUID, stage string, err error) error {
	return p.store.SetRepositoryStatus(ctx, id, model.StatusFailed, stage+": "+err.Error())
}

// absorb swallows a non-transient sub-fetch error after logging it. Rate limits
// and cancellation still propagate.
func absorb(logger *slog.Logger, fetch string, err error) error {
	if err == nil || custom_errors.IsTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Warn("Sub-fetch failed, continuing without it", "fetch", fetch, "error", err)
	return nil
}
