package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/ptr"

	"commitsaga/internal/database"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/grouping"
	"commitsaga/internal/model"
	"commitsaga/internal/narrative"
	"commitsaga/internal/scoring"
)

const overallFailurePrefix = "Overall summary generation failed: "

// Summarize generates a summary per commit group, recomputes contributor scores,
// writes the repository-level summary and marks the repository completed.
// Generator failures end up as placeholder text, never as a stage failure.
func (p *Pipeline) Summarize(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := p.startSpan(ctx, "Summarize", id)
	defer func() { endSpan(span, err) }()

	repo, err := p.store.GetRepository(ctx, id)
	if err != nil {
		return err
	}
	logger := p.logger.With("repository_id", id, "owner", repo.Owner, "repo", repo.Name, "stage", "summarize")

	if err := p.summarize(ctx, logger, repo); err != nil {
		return p.fail(ctx, logger, id, "summarize", err)
	}
	logger.Info("Summarization complete")
	return nil
}

func (p *Pipeline) summarize(ctx context.Context, logger *slog.Logger, repo model.Repository) error {
	gen, err := p.newGenerator(ctx)
	if err != nil {
		logger.Warn("Narrative generator unavailable, continuing with placeholders", "error", err)
		gen = narrative.Noop{}
	}
	if repo.GroupsStale() {
		logger.Warn("Commit groups were built from an older ingestion",
			"data_version", repo.DataVersion, "grouped_version", repo.GroupedVersion)
	}

	data, err := p.load(ctx, repo.ID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.summaryConcurrency)
	for i := range data.groups {
		g.Go(func() error {
			summary := p.summarizeGroup(gctx, logger, gen, data, data.groups[i])
			if err := p.store.UpdateCommitGroupSummary(gctx, data.groups[i].ID, summary); err != nil {
				return fmt.Errorf("failed to store summary for group %d: %w", data.groups[i].ID, err)
			}
			data.groups[i].BucketSummary = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	contributors, err := p.scoreContributors(ctx, repo.ID, data)
	if err != nil {
		return err
	}

	if len(data.groups) > 0 {
		overall := p.overallSummary(ctx, logger, gen, repo, data, contributors)
		if err := p.store.UpsertOverallSummary(ctx, overall); err != nil {
			return fmt.Errorf("failed to store overall summary: %w", err)
		}
	}

	return p.store.CompleteAnalysis(ctx, repo.ID)
}

// dataset is the stored state summarization works from.
type dataset struct {
	groups       []model.CommitGroup
	contributors []model.Contributor
	commits      []model.Commit
	prs          []model.PullRequest
	issues       []model.Issue
}

func (p *Pipeline) load(ctx context.Context, id uuid.UUID) (*dataset, error) {
	var (
		d   dataset
		err error
	)
	if d.groups, err = p.store.ListCommitGroups(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to list commit groups: %w", err)
	}
	if d.contributors, err = p.store.ListContributors(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to list contributors: %w", err)
	}
	if d.commits, err = p.store.ListCommits(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	if d.prs, err = p.store.ListPullRequests(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	if d.issues, err = p.store.ListIssues(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return &d, nil
}

// bucketInput collects the bounded prompt context for one group.
func (d *dataset) bucketInput(group model.CommitGroup) narrative.BucketInput {
	in := narrative.BucketInput{Start: group.StartDate, End: group.EndDate}
	bucket := grouping.Bucket{Start: group.StartDate, End: group.EndDate}
	for _, c := range d.commits {
		if c.CommitGroupID == nil || *c.CommitGroupID != group.ID {
			continue
		}
		in.TotalCommits++
		if len(in.Commits) < narrative.MaxPromptCommits {
			in.Commits = append(in.Commits, c)
		}
	}
	for _, pr := range d.prs {
		if bucket.Contains(pr.CreatedAt) && len(in.PullRequests) < narrative.MaxPromptPullRequests {
			in.PullRequests = append(in.PullRequests, pr)
		}
	}
	for _, is := range d.issues {
		if bucket.Contains(is.CreatedAt) && len(in.Issues) < narrative.MaxPromptIssues {
			in.Issues = append(in.Issues, is)
		}
	}
	return in
}

// summarizeGroup always returns something storable: the parsed summary or the placeholder.
func (p *Pipeline) summarizeGroup(ctx context.Context, logger *slog.Logger, gen narrative.Generator, d *dataset, group model.CommitGroup) model.BucketSummary {
	logger = logger.With("group_id", group.ID, "start", group.StartDate.Format(time.DateOnly))

	text, err := gen.Complete(ctx, narrative.BucketPrompt(d.bucketInput(group)), narrative.MaxOutputTokens, narrative.TierFast)
	if err != nil {
		if errors.Is(err, custom_errors.ErrGeneratorUnavailable) {
			logger.Debug("No generator, storing placeholder summary")
		} else {
			logger.Error("Generator call failed, storing placeholder summary", "error", err)
		}
		return narrative.FallbackBucketSummary()
	}

	summary, err := narrative.ParseBucketSummary(text)
	if err != nil {
		logger.Warn("Generator returned unusable output, storing placeholder summary", "error", err)
	} else {
		logger.Info("Generated summary for commit group", "commits", group.CommitCount)
	}
	return summary
}

// ScoreContributors recomputes every contributor's counters and impact score from
// the stored commits, pull requests and issues.
func (p *Pipeline) ScoreContributors(ctx context.Context, id uuid.UUID) ([]model.Contributor, error) {
	data, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.scoreContributors(ctx, id, data)
}

func (p *Pipeline) scoreContributors(ctx context.Context, id uuid.UUID, d *dataset) ([]model.Contributor, error) {
	scored := scoring.Aggregate(d.contributors, d.commits, d.prs, d.issues)
	err := p.store.ExecTx(ctx, func(q database.Querier) error {
		for _, c := range scored {
			if err := q.UpdateContributorStats(ctx, c); err != nil {
				return fmt.Errorf("failed to update contributor %s: %w", c.GithubUsername, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scored, nil
}

func (p *Pipeline) overallSummary(ctx context.Context, logger *slog.Logger, gen narrative.Generator, repo model.Repository, d *dataset, contributors []model.Contributor) model.OverallSummary {
	summary := model.OverallSummary{
		RepositoryID: repo.ID,
		Stats: model.RepositoryStats{
			TotalCommits:      len(d.commits),
			TotalContributors: len(contributors),
			TotalPullRequests: len(d.prs),
			TotalIssues:       len(d.issues),
			TotalGroups:       len(d.groups),
		},
		GeneratedAt: time.Now().UTC(),
	}
	in := narrative.OverallInput{
		Repository:      repo.FullName(),
		Stats:           summary.Stats,
		Groups:          d.groups,
		TopContributors: scoring.Top(contributors, narrative.MaxTopContributors),
	}
	if start, end, ok := grouping.Span(d.commits); ok {
		summary.PeriodStart, summary.PeriodEnd = ptr.To(start), ptr.To(end)
		in.PeriodStart, in.PeriodEnd = start, end
	}

	text, err := gen.Complete(ctx, narrative.OverallPrompt(in), narrative.MaxOutputTokens, narrative.TierQuality)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty response: %w", custom_errors.ErrMalformedGeneratorOutput)
	}
	if err != nil {
		logger.Error("Overall summary generation failed", "error", err)
		summary.Summary = overallFailurePrefix + err.Error()
		return summary
	}
	summary.Summary = strings.TrimSpace(text)
	return summary
}
