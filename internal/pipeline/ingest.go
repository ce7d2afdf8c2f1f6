package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"commitsaga/internal/database"
	"commitsaga/internal/model"
)

// Ingest fetches metadata, contributors, commits, pull requests and issues for a
// repository and upserts them. On success the repository moves to analyzing and
// its data version is bumped.
func (p *Pipeline) Ingest(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := p.startSpan(ctx, "Ingest", id)
	defer func() { endSpan(span, err) }()

	repo, err := p.store.GetRepository(ctx, id)
	if err != nil {
		return err
	}
	logger := p.logger.With("repository_id", id, "owner", repo.Owner, "repo", repo.Name, "stage", "ingest")
	logger.Info("Starting ingestion", "branch", repo.Branch())

	if err := p.store.SetRepositoryStatus(ctx, id, model.StatusFetching, ""); err != nil {
		return err
	}

	if err := p.ingest(ctx, logger, repo); err != nil {
		return p.fail(ctx, logger, id, "ingest", err)
	}

	version, err := p.store.CompleteIngestion(ctx, id)
	if err != nil {
		return p.fail(ctx, logger, id, "ingest", err)
	}
	logger.Info("Ingestion complete", "data_version", version)
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, logger *slog.Logger, repo model.Repository) error {
	meta, err := p.source.GetRepository(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("failed to fetch repository metadata: %w", err)
	}
	if err := p.store.UpdateRepositoryMetadata(ctx, repo.ID, meta); err != nil {
		return fmt.Errorf("failed to store repository metadata: %w", err)
	}
	// A repository registered without a branch follows the host's default branch.
	repo.DefaultBranch = meta.DefaultBranch

	// Contributors go first so commits can link to them by login.
	steps := []struct {
		name string
		run  func(context.Context, *slog.Logger, model.Repository) (int, error)
	}{
		{"contributors", p.ingestContributors},
		{"commits", p.ingestCommits},
		{"pull_requests", p.ingestPullRequests},
		{"issues", p.ingestIssues},
	}
	for _, step := range steps {
		n, err := step.run(ctx, logger, repo)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", step.name, err)
		}
		logger.Info("Ingested records", "kind", step.name, "count", n)
	}
	return nil
}

func (p *Pipeline) ingestContributors(ctx context.Context, logger *slog.Logger, repo model.Repository) (int, error) {
	contributors, err := p.source.ListContributors(ctx, repo.Owner, repo.Name)
	if err = absorb(logger, "contributors", err); err != nil {
		return 0, err
	}
	err = p.store.ExecTx(ctx, func(q database.Querier) error {
		for _, c := range contributors {
			if err := q.UpsertContributor(ctx, repo.ID, c); err != nil {
				return err
			}
		}
		return nil
	})
	return len(contributors), err
}

func (p *Pipeline) ingestCommits(ctx context.Context, logger *slog.Logger, repo model.Repository) (int, error) {
	commits, err := p.source.ListCommits(ctx, repo.Owner, repo.Name, repo.Branch(), p.limits.Commits)
	if err = absorb(logger, "commits", err); err != nil {
		return 0, err
	}

	// The list endpoint carries neither stats nor files; fetch them per commit.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchConcurrency)
	for i := range commits {
		g.Go(func() error {
			detail, err := p.source.GetCommit(gctx, repo.Owner, repo.Name, commits[i].SHA, p.limits.FilesPerCommit)
			if err != nil {
				return absorb(logger.With("sha", commits[i].SHA), "commit details", err)
			}
			commits[i].Additions = detail.Additions
			commits[i].Deletions = detail.Deletions
			commits[i].FilesChanged = detail.FilesChanged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	err = p.store.ExecTx(ctx, func(q database.Querier) error {
		for _, c := range commits {
			if err := q.UpsertCommit(ctx, repo.ID, c); err != nil {
				return err
			}
		}
		return nil
	})
	return len(commits), err
}

func (p *Pipeline) ingestPullRequests(ctx context.Context, logger *slog.Logger, repo model.Repository) (int, error) {
	prs, err := p.source.ListPullRequests(ctx, repo.Owner, repo.Name, p.limits.PullRequests)
	if err = absorb(logger, "pull requests", err); err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchConcurrency)
	for i := range prs {
		g.Go(func() error {
			return p.enrichPullRequest(gctx, logger.With("pr", prs[i].Number), repo, &prs[i])
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	err = p.store.ExecTx(ctx, func(q database.Querier) error {
		for _, pr := range prs {
			if err := q.UpsertPullRequest(ctx, repo.ID, pr); err != nil {
				return err
			}
		}
		return nil
	})
	return len(prs), err
}

// enrichPullRequest fills stats, comments and commit SHAs. Each is optional.
func (p *Pipeline) enrichPullRequest(ctx context.Context, logger *slog.Logger, repo model.Repository, pr *model.PullRequest) error {
	additions, deletions, changed, err := p.source.GetPullRequestStats(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		if err = absorb(logger, "pull request stats", err); err != nil {
			return err
		}
	} else {
		pr.Additions, pr.Deletions, pr.ChangedFiles = additions, deletions, changed
	}

	comments, err := p.source.ListComments(ctx, repo.Owner, repo.Name, pr.Number, p.limits.Comments, p.limits.CommentBody)
	if err != nil {
		if err = absorb(logger, "pull request comments", err); err != nil {
			return err
		}
		comments = []model.Comment{}
	}
	pr.Comments = comments

	shas, err := p.source.ListPullRequestCommitSHAs(ctx, repo.Owner, repo.Name, pr.Number, p.limits.PRCommits)
	if err != nil {
		if err = absorb(logger, "pull request commits", err); err != nil {
			return err
		}
		shas = []string{}
	}
	pr.CommitSHAs = shas
	return nil
}

func (p *Pipeline) ingestIssues(ctx context.Context, logger *slog.Logger, repo model.Repository) (int, error) {
	issues, err := p.source.ListIssues(ctx, repo.Owner, repo.Name, p.limits.Issues)
	if err = absorb(logger, "issues", err); err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchConcurrency)
	for i := range issues {
		g.Go(func() error {
			comments, err := p.source.ListComments(gctx, repo.Owner, repo.Name, issues[i].Number, p.limits.Comments, p.limits.CommentBody)
			if err != nil {
				if err = absorb(logger.With("issue", issues[i].Number), "issue comments", err); err != nil {
					return err
				}
				comments = []model.Comment{}
			}
			issues[i].Comments = comments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	err = p.store.ExecTx(ctx, func(q database.Querier) error {
		for _, is := range issues {
			if err := q.UpsertIssue(ctx, repo.ID, is); err != nil {
				return err
			}
		}
		return nil
	})
	return len(issues), err
}
