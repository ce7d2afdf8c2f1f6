package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"commitsaga/internal/database"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/grouping"
	"commitsaga/internal/model"
)

// Analyze rebuilds the repository's commit groups from its complete current commit
// set. The delete, create and assign steps share one transaction.
func (p *Pipeline) Analyze(ctx context.Context, id uuid.UUID, granularity model.Granularity) (err error) {
	ctx, span := p.startSpan(ctx, "Analyze", id)
	defer func() { endSpan(span, err) }()

	repo, err := p.store.GetRepository(ctx, id)
	if err != nil {
		return err
	}
	logger := p.logger.With("repository_id", id, "owner", repo.Owner, "repo", repo.Name, "stage", "analyze", "granularity", granularity)

	if err := p.store.SetRepositoryStatus(ctx, id, model.StatusAnalyzing, ""); err != nil {
		return err
	}
	if repo.DataVersion == 0 {
		logger.Warn("Grouping a repository that has never completed ingestion")
	}

	var groups, commits int
	err = p.store.ExecTx(ctx, func(q database.Querier) error {
		var err error
		groups, commits, err = rebuildGroups(ctx, q, id, granularity)
		if err != nil {
			return err
		}
		return q.SetGroupedVersion(ctx, id, repo.DataVersion)
	})
	if err != nil {
		return p.fail(ctx, logger, id, "analyze", err)
	}

	logger.Info("Commit groups rebuilt", "groups", groups, "commits", commits, "data_version", repo.DataVersion)
	return nil
}

func rebuildGroups(ctx context.Context, q database.Querier, id uuid.UUID, granularity model.Granularity) (int, int, error) {
	commits, err := q.ListCommits(ctx, id)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list commits: %w", err)
	}
	if _, err := q.DeleteCommitGroups(ctx, id); err != nil {
		return 0, 0, fmt.Errorf("failed to delete commit groups: %w", err)
	}

	plan := grouping.Plan(commits, granularity)
	assigned := 0
	for _, a := range plan {
		group, err := q.CreateCommitGroup(ctx, database.CreateCommitGroupParams{
			RepositoryID: id,
			Granularity:  granularity,
			StartDate:    a.Start,
			EndDate:      a.End,
			CommitCount:  len(a.Commits),
		})
		if err != nil {
			return 0, 0, fmt.Errorf("failed to create commit group %s: %w", a.Start.Format("2006-01-02"), err)
		}

		shas := make([]string, len(a.Commits))
		for i, c := range a.Commits {
			shas[i] = c.SHA
		}
		n, err := q.AssignCommitsToGroup(ctx, group.ID, shas)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to assign commits to group %d: %w", group.ID, err)
		}
		if n != int64(len(shas)) {
			return 0, 0, &custom_errors.DataIntegrityError{
				Op:     "assign commits",
				Detail: fmt.Sprintf("group %d expected %d commits, assigned %d", group.ID, len(shas), n),
			}
		}
		assigned += len(shas)
	}

	if assigned != len(commits) {
		return 0, 0, &custom_errors.DataIntegrityError{
			Op:     "assign commits",
			Detail: fmt.Sprintf("%d of %d commits landed in a group", assigned, len(commits)),
		}
	}
	return len(plan), assigned, nil
}
