package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"commitsaga/internal/model"
)

const commitGroupColumns = `id, repository_id, group_type, start_date, end_date, commit_count, summary,
	key_changes, notable_features, bug_fixes, technical_decisions, main_contributors, analyzed_at`

func scanCommitGroup(row pgx.Row) (model.CommitGroup, error) {
	var g model.CommitGroup
	err := row.Scan(
		&g.ID,
		&g.RepositoryID,
		&g.Granularity,
		&g.StartDate,
		&g.EndDate,
		&g.CommitCount,
		&g.Summary,
		&g.KeyChanges,
		&g.NotableFeatures,
		&g.BugFixes,
		&g.TechnicalDecisions,
		&g.MainContributors,
		&g.AnalyzedAt,
	)
	g.StartDate = g.StartDate.UTC()
	g.EndDate = g.EndDate.UTC()
	return g, err
}

const deleteCommitGroups = `-- name: DeleteCommitGroups :execrows
DELETE FROM commit_groups WHERE repository_id = $1`

// DeleteCommitGroups removes every group of a repository. Member commits fall back to no group.
func (q *Queries) DeleteCommitGroups(ctx context.Context, repositoryID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteCommitGroups, repositoryID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const createCommitGroup = `-- name: CreateCommitGroup :one
INSERT INTO commit_groups (repository_id, group_type, start_date, end_date, commit_count)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + commitGroupColumns

type CreateCommitGroupParams struct {
	RepositoryID uuid.UUID
	Granularity  model.Granularity
	StartDate    time.Time
	EndDate      time.Time
	CommitCount  int
}

func (q *Queries) CreateCommitGroup(ctx context.Context, arg CreateCommitGroupParams) (model.CommitGroup, error) {
	row := q.db.QueryRow(ctx, createCommitGroup,
		arg.RepositoryID,
		arg.Granularity,
		arg.StartDate,
		arg.EndDate,
		arg.CommitCount,
	)
	return scanCommitGroup(row)
}

const assignCommitsToGroup = `-- name: AssignCommitsToGroup :execrows
UPDATE commits SET commit_group_id = g.id
FROM commit_groups g
WHERE g.id = $1 AND commits.repository_id = g.repository_id AND commits.sha = ANY($2::text[])`

// AssignCommitsToGroup links the commits with the given SHAs to a group and returns how many moved.
func (q *Queries) AssignCommitsToGroup(ctx context.Context, groupID int64, shas []string) (int64, error) {
	tag, err := q.db.Exec(ctx, assignCommitsToGroup, groupID, shas)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listCommitGroups = `-- name: ListCommitGroups :many
SELECT ` + commitGroupColumns + ` FROM commit_groups
WHERE repository_id = $1
ORDER BY start_date`

func (q *Queries) ListCommitGroups(ctx context.Context, repositoryID uuid.UUID) ([]model.CommitGroup, error) {
	rows, err := q.db.Query(ctx, listCommitGroups, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.CommitGroup
	for rows.Next() {
		g, err := scanCommitGroup(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

const updateCommitGroupSummary = `-- name: UpdateCommitGroupSummary :exec
UPDATE commit_groups SET
    summary = $2,
    key_changes = $3,
    notable_features = $4,
    bug_fixes = $5,
    technical_decisions = $6,
    main_contributors = $7,
    analyzed_at = now()
WHERE id = $1`

// UpdateCommitGroupSummary stores generated (or placeholder) fields and stamps analyzed_at.
func (q *Queries) UpdateCommitGroupSummary(ctx context.Context, groupID int64, s model.BucketSummary) error {
	_, err := q.db.Exec(ctx, updateCommitGroupSummary,
		groupID,
		s.Summary,
		jsonList(s.KeyChanges),
		jsonList(s.NotableFeatures),
		jsonList(s.BugFixes),
		jsonList(s.TechnicalDecisions),
		jsonList(s.MainContributors),
	)
	return err
}
