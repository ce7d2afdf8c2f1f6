package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

const repositoryColumns = `id, owner, name, description, url, default_branch, selected_branch,
	stars_count, forks_count, open_issues_count, analysis_status, analysis_error, last_analyzed_at,
	data_version, grouped_version, cron_enabled, cron_frequency, created_at, updated_at`

func scanRepository(row pgx.Row) (model.Repository, error) {
	var (
		r    model.Repository
		freq *string
	)
	err := row.Scan(
		&r.ID,
		&r.Owner,
		&r.Name,
		&r.Description,
		&r.URL,
		&r.DefaultBranch,
		&r.SelectedBranch,
		&r.StarsCount,
		&r.ForksCount,
		&r.OpenIssues,
		&r.Status,
		&r.LastError,
		&r.LastAnalyzedAt,
		&r.DataVersion,
		&r.GroupedVersion,
		&r.CronEnabled,
		&freq,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	if freq != nil {
		g := model.Granularity(*freq)
		r.CronFrequency = &g
	}
	return r, nil
}

func collectRepositories(rows pgx.Rows) ([]model.Repository, error) {
	defer rows.Close()
	var items []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return custom_errors.ErrRepositoryNotFound
	}
	return err
}

const createRepository = `-- name: CreateRepository :one
INSERT INTO repositories (id, owner, name, selected_branch, cron_enabled, cron_frequency)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner, name) DO UPDATE SET updated_at = now()
RETURNING ` + repositoryColumns

type CreateRepositoryParams struct {
	ID             uuid.UUID
	Owner          string
	Name           string
	SelectedBranch string
	CronEnabled    bool
	CronFrequency  *model.Granularity
}

// CreateRepository inserts a repository, or returns the existing row for the same
// owner/name without changing its branch.
func (q *Queries) CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error) {
	var freq *string
	if arg.CronFrequency != nil {
		s := string(*arg.CronFrequency)
		freq = &s
	}
	row := q.db.QueryRow(ctx, createRepository,
		arg.ID,
		arg.Owner,
		arg.Name,
		arg.SelectedBranch,
		arg.CronEnabled,
		freq,
	)
	return scanRepository(row)
}

const getRepository = `-- name: GetRepository :one
SELECT ` + repositoryColumns + ` FROM repositories WHERE id = $1`

func (q *Queries) GetRepository(ctx context.Context, id uuid.UUID) (model.Repository, error) {
	r, err := scanRepository(q.db.QueryRow(ctx, getRepository, id))
	return r, notFound(err)
}

const getRepositoryByOwnerAndName = `-- name: GetRepositoryByOwnerAndName :one
SELECT ` + repositoryColumns + ` FROM repositories WHERE owner = $1 AND name = $2`

func (q *Queries) GetRepositoryByOwnerAndName(ctx context.Context, owner, name string) (model.Repository, error) {
	r, err := scanRepository(q.db.QueryRow(ctx, getRepositoryByOwnerAndName, owner, name))
	return r, notFound(err)
}

const listRepositories = `-- name: ListRepositories :many
SELECT ` + repositoryColumns + ` FROM repositories ORDER BY created_at`

func (q *Queries) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := q.db.Query(ctx, listRepositories)
	if err != nil {
		return nil, err
	}
	return collectRepositories(rows)
}

const listScheduledRepositories = `-- name: ListScheduledRepositories :many
SELECT ` + repositoryColumns + ` FROM repositories
WHERE cron_enabled AND cron_frequency IS NOT NULL
ORDER BY last_analyzed_at NULLS FIRST`

func (q *Queries) ListScheduledRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := q.db.Query(ctx, listScheduledRepositories)
	if err != nil {
		return nil, err
	}
	return collectRepositories(rows)
}

const updateRepositoryMetadata = `-- name: UpdateRepositoryMetadata :exec
UPDATE repositories SET
    description = $2,
    url = $3,
    default_branch = $4,
    stars_count = $5,
    forks_count = $6,
    open_issues_count = $7,
    updated_at = now()
WHERE id = $1`

func (q *Queries) UpdateRepositoryMetadata(ctx context.Context, id uuid.UUID, meta model.RepositoryMetadata) error {
	_, err := q.db.Exec(ctx, updateRepositoryMetadata,
		id,
		meta.Description,
		meta.URL,
		meta.DefaultBranch,
		meta.StarsCount,
		meta.ForksCount,
		meta.OpenIssues,
	)
	return err
}

const updateRepositorySchedule = `-- name: UpdateRepositorySchedule :exec
UPDATE repositories SET cron_enabled = $2, cron_frequency = $3, updated_at = now() WHERE id = $1`

type UpdateRepositoryScheduleParams struct {
	ID            uuid.UUID
	CronEnabled   bool
	CronFrequency *model.Granularity
}

func (q *Queries) UpdateRepositorySchedule(ctx context.Context, arg UpdateRepositoryScheduleParams) error {
	var freq *string
	if arg.CronFrequency != nil {
		s := string(*arg.CronFrequency)
		freq = &s
	}
	tag, err := q.db.Exec(ctx, updateRepositorySchedule, arg.ID, arg.CronEnabled, freq)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.ErrRepositoryNotFound
	}
	return nil
}

const setRepositoryStatus = `-- name: SetRepositoryStatus :exec
UPDATE repositories SET analysis_status = $2, analysis_error = $3, updated_at = now() WHERE id = $1`

func (q *Queries) SetRepositoryStatus(ctx context.Context, id uuid.UUID, status model.AnalysisStatus, lastError string) error {
	tag, err := q.db.Exec(ctx, setRepositoryStatus, id, status, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.ErrRepositoryNotFound
	}
	return nil
}

const markRepositoryPending = `-- name: MarkRepositoryPending :execrows
UPDATE repositories SET
    analysis_status = 'pending',
    analysis_error = '',
    selected_branch = CASE WHEN $2::text <> '' THEN $2::text ELSE selected_branch END,
    updated_at = now()
WHERE id = $1 AND analysis_status NOT IN ('fetching', 'analyzing')`

func (q *Queries) MarkRepositoryPending(ctx context.Context, id uuid.UUID, branch string) (int64, error) {
	tag, err := q.db.Exec(ctx, markRepositoryPending, id, branch)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const completeIngestion = `-- name: CompleteIngestion :one
UPDATE repositories SET
    analysis_status = 'analyzing',
    analysis_error = '',
    data_version = data_version + 1,
    updated_at = now()
WHERE id = $1
RETURNING data_version`

func (q *Queries) CompleteIngestion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := q.db.QueryRow(ctx, completeIngestion, id).Scan(&version)
	return version, notFound(err)
}

const setGroupedVersion = `-- name: SetGroupedVersion :exec
UPDATE repositories SET grouped_version = $2, updated_at = now() WHERE id = $1`

func (q *Queries) SetGroupedVersion(ctx context.Context, id uuid.UUID, version int64) error {
	_, err := q.db.Exec(ctx, setGroupedVersion, id, version)
	return err
}

const completeAnalysis = `-- name: CompleteAnalysis :exec
UPDATE repositories SET
    analysis_status = 'completed',
    analysis_error = '',
    last_analyzed_at = now(),
    updated_at = now()
WHERE id = $1`

func (q *Queries) CompleteAnalysis(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, completeAnalysis, id)
	if err != nil {
		return fmt.Errorf("failed to complete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.ErrRepositoryNotFound
	}
	return nil
}
