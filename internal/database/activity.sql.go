package database

import (
	"context"

	"github.com/google/uuid"

	"commitsaga/internal/model"
)

const upsertPullRequest = `-- name: UpsertPullRequest :exec
INSERT INTO pull_requests (
    repository_id, number, title, body, state, author, opened_at, updated_at, merged_at, closed_at,
    additions, deletions, changed_files, labels, comments, commit_shas
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (repository_id, number) DO UPDATE SET
    title = EXCLUDED.title,
    body = EXCLUDED.body,
    state = EXCLUDED.state,
    author = EXCLUDED.author,
    opened_at = EXCLUDED.opened_at,
    updated_at = EXCLUDED.updated_at,
    merged_at = EXCLUDED.merged_at,
    closed_at = EXCLUDED.closed_at,
    additions = EXCLUDED.additions,
    deletions = EXCLUDED.deletions,
    changed_files = EXCLUDED.changed_files,
    labels = EXCLUDED.labels,
    comments = EXCLUDED.comments,
    commit_shas = EXCLUDED.commit_shas`

func (q *Queries) UpsertPullRequest(ctx context.Context, repositoryID uuid.UUID, pr model.PullRequest) error {
	_, err := q.db.Exec(ctx, upsertPullRequest,
		repositoryID,
		pr.Number,
		pr.Title,
		pr.Body,
		pr.State,
		pr.Author,
		pr.CreatedAt,
		pr.UpdatedAt,
		pr.MergedAt,
		pr.ClosedAt,
		pr.Additions,
		pr.Deletions,
		pr.ChangedFiles,
		jsonList(pr.Labels),
		jsonList(pr.Comments),
		jsonList(pr.CommitSHAs),
	)
	return err
}

const listPullRequests = `-- name: ListPullRequests :many
SELECT number, title, body, state, author, opened_at, updated_at, merged_at, closed_at,
    additions, deletions, changed_files, labels, comments, commit_shas
FROM pull_requests
WHERE repository_id = $1
ORDER BY opened_at DESC, number DESC`

func (q *Queries) ListPullRequests(ctx context.Context, repositoryID uuid.UUID) ([]model.PullRequest, error) {
	rows, err := q.db.Query(ctx, listPullRequests, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.PullRequest
	for rows.Next() {
		var pr model.PullRequest
		if err := rows.Scan(
			&pr.Number,
			&pr.Title,
			&pr.Body,
			&pr.State,
			&pr.Author,
			&pr.CreatedAt,
			&pr.UpdatedAt,
			&pr.MergedAt,
			&pr.ClosedAt,
			&pr.Additions,
			&pr.Deletions,
			&pr.ChangedFiles,
			&pr.Labels,
			&pr.Comments,
			&pr.CommitSHAs,
		); err != nil {
			return nil, err
		}
		pr.CreatedAt = pr.CreatedAt.UTC()
		pr.UpdatedAt = pr.UpdatedAt.UTC()
		items = append(items, pr)
	}
	return items, rows.Err()
}

const upsertIssue = `-- name: UpsertIssue :exec
INSERT INTO issues (
    repository_id, number, title, body, state, author, opened_at, updated_at, closed_at, labels, comments
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (repository_id, number) DO UPDATE SET
    title = EXCLUDED.title,
    body = EXCLUDED.body,
    state = EXCLUDED.state,
    author = EXCLUDED.author,
    opened_at = EXCLUDED.opened_at,
    updated_at = EXCLUDED.updated_at,
    closed_at = EXCLUDED.closed_at,
    labels = EXCLUDED.labels,
    comments = EXCLUDED.comments`

func (q *Queries) UpsertIssue(ctx context.Context, repositoryID uuid.UUID, is model.Issue) error {
	_, err := q.db.Exec(ctx, upsertIssue,
		repositoryID,
		is.Number,
		is.Title,
		is.Body,
		is.State,
		is.Author,
		is.CreatedAt,
		is.UpdatedAt,
		is.ClosedAt,
		jsonList(is.Labels),
		jsonList(is.Comments),
	)
	return err
}

const listIssues = `-- name: ListIssues :many
SELECT number, title, body, state, author, opened_at, updated_at, closed_at, labels, comments
FROM issues
WHERE repository_id = $1
ORDER BY opened_at DESC, number DESC`

func (q *Queries) ListIssues(ctx context.Context, repositoryID uuid.UUID) ([]model.Issue, error) {
	rows, err := q.db.Query(ctx, listIssues, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Issue
	for rows.Next() {
		var is model.Issue
		if err := rows.Scan(
			&is.Number,
			&is.Title,
			&is.Body,
			&is.State,
			&is.Author,
			&is.CreatedAt,
			&is.UpdatedAt,
			&is.ClosedAt,
			&is.Labels,
			&is.Comments,
		); err != nil {
			return nil, err
		}
		is.CreatedAt = is.CreatedAt.UTC()
		is.UpdatedAt = is.UpdatedAt.UTC()
		items = append(items, is)
	}
	return items, rows.Err()
}
