package database

import (
	"context"

	"github.com/google/uuid"

	"commitsaga/internal/model"
)

const upsertCommit = `-- name: UpsertCommit :exec
INSERT INTO commits (
    repository_id, contributor_id, sha, message, author_name, author_email, author_login,
    commit_date, additions, deletions, files_changed, url
) VALUES (
    $1,
    (SELECT id FROM contributors
      WHERE repository_id = $1 AND $6 <> '' AND lower(github_username) = lower($6)
      LIMIT 1),
    $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (repository_id, sha) DO UPDATE SET
    contributor_id = EXCLUDED.contributor_id,
    message = EXCLUDED.message,
    author_name = EXCLUDED.author_name,
    author_email = EXCLUDED.author_email,
    author_login = EXCLUDED.author_login,
    commit_date = EXCLUDED.commit_date,
    additions = EXCLUDED.additions,
    deletions = EXCLUDED.deletions,
    files_changed = EXCLUDED.files_changed,
    url = EXCLUDED.url`

// UpsertCommit keys on (repository, sha) and links the commit to a known contributor by login.
// The group assignment is left untouched.
func (q *Queries) UpsertCommit(ctx context.Context, repositoryID uuid.UUID, c model.Commit) error {
	_, err := q.db.Exec(ctx, upsertCommit,
		repositoryID,
		c.SHA,
		c.Message,
		c.AuthorName,
		c.AuthorEmail,
		c.AuthorLogin,
		c.CommitDate,
		c.Additions,
		c.Deletions,
		jsonList(c.FilesChanged),
		c.URL,
	)
	return err
}

const listCommits = `-- name: ListCommits :many
SELECT sha, message, author_name, author_email, author_login, commit_date,
    additions, deletions, files_changed, url, commit_group_id
FROM commits
WHERE repository_id = $1
ORDER BY commit_date, sha`

func (q *Queries) ListCommits(ctx context.Context, repositoryID uuid.UUID) ([]model.Commit, error) {
	rows, err := q.db.Query(ctx, listCommits, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Commit
	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(
			&c.SHA,
			&c.Message,
			&c.AuthorName,
			&c.AuthorEmail,
			&c.AuthorLogin,
			&c.CommitDate,
			&c.Additions,
			&c.Deletions,
			&c.FilesChanged,
			&c.URL,
			&c.CommitGroupID,
		); err != nil {
			return nil, err
		}
		c.CommitDate = c.CommitDate.UTC()
		items = append(items, c)
	}
	return items, rows.Err()
}

const countCommits = `-- name: CountCommits :one
SELECT count(*) FROM commits WHERE repository_id = $1`

func (q *Queries) CountCommits(ctx context.Context, repositoryID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countCommits, repositoryID).Scan(&count)
	return count, err
}
