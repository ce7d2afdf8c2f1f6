package database

import (
	"context"

	"github.com/google/uuid"

	"commitsaga/internal/model"
)

const upsertContributor = `-- name: UpsertContributor :exec
INSERT INTO contributors (repository_id, github_username, github_id, avatar_url, email)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (repository_id, github_username) DO UPDATE SET
    github_id = EXCLUDED.github_id,
    avatar_url = EXCLUDED.avatar_url,
    email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE contributors.email END,
    updated_at = now()`

// UpsertContributor writes identity fields only. Counters belong to scoring.
func (q *Queries) UpsertContributor(ctx context.Context, repositoryID uuid.UUID, c model.Contributor) error {
	_, err := q.db.Exec(ctx, upsertContributor,
		repositoryID,
		c.GithubUsername,
		c.GithubID,
		c.AvatarURL,
		c.Email,
	)
	return err
}

const listContributors = `-- name: ListContributors :many
SELECT id, repository_id, github_username, github_id, avatar_url, email,
    total_commits, total_additions, total_deletions, prs_opened, prs_merged,
    issues_opened, issues_closed, impact_score
FROM contributors
WHERE repository_id = $1
ORDER BY impact_score DESC, github_username`

func (q *Queries) ListContributors(ctx context.Context, repositoryID uuid.UUID) ([]model.Contributor, error) {
	rows, err := q.db.Query(ctx, listContributors, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Contributor
	for rows.Next() {
		var c model.Contributor
		if err := rows.Scan(
			&c.ID,
			&c.RepositoryID,
			&c.GithubUsername,
			&c.GithubID,
			&c.AvatarURL,
			&c.Email,
			&c.TotalCommits,
			&c.TotalAdditions,
			&c.TotalDeletions,
			&c.PRsOpened,
			&c.PRsMerged,
			&c.IssuesOpened,
			&c.IssuesClosed,
			&c.ImpactScore,
		); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const updateContributorStats = `-- name: UpdateContributorStats :exec
UPDATE contributors SET
    total_commits = $2,
    total_additions = $3,
    total_deletions = $4,
    prs_opened = $5,
    prs_merged = $6,
    issues_opened = $7,
    issues_closed = $8,
    impact_score = $9,
    updated_at = now()
WHERE id = $1`

// UpdateContributorStats overwrites every counter and the score of one contributor.
func (q *Queries) UpdateContributorStats(ctx context.Context, c model.Contributor) error {
	_, err := q.db.Exec(ctx, updateContributorStats,
		c.ID,
		c.TotalCommits,
		c.TotalAdditions,
		c.TotalDeletions,
		c.PRsOpened,
		c.PRsMerged,
		c.IssuesOpened,
		c.IssuesClosed,
		c.ImpactScore,
	)
	return err
}
