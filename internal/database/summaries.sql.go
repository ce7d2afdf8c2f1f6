package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"commitsaga/internal/model"
)

// ErrNoSummary is returned when a repository has no overall summary yet.
var ErrNoSummary = errors.New("no overall summary")

const upsertOverallSummary = `-- name: UpsertOverallSummary :exec
INSERT INTO overall_summaries (repository_id, summary, stats, period_start, period_end, generated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (repository_id) DO UPDATE SET
    summary = EXCLUDED.summary,
    stats = EXCLUDED.stats,
    period_start = EXCLUDED.period_start,
    period_end = EXCLUDED.period_end,
    generated_at = EXCLUDED.generated_at`

func (q *Queries) UpsertOverallSummary(ctx context.Context, s model.OverallSummary) error {
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, upsertOverallSummary,
		s.RepositoryID,
		s.Summary,
		stats,
		s.PeriodStart,
		s.PeriodEnd,
		s.GeneratedAt,
	)
	return err
}

const getOverallSummary = `-- name: GetOverallSummary :one
SELECT repository_id, summary, stats, period_start, period_end, generated_at
FROM overall_summaries
WHERE repository_id = $1`

func (q *Queries) GetOverallSummary(ctx context.Context, repositoryID uuid.UUID) (model.OverallSummary, error) {
	var s model.OverallSummary
	err := q.db.QueryRow(ctx, getOverallSummary, repositoryID).Scan(
		&s.RepositoryID,
		&s.Summary,
		&s.Stats,
		&s.PeriodStart,
		&s.PeriodEnd,
		&s.GeneratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, ErrNoSummary
	}
	return s, err
}
