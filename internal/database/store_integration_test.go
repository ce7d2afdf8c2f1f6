//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

func setupStore(ctx context.Context, t *testing.T) Store {
	t.Helper()
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("commitsaga"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrator, err := NewMigrator(pool)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	// A second Up is a no-op.
	require.NoError(t, migrator.Up())

	return NewStore(pool)
}

func day(s string) time.Time {
	d, _ := time.Parse(time.DateOnly, s)
	return d
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	store := setupStore(ctx, t)

	repo, err := store.CreateRepository(ctx, CreateRepositoryParams{ID: uuid.New(), Owner: "octo", Name: "saga"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, repo.Status)

	t.Run("registration is keyed by owner and name", func(t *testing.T) {
		again, err := store.CreateRepository(ctx, CreateRepositoryParams{ID: uuid.New(), Owner: "octo", Name: "saga", SelectedBranch: "dev"})
		require.NoError(t, err)
		assert.Equal(t, repo.ID, again.ID)
		assert.Empty(t, again.SelectedBranch, "re-registration keeps the branch")

		_, err = store.GetRepository(ctx, uuid.New())
		assert.ErrorIs(t, err, custom_errors.ErrRepositoryNotFound)
	})

	t.Run("upserts are idempotent", func(t *testing.T) {
		require.NoError(t, store.UpsertContributor(ctx, repo.ID, model.Contributor{GithubUsername: "alice", GithubID: 1}))
		commits := []model.Commit{
			{SHA: "a1", Message: "first", AuthorLogin: "Alice", CommitDate: day("2024-01-03"), FilesChanged: []model.FileChange{{Filename: "a.go"}}},
			{SHA: "b2", Message: "second", AuthorName: "bob", CommitDate: day("2024-01-10")},
		}
		for range 2 {
			for _, c := range commits {
				require.NoError(t, store.UpsertCommit(ctx, repo.ID, c))
			}
			require.NoError(t, store.UpsertPullRequest(ctx, repo.ID, model.PullRequest{
				Number: 7, Title: "feat", State: model.PRMerged, Author: "alice",
				CreatedAt: day("2024-01-04"), UpdatedAt: day("2024-01-05"),
			}))
			require.NoError(t, store.UpsertIssue(ctx, repo.ID, model.Issue{
				Number: 8, Title: "bug", State: model.IssueClosed, Author: "alice",
				CreatedAt: day("2024-01-04"), UpdatedAt: day("2024-01-05"),
			}))
		}
		count, err := store.CountCommits(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		stored, err := store.ListCommits(ctx, repo.ID)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "a1", stored[0].SHA)
		assert.Len(t, stored[0].FilesChanged, 1)
		assert.Empty(t, stored[1].FilesChanged)

		prs, err := store.ListPullRequests(ctx, repo.ID)
		require.NoError(t, err)
		require.Len(t, prs, 1)
		assert.Equal(t, []string{}, prs[0].Labels)

		issues, err := store.ListIssues(ctx, repo.ID)
		require.NoError(t, err)
		assert.Len(t, issues, 1)
	})

	t.Run("group rebuild runs in one transaction", func(t *testing.T) {
		build := func(q Querier) error {
			if _, err := q.DeleteCommitGroups(ctx, repo.ID); err != nil {
				return err
			}
			g, err := q.CreateCommitGroup(ctx, CreateCommitGroupParams{
				RepositoryID: repo.ID, Granularity: model.Weekly,
				StartDate: day("2024-01-01"), EndDate: day("2024-01-07"), CommitCount: 1,
			})
			if err != nil {
				return err
			}
			_, err = q.AssignCommitsToGroup(ctx, g.ID, []string{"a1"})
			return err
		}
		require.NoError(t, store.ExecTx(ctx, build))
		require.NoError(t, store.ExecTx(ctx, build))

		groups, err := store.ListCommitGroups(ctx, repo.ID)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, day("2024-01-01"), groups[0].StartDate)
		assert.Equal(t, []string{}, groups[0].KeyChanges)

		failing := func(q Querier) error {
			if _, err := q.DeleteCommitGroups(ctx, repo.ID); err != nil {
				return err
			}
			return &custom_errors.DataIntegrityError{Op: "test", Detail: "abort"}
		}
		require.Error(t, store.ExecTx(ctx, failing))
		groups, err = store.ListCommitGroups(ctx, repo.ID)
		require.NoError(t, err)
		assert.Len(t, groups, 1, "rolled back delete keeps the old groups")

		require.NoError(t, store.UpdateCommitGroupSummary(ctx, groups[0].ID, model.BucketSummary{Summary: "s", KeyChanges: []string{"k"}}))
		groups, err = store.ListCommitGroups(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, "s", groups[0].Summary)
		assert.Equal(t, []string{"k"}, groups[0].KeyChanges)
		assert.NotNil(t, groups[0].AnalyzedAt)

		commits, err := store.ListCommits(ctx, repo.ID)
		require.NoError(t, err)
		require.NotNil(t, commits[0].CommitGroupID)
		assert.Equal(t, groups[0].ID, *commits[0].CommitGroupID)
		assert.Nil(t, commits[1].CommitGroupID)
	})

	t.Run("pending reset refuses runs in progress", func(t *testing.T) {
		require.NoError(t, store.SetRepositoryStatus(ctx, repo.ID, model.StatusAnalyzing, ""))
		n, err := store.MarkRepositoryPending(ctx, repo.ID, "dev")
		require.NoError(t, err)
		assert.Zero(t, n)
		running, err := store.GetRepository(ctx, repo.ID)
		require.NoError(t, err)
		assert.Empty(t, running.SelectedBranch)

		require.NoError(t, store.SetRepositoryStatus(ctx, repo.ID, model.StatusFailed, "boom"))
		n, err = store.MarkRepositoryPending(ctx, repo.ID, "dev")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		version, err := store.CompleteIngestion(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
		require.NoError(t, store.CompleteAnalysis(ctx, repo.ID))

		got, err := store.GetRepository(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.Status)
		assert.Equal(t, "dev", got.SelectedBranch)
		assert.Empty(t, got.LastError)
		assert.NotNil(t, got.LastAnalyzedAt)
	})

	t.Run("overall summary is one row per repository", func(t *testing.T) {
		_, err := store.GetOverallSummary(ctx, repo.ID)
		assert.ErrorIs(t, err, ErrNoSummary)

		for _, text := range []string{"first", "second"} {
			require.NoError(t, store.UpsertOverallSummary(ctx, model.OverallSummary{
				RepositoryID: repo.ID,
				Summary:      text,
				Stats:        model.RepositoryStats{TotalCommits: 2},
				GeneratedAt:  time.Now().UTC(),
			}))
		}
		got, err := store.GetOverallSummary(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, "second", got.Summary)
		assert.Equal(t, 2, got.Stats.TotalCommits)
	})
}
