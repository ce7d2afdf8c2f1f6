package database

import (
	"context"

	"github.com/google/uuid"

	"commitsaga/internal/model"
)

type Querier interface {
	// Repositories
	CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error)
	GetRepository(ctx context.Context, id uuid.UUID) (model.Repository, error)
	GetRepositoryByOwnerAndName(ctx context.Context, owner, name string) (model.Repository, error)
	ListRepositories(ctx context.Context) ([]model.Repository, error)
	ListScheduledRepositories(ctx context.Context) ([]model.Repository, error)
	UpdateRepositoryMetadata(ctx context.Context, id uuid.UUID, meta model.RepositoryMetadata) error
	UpdateRepositorySchedule(ctx context.Context, arg UpdateRepositoryScheduleParams) error
	SetRepositoryStatus(ctx context.Context, id uuid.UUID, status model.AnalysisStatus, lastError string) error
	// MarkRepositoryPending resets a repository that is not fetching or analyzing.
	// It returns the number of rows changed, zero when a run already owns it.
	MarkRepositoryPending(ctx context.Context, id uuid.UUID, branch string) (int64, error)
	// CompleteIngestion bumps data_version and returns the new value.
	CompleteIngestion(ctx context.Context, id uuid.UUID) (int64, error)
	SetGroupedVersion(ctx context.Context, id uuid.UUID, version int64) error
	CompleteAnalysis(ctx context.Context, id uuid.UUID) error

	// Contributors
	UpsertContributor(ctx context.Context, repositoryID uuid.UUID, c model.Contributor) error
	ListContributors(ctx context.Context, repositoryID uuid.UUID) ([]model.Contributor, error)
	UpdateContributorStats(ctx context.Context, c model.Contributor) error

	// Commits
	UpsertCommit(ctx context.Context, repositoryID uuid.UUID, c model.Commit) error
	ListCommits(ctx context.Context, repositoryID uuid.UUID) ([]model.Commit, error)
	CountCommits(ctx context.Context, repositoryID uuid.UUID) (int64, error)

	// Pull requests and issues
	UpsertPullRequest(ctx context.Context, repositoryID uuid.UUID, pr model.PullRequest) error
	ListPullRequests(ctx context.Context, repositoryID uuid.UUID) ([]model.PullRequest, error)
	UpsertIssue(ctx context.Context, repositoryID uuid.UUID, is model.Issue) error
	ListIssues(ctx context.Context, repositoryID uuid.UUID) ([]model.Issue, error)

	// Commit groups
	DeleteCommitGroups(ctx context.Context, repositoryID uuid.UUID) (int64, error)
	CreateCommitGroup(ctx context.Context, arg CreateCommitGroupParams) (model.CommitGroup, error)
	AssignCommitsToGroup(ctx context.Context, groupID int64, shas []string) (int64, error)
	ListCommitGroups(ctx context.Context, repositoryID uuid.UUID) ([]model.CommitGroup, error)
	UpdateCommitGroupSummary(ctx context.Context, groupID int64, summary model.BucketSummary) error

	// Overall summaries
	UpsertOverallSummary(ctx context.Context, s model.OverallSummary) error
	GetOverallSummary(ctx context.Context, repositoryID uuid.UUID) (model.OverallSummary, error)
}

var _ Querier = (*Queries)(nil)
