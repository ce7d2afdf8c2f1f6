package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	custom_errors "commitsaga/internal/errors"
)

// AnalysisStatus is the pipeline state of a repository.
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusFetching  AnalysisStatus = "fetching"
	StatusAnalyzing AnalysisStatus = "analyzing"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// Granularity is the bucketing period used when grouping commits.
type Granularity string

const (
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ParseGranularity accepts "weekly" or "monthly" (case-insensitive). An empty string means weekly.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	default:
		return "", fmt.Errorf("%w: %q, expected 'weekly' or 'monthly'", custom_errors.ErrInvalidGranularity, s)
	}
}

// Repository is a registered repository and its pipeline state.
type Repository struct {
	ID             uuid.UUID      `json:"id"`
	Owner          string         `json:"owner"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	URL            string         `json:"url,omitempty"`
	DefaultBranch  string         `json:"default_branch"`
	SelectedBranch string         `json:"selected_branch,omitempty"`
	StarsCount     int            `json:"stars_count"`
	ForksCount     int            `json:"forks_count"`
	OpenIssues     int            `json:"open_issues_count"`
	Status         AnalysisStatus `json:"analysis_status"`
	LastError      string         `json:"analysis_error,omitempty"`
	LastAnalyzedAt *time.Time     `json:"last_analyzed_at,omitempty"`
	// DataVersion is bumped each time ingestion completes; GroupedVersion records
	// which DataVersion the current commit groups were built from.
	DataVersion    int64        `json:"data_version"`
	GroupedVersion int64        `json:"grouped_version"`
	CronEnabled    bool         `json:"cron_enabled"`
	CronFrequency  *Granularity `json:"cron_frequency,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Branch returns the selected branch, falling back to the default branch.
func (r Repository) Branch() string {
	if r.SelectedBranch != "" {
		return r.SelectedBranch
	}
	if r.DefaultBranch != "" {
		return r.DefaultBranch
	}
	return "main"
}

// InProgress reports whether a pipeline run currently owns the repository.
func (r Repository) InProgress() bool {
	return r.Status == StatusFetching || r.Status == StatusAnalyzing
}

// GroupsStale reports whether commit groups were built from an older ingestion.
func (r Repository) GroupsStale() bool {
	return r.GroupedVersion != r.DataVersion
}

// RepositoryMetadata is the host's view of a repository, refreshed on every ingestion.
type RepositoryMetadata struct {
	Owner         string
	Name          string
	Description   string
	URL           string
	DefaultBranch string
	StarsCount    int
	ForksCount    int
	OpenIssues    int
}

// Contributor is unique per repository and username.
type Contributor struct {
	ID             int64     `json:"-"`
	RepositoryID   uuid.UUID `json:"-"`
	GithubUsername string    `json:"github_username"`
	GithubID       int64     `json:"github_id,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	Email          string    `json:"email,omitempty"`
	ContributorActivity
	ImpactScore int `json:"impact_score"`
}

// ContributorActivity holds the aggregated counters used for scoring.
type ContributorActivity struct {
	TotalCommits   int `json:"total_commits"`
	TotalAdditions int `json:"total_additions"`
	TotalDeletions int `json:"total_deletions"`
	PRsOpened      int `json:"prs_opened"`
	PRsMerged      int `json:"prs_merged"`
	IssuesOpened   int `json:"issues_opened"`
	IssuesClosed   int `json:"issues_closed"`
}

// FileChange is one entry of a commit's (truncated) file list.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Commit is unique per repository and SHA.
type Commit struct {
	SHA           string       `json:"sha"`
	Message       string       `json:"message"`
	AuthorName    string       `json:"author_name"`
	AuthorEmail   string       `json:"author_email,omitempty"`
	AuthorLogin   string       `json:"author_login,omitempty"`
	CommitDate    time.Time    `json:"commit_date"`
	Additions     int          `json:"additions"`
	Deletions     int          `json:"deletions"`
	FilesChanged  []FileChange `json:"files_changed"`
	URL           string       `json:"url,omitempty"`
	CommitGroupID *int64       `json:"commit_group_id,omitempty"`
}

// Author returns the login when known, otherwise the git author name.
func (c Commit) Author() string {
	if c.AuthorLogin != "" {
		return c.AuthorLogin
	}
	return c.AuthorName
}

type PullRequestState string

const (
	PROpen   PullRequestState = "open"
	PRClosed PullRequestState = "closed"
	PRMerged PullRequestState = "merged"
)

type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// Comment is one entry of a pull request or issue discussion, body already truncated.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// PullRequest is unique per repository and number.
type PullRequest struct {
	Number       int              `json:"number"`
	Title        string           `json:"title"`
	Body         string           `json:"body,omitempty"`
	State        PullRequestState `json:"state"`
	Author       string           `json:"author"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	MergedAt     *time.Time       `json:"merged_at,omitempty"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	Additions    int              `json:"additions"`
	Deletions    int              `json:"deletions"`
	ChangedFiles int              `json:"changed_files"`
	Labels       []string         `json:"labels"`
	Comments     []Comment        `json:"comments"`
	CommitSHAs   []string         `json:"commit_shas"`
}

// Issue is unique per repository and number. Pull-request-backed issues never reach this type.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	State     IssueState `json:"state"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Labels    []string   `json:"labels"`
	Comments  []Comment  `json:"comments"`
}

// BucketSummary holds the generated fields of a commit group.
type BucketSummary struct {
	Summary            string   `json:"summary"`
	KeyChanges         []string `json:"key_changes"`
	NotableFeatures    []string `json:"notable_features"`
	BugFixes           []string `json:"bug_fixes"`
	TechnicalDecisions []string `json:"technical_decisions"`
	MainContributors   []string `json:"main_contributors"`
}

// CommitGroup is one calendar-aligned bucket. StartDate and EndDate are inclusive days (UTC midnight).
type CommitGroup struct {
	ID           int64       `json:"id"`
	RepositoryID uuid.UUID   `json:"repository_id"`
	Granularity  Granularity `json:"group_type"`
	StartDate    time.Time   `json:"start_date"`
	EndDate      time.Time   `json:"end_date"`
	CommitCount  int         `json:"commit_count"`
	BucketSummary
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

// Contains reports whether t falls on a day inside the group.
func (g CommitGroup) Contains(t time.Time) bool {
	d := t.UTC()
	return !d.Before(g.StartDate) && d.Before(g.EndDate.AddDate(0, 0, 1))
}

// RepositoryStats is the snapshot stored with an overall summary.
type RepositoryStats struct {
	TotalCommits      int `json:"total_commits"`
	TotalContributors int `json:"total_contributors"`
	TotalPullRequests int `json:"total_prs"`
	TotalIssues       int `json:"total_issues"`
	TotalGroups       int `json:"total_groups"`
}

// OverallSummary is the repository-level narrative, at most one per repository.
type OverallSummary struct {
	RepositoryID uuid.UUID       `json:"repository_id"`
	Summary      string          `json:"summary"`
	Stats        RepositoryStats `json:"stats"`
	PeriodStart  *time.Time      `json:"period_start,omitempty"`
	PeriodEnd    *time.Time      `json:"period_end,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Branch is a branch listed from the host.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
	IsDefault bool   `json:"is_default"`
}
