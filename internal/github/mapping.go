package github

import (
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v62/github"
	"k8s.io/utils/ptr"

	"commitsaga/internal/model"
)

// toInternalRepository translates a github.Repository object to our internal model.
func toInternalRepository(r *github.Repository) model.RepositoryMetadata {
	return model.RepositoryMetadata{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		Description:   r.GetDescription(),
		URL:           r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		StarsCount:    r.GetStargazersCount(),
		ForksCount:    r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
	}
}

func toInternalContributor(c *github.Contributor) model.Contributor {
	return model.Contributor{
		GithubUsername: c.GetLogin(),
		GithubID:       c.GetID(),
		AvatarURL:      c.GetAvatarURL(),
		Email:          c.GetEmail(),
	}
}

// toInternalCommit translates a github.RepositoryCommit. Stats and files are only
// present on single-commit responses; maxFiles caps the file list.
func toInternalCommit(c *github.RepositoryCommit, maxFiles int) model.Commit {
	commit := model.Commit{
		SHA:          c.GetSHA(),
		Message:      c.GetCommit().GetMessage(),
		AuthorName:   c.GetCommit().GetAuthor().GetName(),
		AuthorEmail:  c.GetCommit().GetAuthor().GetEmail(),
		AuthorLogin:  c.GetAuthor().GetLogin(),
		CommitDate:   c.GetCommit().GetAuthor().GetDate().Time.UTC(),
		Additions:    c.GetStats().GetAdditions(),
		Deletions:    c.GetStats().GetDeletions(),
		URL:          c.GetHTMLURL(),
		FilesChanged: []model.FileChange{},
	}
	for i, f := range c.Files {
		if i == maxFiles {
			break
		}
		commit.FilesChanged = append(commit.FilesChanged, model.FileChange{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}
	return commit
}

func toInternalPullRequest(pr *github.PullRequest) model.PullRequest {
	state := model.PullRequestState(pr.GetState())
	if pr.MergedAt != nil {
		state = model.PRMerged
	}
	return model.PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        state,
		Author:       pr.GetUser().GetLogin(),
		CreatedAt:    pr.GetCreatedAt().Time.UTC(),
		UpdatedAt:    pr.GetUpdatedAt().Time.UTC(),
		MergedAt:     timePtr(pr.MergedAt),
		ClosedAt:     timePtr(pr.ClosedAt),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		Labels:       labelNames(pr.Labels),
		Comments:     []model.Comment{},
		CommitSHAs:   []string{},
	}
}

func toInternalIssue(is *github.Issue) model.Issue {
	return model.Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		Body:      is.GetBody(),
		State:     model.IssueState(is.GetState()),
		Author:    is.GetUser().GetLogin(),
		CreatedAt: is.GetCreatedAt().Time.UTC(),
		UpdatedAt: is.GetUpdatedAt().Time.UTC(),
		ClosedAt:  timePtr(is.ClosedAt),
		Labels:    labelNames(is.Labels),
		Comments:  []model.Comment{},
	}
}

func toInternalComment(c *github.IssueComment, maxBody int) model.Comment {
	return model.Comment{
		Author:    c.GetUser().GetLogin(),
		Body:      truncate(c.GetBody(), maxBody),
		CreatedAt: c.GetCreatedAt().Time.UTC(),
	}
}

const maxLabels = 20

func labelNames(labels []*github.Label) []string {
	names := make([]string, 0, len(labels))
	for i, l := range labels {
		if i == maxLabels {
			break
		}
		names = append(names, l.GetName())
	}
	return names
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	return ptr.To(ts.Time.UTC())
}

// truncate cuts s to at most n characters. n <= 0 disables truncation.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
