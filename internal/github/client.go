package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

const (
	// maxRetries bounds attempts per request, including the first one.
	maxRetries              = 3
	defaultRetryDelay       = 500 * time.Millisecond
	defaultMaxRateLimitWait = 2 * time.Minute
	rateLimitBuffer         = 100 * time.Millisecond
	perPage                 = 100
)

// Client is a wrapper around the go-github client.
type Client struct {
	gh               *github.Client
	logger           *slog.Logger
	limiter          *rate.Limiter
	retryDelay       time.Duration
	maxRateLimitWait time.Duration
}

// Option configures a Client.
type Option func(*Client) error

// WithLimiter throttles every API call through l.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) error {
		c.limiter = l
		return nil
	}
}

// WithBaseURL points the client at a GitHub Enterprise API root or a test server.
func WithBaseURL(rawURL string) Option {
	return func(c *Client) error {
		u, err := url.Parse(strings.TrimSuffix(rawURL, "/") + "/")
		if err != nil {
			return err
		}
		c.gh.BaseURL = u
		return nil
	}
}

// WithMaxRateLimitWait sets how long the client sleeps for a rate limit reset before
// giving up and reporting a retryable error.
func WithMaxRateLimitWait(d time.Duration) Option {
	return func(c *Client) error {
		c.maxRateLimitWait = d
		return nil
	}
}

// WithRetryDelay sets the base delay between retries of server errors.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) error {
		c.retryDelay = d
		return nil
	}
}

// NewGitHubLimiter spreads requestsPerHour evenly across the hour.
func NewGitHubLimiter(requestsPerHour int) *rate.Limiter {
	if requestsPerHour <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := requestsPerHour / 50
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(requestsPerHour)), burst)
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client; an empty token
// leaves the client unauthenticated.
func NewClient(token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}

	c := &Client{
		gh:               github.NewClient(hc),
		logger:           logger,
		retryDelay:       defaultRetryDelay,
		maxRateLimitWait: defaultMaxRateLimitWait,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to configure github client: %w", err)
		}
	}
	return c, nil
}

// do runs call with rate limiting, bounded retries on server errors and waits for
// short rate limit windows. Whatever error remains is classified into a SourceError.
func (c *Client) do(ctx context.Context, op string, call func() (*github.Response, error)) error {
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &custom_errors.SourceError{Kind: custom_errors.SourceFailure, Op: op, Err: err}
			}
		}

		_, err := call()
		if err == nil {
			return nil
		}

		wait, ok := c.backoff(err, attempt)
		if !ok {
			return classify(op, err)
		}
		c.logger.Warn("Retrying GitHub request", "op", op, "attempt", attempt, "wait", wait.String(), "error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &custom_errors.SourceError{Kind: custom_errors.SourceFailure, Op: op, Err: ctx.Err()}
		}
	}
}

// backoff decides whether err is worth retrying in-process and for how long to wait.
func (c *Client) backoff(err error, attempt int) (time.Duration, bool) {
	if attempt >= maxRetries {
		return 0, false
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		wait := time.Until(rle.Rate.Reset.Time) + rateLimitBuffer
		if wait < rateLimitBuffer {
			wait = rateLimitBuffer
		}
		return wait, wait <= c.maxRateLimitWait
	}

	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		wait := time.Minute
		if d := arle.GetRetryAfter(); d > 0 {
			wait = d
		}
		return wait, wait <= c.maxRateLimitWait
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode >= http.StatusInternalServerError {
		return c.retryDelay * time.Duration(attempt), true
	}
	return 0, false
}

func classify(op string, err error) error {
	kind := custom_errors.SourceFailure

	var (
		rle  *github.RateLimitError
		arle *github.AbuseRateLimitError
		er   *github.ErrorResponse
	)
	switch {
	case errors.As(err, &rle), errors.As(err, &arle):
		kind = custom_errors.SourceRateLimited
	case errors.As(err, &er) && er.Response != nil:
		switch er.Response.StatusCode {
		case http.StatusTooManyRequests:
			kind = custom_errors.SourceRateLimited
		case http.StatusNotFound:
			kind = custom_errors.SourceNotFound
		}
	}
	return &custom_errors.SourceError{Kind: kind, Op: op, Err: err}
}

// collect pages through a list endpoint, converting items with conv until limit
// accepted items are gathered. conv returns false to skip an item. limit <= 0 means no limit.
func collect[T, U any](ctx context.Context, c *Client, op string, limit int, page func(github.ListOptions) ([]T, *github.Response, error), conv func(T) (U, bool)) ([]U, error) {
	var out []U
	opts := github.ListOptions{PerPage: perPage}

	for {
		c.logger.Debug("Fetching page", "op", op, "page", opts.Page)

		var (
			items []T
			resp  *github.Response
		)
		err := c.do(ctx, op, func() (*github.Response, error) {
			var err error
			items, resp, err = page(opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, it := range items {
			u, ok := conv(it)
			if !ok {
				continue
			}
			out = append(out, u)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}

		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetRepository fetches repository details and translates them to our internal model.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (model.RepositoryMetadata, error) {
	var repo *github.Repository
	err := c.do(ctx, "get repository", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		repo, resp, err = c.gh.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return model.RepositoryMetadata{}, err
	}
	return toInternalRepository(repo), nil
}

// ListContributors lists every contributor the host reports for the repository.
func (c *Client) ListContributors(ctx context.Context, owner, name string) ([]model.Contributor, error) {
	return collect(ctx, c, "list contributors", 0,
		func(lo github.ListOptions) ([]*github.Contributor, *github.Response, error) {
			return c.gh.Repositories.ListContributors(ctx, owner, name, &github.ListContributorsOptions{ListOptions: lo})
		},
		func(ct *github.Contributor) (model.Contributor, bool) {
			if ct.GetLogin() == "" {
				return model.Contributor{}, false
			}
			return toInternalContributor(ct), true
		})
}

// ListCommits returns up to limit commits on branch in the host's default (newest-first) order.
// File lists and line stats are not included; see GetCommit.
func (c *Client) ListCommits(ctx context.Context, owner, name, branch string, limit int) ([]model.Commit, error) {
	return collect(ctx, c, "list commits", limit,
		func(lo github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
			return c.gh.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{SHA: branch, ListOptions: lo})
		},
		func(rc *github.RepositoryCommit) (model.Commit, bool) {
			return toInternalCommit(rc, 0), true
		})
}

// GetCommit fetches a single commit with stats and at most maxFiles file entries.
func (c *Client) GetCommit(ctx context.Context, owner, name, sha string, maxFiles int) (model.Commit, error) {
	var rc *github.RepositoryCommit
	err := c.do(ctx, "get commit", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		rc, resp, err = c.gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
		return resp, err
	})
	if err != nil {
		return model.Commit{}, err
	}
	return toInternalCommit(rc, maxFiles), nil
}

// ListPullRequests returns up to limit pull requests in any state, most recently updated first.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string, limit int) ([]model.PullRequest, error) {
	return collect(ctx, c, "list pull requests", limit,
		func(lo github.ListOptions) ([]*github.PullRequest, *github.Response, error) {
			return c.gh.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
				State:       "all",
				Sort:        "updated",
				Direction:   "desc",
				ListOptions: lo,
			})
		},
		func(pr *github.PullRequest) (model.PullRequest, bool) {
			return toInternalPullRequest(pr), true
		})
}

// GetPullRequestStats returns additions, deletions and changed file counts, which the
// list endpoint does not include.
func (c *Client) GetPullRequestStats(ctx context.Context, owner, name string, number int) (additions, deletions, changedFiles int, err error) {
	var pr *github.PullRequest
	err = c.do(ctx, "get pull request", func() (*github.Response, error) {
		var resp *github.Response
		var gerr error
		pr, resp, gerr = c.gh.PullRequests.Get(ctx, owner, name, number)
		return resp, gerr
	})
	if err != nil {
		return 0, 0, 0, err
	}
	return pr.GetAdditions(), pr.GetDeletions(), pr.GetChangedFiles(), nil
}

// ListPullRequestCommitSHAs returns up to limit commit SHAs of a pull request.
func (c *Client) ListPullRequestCommitSHAs(ctx context.Context, owner, name string, number, limit int) ([]string, error) {
	return collect(ctx, c, "list pull request commits", limit,
		func(lo github.ListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
			return c.gh.PullRequests.ListCommits(ctx, owner, name, number, &lo)
		},
		func(rc *github.RepositoryCommit) (string, bool) {
			return rc.GetSHA(), rc.GetSHA() != ""
		})
}

// ListIssues returns up to limit issues in any state, most recently updated first. The
// issues endpoint also returns pull requests; those are skipped and do not count
// towards limit.
func (c *Client) ListIssues(ctx context.Context, owner, name string, limit int) ([]model.Issue, error) {
	return collect(ctx, c, "list issues", limit,
		func(lo github.ListOptions) ([]*github.Issue, *github.Response, error) {
			return c.gh.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
				State:       "all",
				Sort:        "updated",
				Direction:   "desc",
				ListOptions: lo,
			})
		},
		func(is *github.Issue) (model.Issue, bool) {
			if is.IsPullRequest() {
				return model.Issue{}, false
			}
			return toInternalIssue(is), true
		})
}

// ListComments returns up to limit discussion comments of an issue or pull request,
// each body truncated to maxBody characters.
func (c *Client) ListComments(ctx context.Context, owner, name string, number, limit, maxBody int) ([]model.Comment, error) {
	return collect(ctx, c, "list comments", limit,
		func(lo github.ListOptions) ([]*github.IssueComment, *github.Response, error) {
			return c.gh.Issues.ListComments(ctx, owner, name, number, &github.IssueListCommentsOptions{ListOptions: lo})
		},
		func(ic *github.IssueComment) (model.Comment, bool) {
			return toInternalComment(ic, maxBody), true
		})
}

// ListBranches lists the repository's branches.
func (c *Client) ListBranches(ctx context.Context, owner, name string) ([]model.Branch, error) {
	return collect(ctx, c, "list branches", 0,
		func(lo github.ListOptions) ([]*github.Branch, *github.Response, error) {
			return c.gh.Repositories.ListBranches(ctx, owner, name, &github.BranchListOptions{ListOptions: lo})
		},
		func(b *github.Branch) (model.Branch, bool) {
			return model.Branch{Name: b.GetName(), Protected: b.GetProtected()}, true
		})
}
