package narrative

import (
	"fmt"
	"strings"
	"time"

	"commitsaga/internal/model"
)

// Sample sizes and output budgets for generator calls.
const (
	MaxPromptCommits      = 50
	MaxPromptPullRequests = 20
	MaxPromptIssues       = 20
	MaxOverallGroups      = 12
	MaxTopContributors    = 10
	MaxOutputTokens       = 10000

	maxPromptMessage = 200
	dateLayout       = "2006-01-02"
)

// BucketInput is the bounded context for one commit group.
type BucketInput struct {
	Start        time.Time
	End          time.Time
	TotalCommits int
	Commits      []model.Commit
	PullRequests []model.PullRequest
	Issues       []model.Issue
}

// BucketPrompt asks for a strict-JSON analysis of one commit group.
func BucketPrompt(in BucketInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this group of commits from %s to %s:\n\n", in.Start.Format(dateLayout), in.End.Format(dateLayout))

	fmt.Fprintf(&b, "## Commits (%d total):\n", in.TotalCommits)
	for i, c := range in.Commits {
		if i == MaxPromptCommits {
			break
		}
		msg := truncate(firstLine(c.Message), maxPromptMessage)
		fmt.Fprintf(&b, "- %s: %s (by %s)\n", shortSHA(c.SHA), msg, c.Author())
	}

	b.WriteString("\n## Related Pull Requests:\n")
	if len(in.PullRequests) == 0 {
		b.WriteString("No pull requests in this period\n")
	}
	for i, pr := range in.PullRequests {
		if i == MaxPromptPullRequests {
			break
		}
		fmt.Fprintf(&b, "- PR #%d: %s (%s) by %s\n", pr.Number, pr.Title, pr.State, pr.Author)
	}

	b.WriteString("\n## Related Issues:\n")
	if len(in.Issues) == 0 {
		b.WriteString("No issues in this period\n")
	}
	for i, is := range in.Issues {
		if i == MaxPromptIssues {
			break
		}
		fmt.Fprintf(&b, "- Issue #%d: %s (%s)\n", is.Number, is.Title, is.State)
	}

	b.WriteString(`
Provide a structured analysis. Respond with valid JSON only, no markdown:
{
  "summary": "Brief 2-3 sentence summary of what was accomplished",
  "key_changes": ["change 1", "change 2"],
  "notable_features": ["feature 1"],
  "bug_fixes": ["fix 1"],
  "technical_decisions": ["decision 1"],
  "main_contributors": ["username1", "username2"]
}

Keep each list to at most 5 items. Focus on the most important changes.`)
	return b.String()
}

// OverallInput is the context for the repository-level narrative.
type OverallInput struct {
	Repository      string
	Stats           model.RepositoryStats
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Groups          []model.CommitGroup
	TopContributors []model.Contributor
}

// OverallPrompt asks for free-form prose describing the repository's history.
func OverallPrompt(in OverallInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a comprehensive summary for the GitHub repository: %s\n\n", in.Repository)

	b.WriteString("## Repository Statistics:\n")
	fmt.Fprintf(&b, "- Total Commits: %d\n", in.Stats.TotalCommits)
	fmt.Fprintf(&b, "- Total Contributors: %d\n", in.Stats.TotalContributors)
	fmt.Fprintf(&b, "- Pull Requests: %d\n", in.Stats.TotalPullRequests)
	fmt.Fprintf(&b, "- Issues: %d\n", in.Stats.TotalIssues)
	fmt.Fprintf(&b, "- Analysis Period: %s to %s\n", in.PeriodStart.Format(dateLayout), in.PeriodEnd.Format(dateLayout))

	b.WriteString("\n## Period Summaries:\n")
	for i, g := range in.Groups {
		if i == MaxOverallGroups {
			break
		}
		fmt.Fprintf(&b, "### %s to %s\n%s\n\n", g.StartDate.Format(dateLayout), g.EndDate.Format(dateLayout), g.Summary)
	}

	b.WriteString("## Top Contributors:\n")
	for i, c := range in.TopContributors {
		if i == MaxTopContributors {
			break
		}
		fmt.Fprintf(&b, "- %s: %d commits, impact score: %d\n", c.GithubUsername, c.TotalCommits, c.ImpactScore)
	}

	b.WriteString(`
Write a comprehensive but concise summary (3-5 paragraphs) that covers:
1. The main purpose and focus of recent development
2. Key features and improvements made
3. Notable bug fixes and technical decisions
4. Team dynamics and contributor highlights
5. Overall project health and momentum

Write in a professional, informative tone. Do not answer in JSON.`)
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
