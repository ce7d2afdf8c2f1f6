// Package scoring derives contributor impact scores from activity counters.
package scoring

import (
	"math"
	"sort"
	"strings"

	"commitsaga/internal/model"
)

const (
	commitWeight      = 10
	additionsWeight   = 0.1
	additionsCap      = 500
	deletionsWeight   = 0.05
	deletionsCap      = 250
	prMergedWeight    = 50
	prOpenedWeight    = 20
	issueClosedWeight = 30
	issueOpenedWeight = 10
)

// ImpactScore computes the integer score for a contributor's activity. Line counts
// saturate so bulk or generated changes cannot outweigh review and issue work.
func ImpactScore(a model.ContributorActivity) int {
	score := float64(commitWeight * a.TotalCommits)
	score += math.Min(additionsWeight*float64(a.TotalAdditions), additionsCap)
	score += math.Min(deletionsWeight*float64(a.TotalDeletions), deletionsCap)
	score += float64(prMergedWeight * a.PRsMerged)
	score += float64(prOpenedWeight * a.PRsOpened)
	score += float64(issueClosedWeight * a.IssuesClosed)
	score += float64(issueOpenedWeight * a.IssuesOpened)
	return int(score)
}

// Aggregate recomputes every contributor's counters from the full dataset and
// re-derives the score. Counters are rebuilt from zero on every call.
func Aggregate(contributors []model.Contributor, commits []model.Commit, prs []model.PullRequest, issues []model.Issue) []model.Contributor {
	index := make(map[string]int, len(contributors))
	out := make([]model.Contributor, len(contributors))
	for i, c := range contributors {
		c.ContributorActivity = model.ContributorActivity{}
		out[i] = c
		index[strings.ToLower(c.GithubUsername)] = i
	}

	lookup := func(login string) (*model.Contributor, bool) {
		if login == "" {
			return nil, false
		}
		i, ok := index[strings.ToLower(login)]
		if !ok {
			return nil, false
		}
		return &out[i], true
	}

	for _, c := range commits {
		if ct, ok := lookup(c.AuthorLogin); ok {
			ct.TotalCommits++
			ct.TotalAdditions += c.Additions
			ct.TotalDeletions += c.Deletions
		}
	}
	for _, pr := range prs {
		if ct, ok := lookup(pr.Author); ok {
			ct.PRsOpened++
			if pr.State == model.PRMerged {
				ct.PRsMerged++
			}
		}
	}
	for _, is := range issues {
		if ct, ok := lookup(is.Author); ok {
			ct.IssuesOpened++
			if is.State == model.IssueClosed {
				ct.IssuesClosed++
			}
		}
	}

	for i := range out {
		out[i].ImpactScore = ImpactScore(out[i].ContributorActivity)
	}
	return out
}

// Top returns up to n contributors ordered by score, highest first. Ties break on username.
func Top(contributors []model.Contributor, n int) []model.Contributor {
	sorted := make([]model.Contributor, len(contributors))
	copy(sorted, contributors)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ImpactScore != sorted[j].ImpactScore {
			return sorted[i].ImpactScore > sorted[j].ImpactScore
		}
		return sorted[i].GithubUsername < sorted[j].GithubUsername
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
