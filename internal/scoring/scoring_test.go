package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commitsaga/internal/model"
)

func TestImpactScore_Example(t *testing.T) {
	score := ImpactScore(model.ContributorActivity{
		TotalCommits:   5,
		TotalAdditions: 3000,
		TotalDeletions: 100,
		PRsMerged:      2,
		PRsOpened:      1,
	})

	// 5*10 + min(3000*0.1, 500) + min(100*0.05, 250) + 2*50 + 1*20
	// = 50 + 300 + 5 + 100 + 20
	assert.Equal(t, 475, score)
}

func TestImpactScore_Saturation(t *testing.T) {
	base := model.ContributorActivity{TotalCommits: 3}

	a5k, a10k := base, base
	a5k.TotalAdditions = 5000
	a10k.TotalAdditions = 10000
	assert.Equal(t, ImpactScore(a5k), ImpactScore(a10k))
	assert.Equal(t, 30+500, ImpactScore(a10k))

	d5k, d50k := base, base
	d5k.TotalDeletions = 5000
	d50k.TotalDeletions = 50000
	assert.Equal(t, ImpactScore(d5k), ImpactScore(d50k))
	assert.Equal(t, 30+250, ImpactScore(d50k))
}

func TestImpactScore_Truncates(t *testing.T) {
	// 0.1*7 + 0.05*9 = 1.15
	assert.Equal(t, 1, ImpactScore(model.ContributorActivity{TotalAdditions: 7, TotalDeletions: 9}))
}

func TestImpactScore_Monotonic(t *testing.T) {
	fields := map[string]func(a *model.ContributorActivity, v int){
		"commits":       func(a *model.ContributorActivity, v int) { a.TotalCommits = v },
		"additions":     func(a *model.ContributorActivity, v int) { a.TotalAdditions = v },
		"deletions":     func(a *model.ContributorActivity, v int) { a.TotalDeletions = v },
		"prs_merged":    func(a *model.ContributorActivity, v int) { a.PRsMerged = v },
		"prs_opened":    func(a *model.ContributorActivity, v int) { a.PRsOpened = v },
		"issues_closed": func(a *model.ContributorActivity, v int) { a.IssuesClosed = v },
		"issues_opened": func(a *model.ContributorActivity, v int) { a.IssuesOpened = v },
	}

	for name, set := range fields {
		t.Run(name, func(t *testing.T) {
			a := model.ContributorActivity{TotalCommits: 2, TotalAdditions: 40, PRsOpened: 1}
			prev := -1
			for v := 0; v <= 12000; v += 37 {
				set(&a, v)
				s := ImpactScore(a)
				assert.GreaterOrEqual(t, s, prev)
				prev = s
			}
		})
	}
}

func TestAggregate_RecomputesFromScratch(t *testing.T) {
	contributors := []model.Contributor{
		{GithubUsername: "alice", ContributorActivity: model.ContributorActivity{TotalCommits: 999}, ImpactScore: 99999},
		{GithubUsername: "Bob"},
		{GithubUsername: "carol"},
	}
	commits := []model.Commit{
		{SHA: "1", AuthorLogin: "alice", Additions: 3000, Deletions: 100},
		{SHA: "2", AuthorLogin: "alice"},
		{SHA: "3", AuthorLogin: "alice"},
		{SHA: "4", AuthorLogin: "alice"},
		{SHA: "5", AuthorLogin: "alice"},
		{SHA: "6", AuthorLogin: "bob", Additions: 10},
		{SHA: "7", AuthorName: "No Login"},
	}
	prs := []model.PullRequest{
		{Number: 1, Author: "alice", State: model.PRMerged},
		{Number: 2, Author: "alice", State: model.PRMerged},
		{Number: 3, Author: "alice", State: model.PROpen},
		{Number: 4, Author: "stranger", State: model.PRMerged},
	}
	issues := []model.Issue{
		{Number: 10, Author: "carol", State: model.IssueClosed},
		{Number: 11, Author: "carol", State: model.IssueOpen},
	}

	out := Aggregate(contributors, commits, prs, issues)
	require.Len(t, out, 3)

	alice := out[0]
	assert.Equal(t, 5, alice.TotalCommits)
	assert.Equal(t, 3, alice.PRsOpened)
	assert.Equal(t, 2, alice.PRsMerged)
	// 50 + 300 + 5 + 100 + 60
	assert.Equal(t, 515, alice.ImpactScore)

	assert.Equal(t, 1, out[1].TotalCommits, "login matching is case-insensitive")
	assert.Equal(t, 11, out[1].ImpactScore)

	assert.Equal(t, 2, out[2].IssuesOpened)
	assert.Equal(t, 1, out[2].IssuesClosed)
	assert.Equal(t, 50, out[2].ImpactScore)

	assert.Equal(t, 999, contributors[0].TotalCommits, "input slice must not be mutated")
}

func TestTop(t *testing.T) {
	contributors := []model.Contributor{
		{GithubUsername: "b", ImpactScore: 10},
		{GithubUsername: "a", ImpactScore: 10},
		{GithubUsername: "c", ImpactScore: 30},
		{GithubUsername: "d", ImpactScore: 5},
	}

	top := Top(contributors, 3)

	require.Len(t, top, 3)
	assert.Equal(t, "c", top[0].GithubUsername)
	assert.Equal(t, "a", top[1].GithubUsername)
	assert.Equal(t, "b", top[2].GithubUsername)
}
