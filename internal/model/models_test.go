package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	custom_errors "commitsaga/internal/errors"
)

func TestParseGranularity(t *testing.T) {
	for in, want := range map[string]Granularity{"": Weekly, "weekly": Weekly, " Monthly ": Monthly, "WEEKLY": Weekly} {
		got, err := ParseGranularity(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseGranularity("daily")
	assert.ErrorIs(t, err, custom_errors.ErrInvalidGranularity)
}

func TestRepository_Branch(t *testing.T) {
	assert.Equal(t, "dev", Repository{SelectedBranch: "dev", DefaultBranch: "master"}.Branch())
	assert.Equal(t, "master", Repository{DefaultBranch: "master"}.Branch())
	assert.Equal(t, "main", Repository{}.Branch())
}

func TestRepository_InProgress(t *testing.T) {
	for status, want := range map[AnalysisStatus]bool{
		StatusPending:   false,
		StatusFetching:  true,
		StatusAnalyzing: true,
		StatusCompleted: false,
		StatusFailed:    false,
	} {
		assert.Equal(t, want, Repository{Status: status}.InProgress(), status)
	}
}

func TestRepository_GroupsStale(t *testing.T) {
	assert.False(t, Repository{DataVersion: 2, GroupedVersion: 2}.GroupsStale())
	assert.True(t, Repository{DataVersion: 3, GroupedVersion: 2}.GroupsStale())
}

func TestCommit_Author(t *testing.T) {
	assert.Equal(t, "alice", Commit{AuthorLogin: "alice", AuthorName: "Alice A."}.Author())
	assert.Equal(t, "Alice A.", Commit{AuthorName: "Alice A."}.Author())
}

func TestCommitGroup_Contains(t *testing.T) {
	g := CommitGroup{
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, g.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, g.Contains(time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC)))
	assert.False(t, g.Contains(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)))
	assert.False(t, g.Contains(time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)))
	// Converted to UTC before comparing.
	assert.True(t, g.Contains(time.Date(2024, 1, 8, 0, 30, 0, 0, time.FixedZone("CET", 3600))))
}
