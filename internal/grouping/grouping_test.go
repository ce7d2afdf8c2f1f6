package grouping

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commitsaga/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFloorToPeriod(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		g    model.Granularity
		want time.Time
	}{
		{"wednesday floors to monday", time.Date(2024, 1, 3, 15, 30, 0, 0, time.UTC), model.Weekly, date(2024, 1, 1)},
		{"monday stays", date(2024, 1, 8), model.Weekly, date(2024, 1, 8)},
		{"sunday floors to previous monday", date(2024, 1, 14), model.Weekly, date(2024, 1, 8)},
		{"week crossing a year", date(2024, 1, 2), model.Weekly, date(2024, 1, 1)},
		{"week crossing a year back", date(2021, 1, 1), model.Weekly, date(2020, 12, 28)},
		{"month", date(2024, 2, 29), model.Monthly, date(2024, 2, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FloorToPeriod(tt.in, tt.g))
		})
	}
}

func TestBucketize_Weekly(t *testing.T) {
	buckets := Bucketize(date(2024, 1, 3), date(2024, 1, 10), model.Weekly)

	require.Len(t, buckets, 2)
	assert.Equal(t, Bucket{Start: date(2024, 1, 1), End: date(2024, 1, 7)}, buckets[0])
	assert.Equal(t, Bucket{Start: date(2024, 1, 8), End: date(2024, 1, 14)}, buckets[1])
}

func TestBucketize_MonthlyYearRollover(t *testing.T) {
	buckets := Bucketize(date(2023, 11, 20), date(2024, 2, 3), model.Monthly)

	require.Len(t, buckets, 4)
	assert.Equal(t, Bucket{Start: date(2023, 11, 1), End: date(2023, 11, 30)}, buckets[0])
	assert.Equal(t, Bucket{Start: date(2023, 12, 1), End: date(2023, 12, 31)}, buckets[1])
	assert.Equal(t, Bucket{Start: date(2024, 1, 1), End: date(2024, 1, 31)}, buckets[2])
	assert.Equal(t, Bucket{Start: date(2024, 2, 1), End: date(2024, 2, 29)}, buckets[3])
}

func TestBucketize_EndBeforeStart(t *testing.T) {
	assert.Nil(t, Bucketize(date(2024, 3, 1), date(2024, 2, 1), model.Weekly))
}

func TestBucketize_ContiguousAndSpanning(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	base := date(2019, 6, 1)

	for i := 0; i < 200; i++ {
		start := base.Add(time.Duration(r.Int63n(int64(900 * 24 * time.Hour))))
		end := start.Add(time.Duration(r.Int63n(int64(400 * 24 * time.Hour))))

		for _, g := range []model.Granularity{model.Weekly, model.Monthly} {
			buckets := Bucketize(start, end, g)
			require.NotEmpty(t, buckets)

			assert.Equal(t, FloorToPeriod(start, g), buckets[0].Start)
			assert.Equal(t, CeilToPeriod(end, g), buckets[len(buckets)-1].End)
			for j := 1; j < len(buckets); j++ {
				assert.Equal(t, buckets[j-1].End.AddDate(0, 0, 1), buckets[j].Start, "buckets must be contiguous")
			}
		}
	}
}

func TestAssign_EveryCommitExactlyOnce(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	base := date(2023, 1, 1)
	var commits []model.Commit
	for i := 0; i < 300; i++ {
		commits = append(commits, model.Commit{
			SHA:        fmt.Sprintf("sha-%03d", i),
			CommitDate: base.Add(time.Duration(r.Int63n(int64(500 * 24 * time.Hour)))),
		})
	}

	for _, g := range []model.Granularity{model.Weekly, model.Monthly} {
		assignments := Plan(commits, g)

		seen := map[string]int{}
		total := 0
		for _, a := range assignments {
			require.NotEmpty(t, a.Commits, "empty buckets must be dropped")
			for _, c := range a.Commits {
				assert.True(t, a.Contains(c.CommitDate))
				seen[c.SHA]++
			}
			total += len(a.Commits)
		}
		assert.Equal(t, len(commits), total)
		for sha, n := range seen {
			assert.Equal(t, 1, n, "commit %s assigned more than once", sha)
		}
	}
}

func TestPlan_DropsEmptyBuckets(t *testing.T) {
	commits := []model.Commit{
		{SHA: "a", CommitDate: date(2024, 1, 3)},
		{SHA: "b", CommitDate: date(2024, 3, 20)},
	}

	assignments := Plan(commits, model.Weekly)

	require.Len(t, assignments, 2)
	assert.Equal(t, date(2024, 1, 1), assignments[0].Start)
	assert.Equal(t, date(2024, 3, 18), assignments[1].Start)
}

func TestPlan_Empty(t *testing.T) {
	assert.Nil(t, Plan(nil, model.Weekly))
}

func TestPlan_NonUTCDates(t *testing.T) {
	// 2024-01-07 23:30 in UTC-5 is Monday 2024-01-08 in UTC.
	est := time.FixedZone("EST", -5*3600)
	commits := []model.Commit{{SHA: "a", CommitDate: time.Date(2024, 1, 7, 23, 30, 0, 0, est)}}

	assignments := Plan(commits, model.Weekly)

	require.Len(t, assignments, 1)
	assert.Equal(t, date(2024, 1, 8), assignments[0].Start)
}
