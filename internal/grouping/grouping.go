// Package grouping partitions commits into calendar-aligned weekly or monthly buckets.
package grouping

import (
	"sort"
	"time"

	"commitsaga/internal/model"
)

// Bucket is an inclusive range of whole days, both ends at UTC midnight.
type Bucket struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls on a day within the bucket.
func (b Bucket) Contains(t time.Time) bool {
	d := day(t)
	return !d.Before(b.Start) && !d.After(b.End)
}

// Assignment is a non-empty bucket and the commits that fall into it.
type Assignment struct {
	Bucket
	Commits []model.Commit
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FloorToPeriod returns the first day of the period containing t: the Monday on or
// before t for weekly, day 1 of the month for monthly.
func FloorToPeriod(t time.Time, g model.Granularity) time.Time {
	d := day(t)
	if g == model.Monthly {
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// CeilToPeriod returns the last day of the period containing t.
func CeilToPeriod(t time.Time, g model.Granularity) time.Time {
	start := FloorToPeriod(t, g)
	if g == model.Monthly {
		return start.AddDate(0, 1, -1)
	}
	return start.AddDate(0, 0, 6)
}

// Bucketize returns the ordered, contiguous buckets spanning start through end.
// It returns nil when end is before start.
func Bucketize(start, end time.Time, g model.Granularity) []Bucket {
	last := day(end)
	cur := FloorToPeriod(start, g)
	if last.Before(day(start)) {
		return nil
	}

	var buckets []Bucket
	for !cur.After(last) {
		var b Bucket
		if g == model.Monthly {
			b = Bucket{Start: cur, End: cur.AddDate(0, 1, -1)}
			cur = cur.AddDate(0, 1, 0)
		} else {
			b = Bucket{Start: cur, End: cur.AddDate(0, 0, 6)}
			cur = cur.AddDate(0, 0, 7)
		}
		buckets = append(buckets, b)
	}
	return buckets
}

// Span returns the earliest and latest commit dates. ok is false for an empty slice.
func Span(commits []model.Commit) (start, end time.Time, ok bool) {
	for i, c := range commits {
		if i == 0 || c.CommitDate.Before(start) {
			start = c.CommitDate
		}
		if i == 0 || c.CommitDate.After(end) {
			end = c.CommitDate
		}
	}
	return start, end, len(commits) > 0
}

// Assign places every commit into the single bucket containing its date and drops
// buckets that end up empty. buckets must be sorted and non-overlapping, as returned
// by Bucketize. Commits outside every bucket are left out.
func Assign(commits []model.Commit, buckets []Bucket) []Assignment {
	out := make([]Assignment, len(buckets))
	for i, b := range buckets {
		out[i].Bucket = b
	}

	for _, c := range commits {
		d := day(c.CommitDate)
		i := sort.Search(len(buckets), func(i int) bool { return !buckets[i].End.Before(d) })
		if i < len(buckets) && buckets[i].Contains(d) {
			out[i].Commits = append(out[i].Commits, c)
		}
	}

	filtered := out[:0]
	for _, a := range out {
		if len(a.Commits) > 0 {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// Plan buckets the full commit set at the given granularity and assigns every commit.
func Plan(commits []model.Commit, g model.Granularity) []Assignment {
	start, end, ok := Span(commits)
	if !ok {
		return nil
	}
	return Assign(commits, Bucketize(start, end, g))
}
