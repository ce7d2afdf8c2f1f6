package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

var testModels = models{fast: "fast-model", quality: "quality-model"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoop(t *testing.T) {
	_, err := Noop{}.Complete(context.Background(), "prompt", 10, TierFast)
	assert.ErrorIs(t, err, custom_errors.ErrGeneratorUnavailable)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("none yields noop", func(t *testing.T) {
		g, err := New(ctx, Config{Provider: "none"}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, Noop{}, g)
	})

	t.Run("empty provider yields noop", func(t *testing.T) {
		g, err := New(ctx, Config{}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, Noop{}, g)
	})

	t.Run("missing key is an error", func(t *testing.T) {
		_, err := New(ctx, Config{Provider: "anthropic"}, discardLogger())
		assert.ErrorIs(t, err, custom_errors.ErrGeneratorUnavailable)
	})

	t.Run("unknown provider is an error", func(t *testing.T) {
		_, err := New(ctx, Config{Provider: "mystery", APIKey: "k"}, discardLogger())
		assert.ErrorIs(t, err, custom_errors.ErrGeneratorUnavailable)
	})

	t.Run("anthropic with model overrides", func(t *testing.T) {
		g, err := New(ctx, Config{Provider: "Anthropic", APIKey: "k", FastModel: "f"}, discardLogger())
		require.NoError(t, err)
		a, ok := g.(*Anthropic)
		require.True(t, ok)
		assert.Equal(t, "f", a.models.fast)
		assert.Equal(t, defaultModels[ProviderAnthropic].quality, a.models.quality)
	})

	t.Run("rate limited provider is wrapped", func(t *testing.T) {
		g, err := New(ctx, Config{Provider: "openai", APIKey: "k", RequestsPerMinute: 30}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &Limited{}, g)
	})
}

type countingGenerator struct {
	calls int32
}

func (c *countingGenerator) Complete(context.Context, string, int, Tier) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return "ok", nil
}

func TestLimited(t *testing.T) {
	next := &countingGenerator{}
	l := NewLimited(next, rate.NewLimiter(rate.Every(time.Hour), 1))

	out, err := l.Complete(context.Background(), "p", 1, TierFast)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Complete(ctx, "p", 1, TierFast)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&next.calls))
}

func TestNewLimiter(t *testing.T) {
	for _, perMinute := range []int{0, -5} {
		var l *rate.Limiter
		require.NotPanics(t, func() { l = NewLimiter(perMinute) })
		assert.Equal(t, rate.Inf, l.Limit())
		assert.True(t, l.AllowN(time.Now(), 1000))
	}

	l := NewLimiter(60)
	assert.Equal(t, rate.Limit(1), l.Limit())
	assert.Equal(t, 6, l.Burst())

	assert.Equal(t, 1, NewLimiter(5).Burst())
}

func TestAnthropic_Complete(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"content":[{"type":"text","text":"  part one "},{"type":"tool_use"},{"type":"text","text":"part two  "}]}`)
	}))
	defer server.Close()

	a := NewAnthropic("secret", testModels, WithAnthropicBaseURL(server.URL+"/"))
	out, err := a.Complete(context.Background(), "hello", 1234, TierQuality)

	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
	assert.Equal(t, "quality-model", got.Model)
	assert.Equal(t, 1234, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestAnthropic_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"bad key"}}`)
	}))
	defer server.Close()

	a := NewAnthropic("bad", testModels, WithAnthropicBaseURL(server.URL))
	_, err := a.Complete(context.Background(), "hello", 10, TierFast)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAI_Complete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"fast-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" {\"summary\":\"x\"} "}}]}`)
	}))
	defer server.Close()

	o := NewOpenAI("key", server.URL, testModels, option.WithMaxRetries(0))
	out, err := o.Complete(context.Background(), "hi", 500, TierFast)

	require.NoError(t, err)
	assert.Equal(t, `{"summary":"x"}`, out)
	assert.Equal(t, "fast-model", body["model"])
}

func TestOpenAI_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota","type":"insufficient_quota"}}`)
	}))
	defer server.Close()

	o := NewOpenAI("key", server.URL, testModels, option.WithMaxRetries(0))
	_, err := o.Complete(context.Background(), "hi", 500, TierFast)

	require.Error(t, err)
	assert.False(t, errors.Is(err, custom_errors.ErrGeneratorUnavailable))
}

func TestBucketPrompt(t *testing.T) {
	var commits []model.Commit
	for i := 0; i < 60; i++ {
		commits = append(commits, model.Commit{
			SHA:         fmt.Sprintf("abcdef1234%03d", i),
			Message:     fmt.Sprintf("commit %d\n\nlong body", i),
			AuthorLogin: "alice",
		})
	}
	in := BucketInput{
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
		TotalCommits: 60,
		Commits:      commits,
		PullRequests: []model.PullRequest{{Number: 7, Title: "Add login", State: model.PRMerged, Author: "bob"}},
	}

	p := BucketPrompt(in)

	assert.Contains(t, p, "from 2024-01-01 to 2024-01-07")
	assert.Contains(t, p, "## Commits (60 total):")
	assert.Contains(t, p, "- abcdef1: commit 0 (by alice)")
	assert.Equal(t, MaxPromptCommits, strings.Count(p, "(by alice)"))
	assert.NotContains(t, p, "long body")
	assert.Contains(t, p, "- PR #7: Add login (merged) by bob")
	assert.Contains(t, p, "No issues in this period")
	assert.Contains(t, p, `"technical_decisions"`)
}

func TestOverallPrompt(t *testing.T) {
	var groups []model.CommitGroup
	for i := 0; i < 15; i++ {
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*i)
		groups = append(groups, model.CommitGroup{
			StartDate:     start,
			EndDate:       start.AddDate(0, 0, 6),
			BucketSummary: model.BucketSummary{Summary: fmt.Sprintf("week %d summary", i)},
		})
	}
	top := []model.Contributor{{
		GithubUsername:      "alice",
		ContributorActivity: model.ContributorActivity{TotalCommits: 5},
		ImpactScore:         675,
	}}

	p := OverallPrompt(OverallInput{
		Repository:      "acme/widgets",
		Stats:           model.RepositoryStats{TotalCommits: 42, TotalContributors: 3},
		PeriodStart:     groups[0].StartDate,
		PeriodEnd:       groups[14].EndDate,
		Groups:          groups,
		TopContributors: top,
	})

	assert.Contains(t, p, "acme/widgets")
	assert.Contains(t, p, "- Total Commits: 42")
	assert.Contains(t, p, "week 11 summary")
	assert.NotContains(t, p, "week 12 summary")
	assert.Contains(t, p, "- alice: 5 commits, impact score: 675")
}
