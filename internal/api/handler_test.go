// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commitsaga/internal/database"
	"commitsaga/internal/database/dbtest"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
	"commitsaga/internal/syncer"
)

type fakeBranches struct {
	branches []model.Branch
	err      error
}

func (f *fakeBranches) ListBranches(ctx context.Context, owner, name string) ([]model.Branch, error) {
	return f.branches, f.err
}

type testServer struct {
	store    *dbtest.MemStore
	branches *fakeBranches
	server   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := dbtest.NewMemStore()
	// The driver only queues jobs here; nothing drains the queue.
	driver := syncer.NewSyncer(store, nil, logger, syncer.Config{})
	branches := &fakeBranches{}

	server := httptest.NewServer(NewRouter(store, driver, branches, logger))
	t.Cleanup(server.Close)
	return &testServer{store: store, branches: branches, server: server}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRegisterRepository(t *testing.T) {
	t.Run("registers and schedules analysis", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, http.MethodPost, "/v1/repositories", `{"repository":"golang/go@dev"}`)

		require.Equal(t, http.StatusAccepted, status, string(body))
		repo := decode[model.Repository](t, body)
		assert.Equal(t, "golang", repo.Owner)
		assert.Equal(t, "go", repo.Name)
		assert.Equal(t, "dev", repo.SelectedBranch)
		assert.Equal(t, model.StatusPending, repo.Status)
		assert.NotEqual(t, uuid.Nil, repo.ID)
	})

	t.Run("accepts separate fields and is idempotent", func(t *testing.T) {
		ts := newTestServer(t)

		_, first := ts.do(t, http.MethodPost, "/v1/repositories", `{"owner":"golang","name":"go"}`)
		status, second := ts.do(t, http.MethodPost, "/v1/repositories", `{"owner":"golang","name":"go"}`)

		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, decode[model.Repository](t, first).ID, decode[model.Repository](t, second).ID)
	})

	t.Run("does not reschedule a running repository", func(t *testing.T) {
		ts := newTestServer(t)
		repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go", Status: model.StatusAnalyzing})

		status, body := ts.do(t, http.MethodPost, "/v1/repositories", `{"repository":"golang/go"}`)

		assert.Equal(t, http.StatusAccepted, status)
		got := decode[model.Repository](t, body)
		assert.Equal(t, repo.ID, got.ID)
		assert.Equal(t, model.StatusAnalyzing, got.Status)
	})

	t.Run("branch change is refused while the repository runs", func(t *testing.T) {
		ts := newTestServer(t)
		repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go", SelectedBranch: "master", Status: model.StatusFetching})

		status, body := ts.do(t, http.MethodPost, "/v1/repositories", `{"repository":"golang/go@dev"}`)

		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, "master", decode[model.Repository](t, body).SelectedBranch)
		stored, err := ts.store.GetRepository(context.Background(), repo.ID)
		require.NoError(t, err)
		assert.Equal(t, "master", stored.SelectedBranch)
		assert.Equal(t, model.StatusFetching, stored.Status)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		ts := newTestServer(t)
		for _, body := range []string{`{"repository":"golang"}`, `{"owner":"golang"}`, `not json`} {
			status, _ := ts.do(t, http.MethodPost, "/v1/repositories", body)
			assert.Equal(t, http.StatusBadRequest, status, body)
		}
	})
}

func TestGetRepository(t *testing.T) {
	ts := newTestServer(t)
	repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go", DefaultBranch: "master"})

	status, body := ts.do(t, http.MethodGet, "/v1/repositories/"+repo.ID.String(), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "master", decode[model.Repository](t, body).DefaultBranch)

	status, _ = ts.do(t, http.MethodGet, "/v1/repositories/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodGet, "/v1/repositories/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReanalyze(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		status   model.AnalysisStatus
		query    string
		expected int
	}{
		{"completed repository", model.StatusCompleted, "?granularity=monthly", http.StatusAccepted},
		{"failed repository, default granularity", model.StatusFailed, "", http.StatusAccepted},
		{"fetching repository", model.StatusFetching, "", http.StatusConflict},
		{"analyzing repository", model.StatusAnalyzing, "?granularity=weekly", http.StatusConflict},
		{"invalid granularity", model.StatusCompleted, "?granularity=daily", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go", Status: tc.status})

			status, body := ts.do(t, http.MethodPost, "/v1/repositories/"+repo.ID.String()+"/reanalyze"+tc.query, "")

			assert.Equal(t, tc.expected, status, string(body))
			stored, err := ts.store.GetRepository(ctx, repo.ID)
			require.NoError(t, err)
			if tc.expected == http.StatusAccepted {
				assert.Equal(t, model.StatusPending, stored.Status)
			} else {
				assert.Equal(t, tc.status, stored.Status)
			}
		})
	}

	t.Run("unknown repository", func(t *testing.T) {
		ts := newTestServer(t)
		status, _ := ts.do(t, http.MethodPost, "/v1/repositories/"+uuid.NewString()+"/reanalyze", "")
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestUpdateSchedule(t *testing.T) {
	ts := newTestServer(t)
	repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go"})
	path := "/v1/repositories/" + repo.ID.String() + "/schedule"

	status, body := ts.do(t, http.MethodPut, path, `{"enabled":true,"frequency":"monthly"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	got := decode[model.Repository](t, body)
	assert.True(t, got.CronEnabled)
	require.NotNil(t, got.CronFrequency)
	assert.Equal(t, model.Monthly, *got.CronFrequency)

	status, _ = ts.do(t, http.MethodPut, path, `{"enabled":true,"frequency":"hourly"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, http.MethodPut, path, `{"enabled":false}`)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[model.Repository](t, body).CronEnabled)
}

func TestListBranches(t *testing.T) {
	ts := newTestServer(t)
	repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go", DefaultBranch: "master"})
	path := "/v1/repositories/" + repo.ID.String() + "/branches"

	ts.branches.branches = []model.Branch{{Name: "master", Protected: true}, {Name: "dev"}}
	status, body := ts.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []model.Branch{
		{Name: "master", Protected: true, IsDefault: true},
		{Name: "dev"},
	}, decode[[]model.Branch](t, body))

	ts.branches.branches = nil
	ts.branches.err = &custom_errors.SourceError{Kind: custom_errors.SourceNotFound, Op: "list branches", Err: errors.New("404")}
	status, _ = ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, status)

	ts.branches.err = &custom_errors.SourceError{Kind: custom_errors.SourceRateLimited, Op: "list branches", Err: errors.New("403")}
	status, _ = ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestListCommitGroups(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go"})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	group, err := ts.store.CreateCommitGroup(ctx, database.CreateCommitGroupParams{
		RepositoryID: repo.ID,
		Granularity:  model.Weekly,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, 6),
		CommitCount:  3,
	})
	require.NoError(t, err)
	require.NoError(t, ts.store.UpdateCommitGroupSummary(ctx, group.ID, model.BucketSummary{
		Summary:    "Parser rewrite",
		KeyChanges: []string{"new lexer"},
	}))

	status, body := ts.do(t, http.MethodGet, "/v1/repositories/"+repo.ID.String()+"/commit-groups", "")

	require.Equal(t, http.StatusOK, status)
	groups := decode[[]model.CommitGroup](t, body)
	require.Len(t, groups, 1)
	assert.Equal(t, "Parser rewrite", groups[0].Summary)
	assert.Equal(t, []string{"new lexer"}, groups[0].KeyChanges)
	assert.Equal(t, 3, groups[0].CommitCount)
}

func TestListContributors(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go"})

	for name, score := range map[string]int{"alice": 385, "bob": 120} {
		require.NoError(t, ts.store.UpsertContributor(ctx, repo.ID, model.Contributor{GithubUsername: name}))
		c, ok := ts.store.ContributorByName(repo.ID, name)
		require.True(t, ok)
		c.ImpactScore = score
		require.NoError(t, ts.store.UpdateContributorStats(ctx, c))
	}
	path := "/v1/repositories/" + repo.ID.String() + "/contributors"

	status, body := ts.do(t, http.MethodGet, path+"?limit=1", "")
	require.Equal(t, http.StatusOK, status)
	top := decode[[]model.Contributor](t, body)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].GithubUsername)
	assert.Equal(t, 385, top[0].ImpactScore)

	status, body = ts.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]model.Contributor](t, body), 2)

	for _, limit := range []string{"0", "101", "abc"} {
		status, _ = ts.do(t, http.MethodGet, path+"?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, status, limit)
	}
}

func TestGetSummary(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	repo := ts.store.Seed(model.Repository{Owner: "golang", Name: "go"})
	path := "/v1/repositories/" + repo.ID.String() + "/summary"

	status, _ := ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, ts.store.UpsertOverallSummary(ctx, model.OverallSummary{
		RepositoryID: repo.ID,
		Summary:      "A steady quarter.",
		Stats:        model.RepositoryStats{TotalCommits: 2, TotalGroups: 1},
		GeneratedAt:  time.Now().UTC(),
	}))

	status, body := ts.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	summary := decode[model.OverallSummary](t, body)
	assert.Equal(t, "A steady quarter.", summary.Summary)
	assert.Equal(t, 2, summary.Stats.TotalCommits)
}
