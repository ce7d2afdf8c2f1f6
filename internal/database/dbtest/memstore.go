// Package dbtest provides an in-memory database.Store for tests.
package dbtest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"commitsaga/internal/database"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

type state struct {
	repos        map[uuid.UUID]model.Repository
	contributors map[uuid.UUID]map[string]model.Contributor
	commits      map[uuid.UUID]map[string]model.Commit
	prs          map[uuid.UUID]map[int]model.PullRequest
	issues       map[uuid.UUID]map[int]model.Issue
	groups       map[uuid.UUID][]model.CommitGroup
	summaries    map[uuid.UUID]model.OverallSummary
	nextID       int64
}

func newState() *state {
	return &state{
		repos:        map[uuid.UUID]model.Repository{},
		contributors: map[uuid.UUID]map[string]model.Contributor{},
		commits:      map[uuid.UUID]map[string]model.Commit{},
		prs:          map[uuid.UUID]map[int]model.PullRequest{},
		issues:       map[uuid.UUID]map[int]model.Issue{},
		groups:       map[uuid.UUID][]model.CommitGroup{},
		summaries:    map[uuid.UUID]model.OverallSummary{},
	}
}

func cloneNested[K comparable, K2 comparable, V any](m map[K]map[K2]V) map[K]map[K2]V {
	out := make(map[K]map[K2]V, len(m))
	for k, v := range m {
		out[k] = maps.Clone(v)
	}
	return out
}

func (st *state) clone() *state {
	groups := make(map[uuid.UUID][]model.CommitGroup, len(st.groups))
	for k, v := range st.groups {
		groups[k] = slices.Clone(v)
	}
	return &state{
		repos:        maps.Clone(st.repos),
		contributors: cloneNested(st.contributors),
		commits:      cloneNested(st.commits),
		prs:          cloneNested(st.prs),
		issues:       cloneNested(st.issues),
		groups:       groups,
		summaries:    maps.Clone(st.summaries),
		nextID:       st.nextID,
	}
}

// MemStore mirrors the Postgres store's keys and conditional updates.
type MemStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	st       *state
	failures map[string]error
	calls    map[string]int
	now      func() time.Time
}

var _ database.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		st:       newState(),
		failures: map[string]error{},
		calls:    map[string]int{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Fail makes every later call to method return err. A nil err clears it.
func (s *MemStore) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls returns how many times method was invoked.
func (s *MemStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// enter locks the store and records the call. The caller must unlock.
func (s *MemStore) enter(method string) error {
	s.mu.Lock()
	s.calls[method]++
	return s.failures[method]
}

func (s *MemStore) ExecTx(ctx context.Context, fn func(database.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Seed stores a repository as is, assigning an ID when missing.
func (s *MemStore) Seed(r model.Repository) model.Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	s.st.repos[r.ID] = r
	return r
}

func (s *MemStore) CreateRepository(ctx context.Context, arg database.CreateRepositoryParams) (model.Repository, error) {
	err := s.enter("CreateRepository")
	defer s.mu.Unlock()
	if err != nil {
		return model.Repository{}, err
	}
	for id, r := range s.st.repos {
		if r.Owner == arg.Owner && r.Name == arg.Name {
			r.UpdatedAt = s.now()
			s.st.repos[id] = r
			return r, nil
		}
	}
	r := model.Repository{
		ID:             arg.ID,
		Owner:          arg.Owner,
		Name:           arg.Name,
		DefaultBranch:  "main",
		SelectedBranch: arg.SelectedBranch,
		Status:         model.StatusPending,
		CronEnabled:    arg.CronEnabled,
		CronFrequency:  arg.CronFrequency,
		CreatedAt:      s.now(),
		UpdatedAt:      s.now(),
	}
	s.st.repos[r.ID] = r
	return r, nil
}

func (s *MemStore) GetRepository(ctx context.Context, id uuid.UUID) (model.Repository, error) {
	err := s.enter("GetRepository")
	defer s.mu.Unlock()
	if err != nil {
		return model.Repository{}, err
	}
	r, ok := s.st.repos[id]
	if !ok {
		return model.Repository{}, custom_errors.ErrRepositoryNotFound
	}
	return r, nil
}

func (s *MemStore) GetRepositoryByOwnerAndName(ctx context.Context, owner, name string) (model.Repository, error) {
	err := s.enter("GetRepositoryByOwnerAndName")
	defer s.mu.Unlock()
	if err != nil {
		return model.Repository{}, err
	}
	for _, r := range s.st.repos {
		if r.Owner == owner && r.Name == name {
			return r, nil
		}
	}
	return model.Repository{}, custom_errors.ErrRepositoryNotFound
}

func (s *MemStore) sortedRepos(keep func(model.Repository) bool) []model.Repository {
	var out []model.Repository
	for _, r := range s.st.repos {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *MemStore) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	err := s.enter("ListRepositories")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.sortedRepos(func(model.Repository) bool { return true }), nil
}

func (s *MemStore) ListScheduledRepositories(ctx context.Context) ([]model.Repository, error) {
	err := s.enter("ListScheduledRepositories")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.sortedRepos(func(r model.Repository) bool { return r.CronEnabled && r.CronFrequency != nil }), nil
}

func (s *MemStore) update(id uuid.UUID, fn func(*model.Repository)) error {
	r, ok := s.st.repos[id]
	if !ok {
		return custom_errors.ErrRepositoryNotFound
	}
	fn(&r)
	r.UpdatedAt = s.now()
	s.st.repos[id] = r
	return nil
}

func (s *MemStore) UpdateRepositoryMetadata(ctx context.Context, id uuid.UUID, meta model.RepositoryMetadata) error {
	err := s.enter("UpdateRepositoryMetadata")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.update(id, func(r *model.Repository) {
		r.Description = meta.Description
		r.URL = meta.URL
		r.DefaultBranch = meta.DefaultBranch
		r.StarsCount = meta.StarsCount
		r.ForksCount = meta.ForksCount
		r.OpenIssues = meta.OpenIssues
	})
}

func (s *MemStore) UpdateRepositorySchedule(ctx context.Context, arg database.UpdateRepositoryScheduleParams) error {
	err := s.enter("UpdateRepositorySchedule")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.update(arg.ID, func(r *model.Repository) {
		r.CronEnabled = arg.CronEnabled
		r.CronFrequency = arg.CronFrequency
	})
}

func (s *MemStore) SetRepositoryStatus(ctx context.Context, id uuid.UUID, status model.AnalysisStatus, lastError string) error {
	err := s.enter("SetRepositoryStatus")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.update(id, func(r *model.Repository) {
		r.Status = status
		r.LastError = lastError
	})
}

func (s *MemStore) MarkRepositoryPending(ctx context.Context, id uuid.UUID, branch string) (int64, error) {
	err := s.enter("MarkRepositoryPending")
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	r, ok := s.st.repos[id]
	if !ok || r.InProgress() {
		return 0, nil
	}
	_ = s.update(id, func(r *model.Repository) {
		r.Status = model.StatusPending
		r.LastError = ""
		if branch != "" {
			r.SelectedBranch = branch
		}
	})
	return 1, nil
}

func (s *MemStore) CompleteIngestion(ctx context.Context, id uuid.UUID) (int64, error) {
	err := s.enter("CompleteIngestion")
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	var version int64
	err = s.update(id, func(r *model.Repository) {
		r.Status = model.StatusAnalyzing
		r.LastError = ""
		r.DataVersion++
		version = r.DataVersion
	})
	return version, err
}

func (s *MemStore) SetGroupedVersion(ctx context.Context, id uuid.UUID, version int64) error {
	err := s.enter("SetGroupedVersion")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.update(id, func(r *model.Repository) { r.GroupedVersion = version })
}

func (s *MemStore) CompleteAnalysis(ctx context.Context, id uuid.UUID) error {
	err := s.enter("CompleteAnalysis")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	now := s.now()
	return s.update(id, func(r *model.Repository) {
		r.Status = model.StatusCompleted
		r.LastError = ""
		r.LastAnalyzedAt = &now
	})
}

func (s *MemStore) UpsertContributor(ctx context.Context, repositoryID uuid.UUID, c model.Contributor) error {
	err := s.enter("UpsertContributor")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	byName := s.st.contributors[repositoryID]
	if byName == nil {
		byName = map[string]model.Contributor{}
		s.st.contributors[repositoryID] = byName
	}
	existing, ok := byName[c.GithubUsername]
	if !ok {
		s.st.nextID++
		existing = model.Contributor{ID: s.st.nextID, RepositoryID: repositoryID, GithubUsername: c.GithubUsername}
	}
	existing.GithubID = c.GithubID
	existing.AvatarURL = c.AvatarURL
	if c.Email != "" {
		existing.Email = c.Email
	}
	byName[c.GithubUsername] = existing
	return nil
}

func (s *MemStore) ListContributors(ctx context.Context, repositoryID uuid.UUID) ([]model.Contributor, error) {
	err := s.enter("ListContributors")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(s.st.contributors[repositoryID]))
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImpactScore != out[j].ImpactScore {
			return out[i].ImpactScore > out[j].ImpactScore
		}
		return out[i].GithubUsername < out[j].GithubUsername
	})
	return out, nil
}

func (s *MemStore) UpdateContributorStats(ctx context.Context, c model.Contributor) error {
	err := s.enter("UpdateContributorStats")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, byName := range s.st.contributors {
		for name, existing := range byName {
			if existing.ID == c.ID {
				existing.ContributorActivity = c.ContributorActivity
				existing.ImpactScore = c.ImpactScore
				byName[name] = existing
				return nil
			}
		}
	}
	return nil
}

func (s *MemStore) UpsertCommit(ctx context.Context, repositoryID uuid.UUID, c model.Commit) error {
	err := s.enter("UpsertCommit")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	bySHA := s.st.commits[repositoryID]
	if bySHA == nil {
		bySHA = map[string]model.Commit{}
		s.st.commits[repositoryID] = bySHA
	}
	if existing, ok := bySHA[c.SHA]; ok {
		c.CommitGroupID = existing.CommitGroupID
	} else {
		c.CommitGroupID = nil
	}
	bySHA[c.SHA] = c
	return nil
}

func (s *MemStore) ListCommits(ctx context.Context, repositoryID uuid.UUID) ([]model.Commit, error) {
	err := s.enter("ListCommits")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(s.st.commits[repositoryID]))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommitDate.Equal(out[j].CommitDate) {
			return out[i].CommitDate.Before(out[j].CommitDate)
		}
		return out[i].SHA < out[j].SHA
	})
	return out, nil
}

func (s *MemStore) CountCommits(ctx context.Context, repositoryID uuid.UUID) (int64, error) {
	err := s.enter("CountCommits")
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return int64(len(s.st.commits[repositoryID])), nil
}

func (s *MemStore) UpsertPullRequest(ctx context.Context, repositoryID uuid.UUID, pr model.PullRequest) error {
	err := s.enter("UpsertPullRequest")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.st.prs[repositoryID] == nil {
		s.st.prs[repositoryID] = map[int]model.PullRequest{}
	}
	s.st.prs[repositoryID][pr.Number] = pr
	return nil
}

func (s *MemStore) ListPullRequests(ctx context.Context, repositoryID uuid.UUID) ([]model.PullRequest, error) {
	err := s.enter("ListPullRequests")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(s.st.prs[repositoryID]))
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (s *MemStore) UpsertIssue(ctx context.Context, repositoryID uuid.UUID, is model.Issue) error {
	err := s.enter("UpsertIssue")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.st.issues[repositoryID] == nil {
		s.st.issues[repositoryID] = map[int]model.Issue{}
	}
	s.st.issues[repositoryID][is.Number] = is
	return nil
}

func (s *MemStore) ListIssues(ctx context.Context, repositoryID uuid.UUID) ([]model.Issue, error) {
	err := s.enter("ListIssues")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(s.st.issues[repositoryID]))
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (s *MemStore) DeleteCommitGroups(ctx context.Context, repositoryID uuid.UUID) (int64, error) {
	err := s.enter("DeleteCommitGroups")
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n := int64(len(s.st.groups[repositoryID]))
	delete(s.st.groups, repositoryID)
	for sha, c := range s.st.commits[repositoryID] {
		c.CommitGroupID = nil
		s.st.commits[repositoryID][sha] = c
	}
	return n, nil
}

func (s *MemStore) CreateCommitGroup(ctx context.Context, arg database.CreateCommitGroupParams) (model.CommitGroup, error) {
	err := s.enter("CreateCommitGroup")
	defer s.mu.Unlock()
	if err != nil {
		return model.CommitGroup{}, err
	}
	for _, g := range s.st.groups[arg.RepositoryID] {
		if g.StartDate.Equal(arg.StartDate) && g.EndDate.Equal(arg.EndDate) {
			return model.CommitGroup{}, &custom_errors.DataIntegrityError{Op: "CreateCommitGroup", Detail: "duplicate bucket"}
		}
	}
	s.st.nextID++
	g := model.CommitGroup{
		ID:           s.st.nextID,
		RepositoryID: arg.RepositoryID,
		Granularity:  arg.Granularity,
		StartDate:    arg.StartDate,
		EndDate:      arg.EndDate,
		CommitCount:  arg.CommitCount,
		BucketSummary: model.BucketSummary{
			KeyChanges:         []string{},
			NotableFeatures:    []string{},
			BugFixes:           []string{},
			TechnicalDecisions: []string{},
			MainContributors:   []string{},
		},
	}
	s.st.groups[arg.RepositoryID] = append(s.st.groups[arg.RepositoryID], g)
	return g, nil
}

func (s *MemStore) findGroup(groupID int64) (uuid.UUID, int, bool) {
	for repoID, groups := range s.st.groups {
		for i, g := range groups {
			if g.ID == groupID {
				return repoID, i, true
			}
		}
	}
	return uuid.Nil, 0, false
}

func (s *MemStore) AssignCommitsToGroup(ctx context.Context, groupID int64, shas []string) (int64, error) {
	err := s.enter("AssignCommitsToGroup")
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	repoID, _, ok := s.findGroup(groupID)
	if !ok {
		return 0, nil
	}
	var n int64
	for _, sha := range shas {
		c, ok := s.st.commits[repoID][sha]
		if !ok {
			continue
		}
		id := groupID
		c.CommitGroupID = &id
		s.st.commits[repoID][sha] = c
		n++
	}
	return n, nil
}

func (s *MemStore) ListCommitGroups(ctx context.Context, repositoryID uuid.UUID) ([]model.CommitGroup, error) {
	err := s.enter("ListCommitGroups")
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := slices.Clone(s.st.groups[repositoryID])
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *MemStore) UpdateCommitGroupSummary(ctx context.Context, groupID int64, summary model.BucketSummary) error {
	err := s.enter("UpdateCommitGroupSummary")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	repoID, i, ok := s.findGroup(groupID)
	if !ok {
		return nil
	}
	now := s.now()
	g := s.st.groups[repoID][i]
	g.BucketSummary = summary
	g.AnalyzedAt = &now
	s.st.groups[repoID][i] = g
	return nil
}

func (s *MemStore) UpsertOverallSummary(ctx context.Context, summary model.OverallSummary) error {
	err := s.enter("UpsertOverallSummary")
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	s.st.summaries[summary.RepositoryID] = summary
	return nil
}

func (s *MemStore) GetOverallSummary(ctx context.Context, repositoryID uuid.UUID) (model.OverallSummary, error) {
	err := s.enter("GetOverallSummary")
	defer s.mu.Unlock()
	if err != nil {
		return model.OverallSummary{}, err
	}
	summary, ok := s.st.summaries[repositoryID]
	if !ok {
		return model.OverallSummary{}, database.ErrNoSummary
	}
	return summary, nil
}

// ContributorByName is a test helper that matches usernames case-insensitively.
func (s *MemStore) ContributorByName(repositoryID uuid.UUID, username string) (model.Contributor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.st.contributors[repositoryID] {
		if strings.EqualFold(name, username) {
			return c, true
		}
	}
	return model.Contributor{}, false
}
