// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"commitsaga/internal/database"
	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
	"commitsaga/internal/scoring"
	"commitsaga/internal/syncer"
)

// Store is the read side of the data store used by the API.
type Store interface {
	GetRepository(ctx context.Context, id uuid.UUID) (model.Repository, error)
	UpdateRepositorySchedule(ctx context.Context, arg database.UpdateRepositoryScheduleParams) error
	ListCommitGroups(ctx context.Context, repositoryID uuid.UUID) ([]model.CommitGroup, error)
	ListContributors(ctx context.Context, repositoryID uuid.UUID) ([]model.Contributor, error)
	GetOverallSummary(ctx context.Context, repositoryID uuid.UUID) (model.OverallSummary, error)
}

// Driver registers repositories and schedules pipeline runs. *syncer.Syncer implements it.
type Driver interface {
	Submit(ctx context.Context, id syncer.RepoIdentifier) (model.Repository, error)
	Reanalyze(ctx context.Context, id uuid.UUID, granularity model.Granularity) error
}

// BranchLister lists branches on the source host.
type BranchLister interface {
	ListBranches(ctx context.Context, owner, name string) ([]model.Branch, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	store    Store
	driver   Driver
	branches BranchLister
	logger   *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(store Store, driver Driver, branches BranchLister, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:    store,
		driver:   driver,
		branches: branches,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/repositories", h.registerRepository)
		r.Route("/repositories/{id}", func(r chi.Router) {
			r.Get("/", h.getRepository)
			r.Post("/reanalyze", h.reanalyze)
			r.Put("/schedule", h.updateSchedule)
			r.Get("/branches", h.listBranches)
			r.Get("/commit-groups", h.listCommitGroups)
			r.Get("/contributors", h.listContributors)
			r.Get("/summary", h.getSummary)
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	// Repository is "owner/name[@branch]". Owner and Name are used when it is empty.
	Repository string `json:"repository"`
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Branch     string `json:"branch"`
}

// registerRepository creates (or returns) a repository record and schedules its first analysis.
// POST /v1/repositories
func (h *Handler) registerRepository(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	raw := req.Repository
	if raw == "" {
		raw = req.Owner + "/" + req.Name
		if req.Branch != "" {
			raw += "@" + req.Branch
		}
	}
	id, err := syncer.ParseRepoIdentifier(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	repo, err := h.driver.Submit(r.Context(), id)
	switch {
	case errors.Is(err, custom_errors.ErrAnalysisInProgress):
		// Already registered and running.
	case err != nil:
		h.logger.Error("Failed to register repository", "repo", raw, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusAccepted, repo)
}

// getRepository returns a repository and its analysis state.
// GET /v1/repositories/{id}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repository(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

// reanalyze schedules a fresh pipeline run.
// POST /v1/repositories/{id}/reanalyze?granularity=weekly|monthly
func (h *Handler) reanalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := repositoryID(w, r)
	if !ok {
		return
	}
	granularity, err := model.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.driver.Reanalyze(r.Context(), id, granularity)
	switch {
	case errors.Is(err, custom_errors.ErrRepositoryNotFound):
		respondWithError(w, http.StatusNotFound, "Repository not found")
	case errors.Is(err, custom_errors.ErrAnalysisInProgress):
		respondWithError(w, http.StatusConflict, "Analysis already in progress")
	case err != nil:
		h.logger.Error("Failed to schedule re-analysis", "repository_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	default:
		respondWithJSON(w, http.StatusAccepted, map[string]string{
			"status":      string(model.StatusPending),
			"granularity": string(granularity),
		})
	}
}

type scheduleRequest struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"`
}

// updateSchedule turns periodic re-analysis on or off.
// PUT /v1/repositories/{id}/schedule
func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := repositoryID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params := database.UpdateRepositoryScheduleParams{ID: id, CronEnabled: req.Enabled}
	if req.Enabled {
		frequency, err := model.ParseGranularity(req.Frequency)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.CronFrequency = &frequency
	}

	if err := h.store.UpdateRepositorySchedule(r.Context(), params); err != nil {
		h.storeError(w, "update schedule", err)
		return
	}
	h.getRepository(w, r)
}

// listBranches lists the repository's branches on the host, flagging the default one.
// GET /v1/repositories/{id}/branches
func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repository(w, r)
	if !ok {
		return
	}

	branches, err := h.branches.ListBranches(r.Context(), repo.Owner, repo.Name)
	if err != nil {
		switch {
		case custom_errors.IsNotFound(err):
			respondWithError(w, http.StatusNotFound, "Repository not found on host")
		case custom_errors.IsTransient(err):
			respondWithError(w, http.StatusServiceUnavailable, "Source host rate limit reached, try again later")
		default:
			h.logger.Error("Failed to list branches", "repository_id", repo.ID, "error", err)
			respondWithError(w, http.StatusBadGateway, "Failed to list branches")
		}
		return
	}
	for i := range branches {
		branches[i].IsDefault = branches[i].Name == repo.DefaultBranch
	}
	respondWithJSON(w, http.StatusOK, branches)
}

// listCommitGroups returns the commit groups with their summaries, oldest first.
// GET /v1/repositories/{id}/commit-groups
func (h *Handler) listCommitGroups(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repository(w, r)
	if !ok {
		return
	}
	groups, err := h.store.ListCommitGroups(r.Context(), repo.ID)
	if err != nil {
		h.storeError(w, "list commit groups", err)
		return
	}
	respondWithJSON(w, http.StatusOK, groups)
}

// listContributors returns contributors ranked by impact score.
// GET /v1/repositories/{id}/contributors?limit=N
func (h *Handler) listContributors(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "10"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	repo, ok := h.repository(w, r)
	if !ok {
		return
	}
	contributors, err := h.store.ListContributors(r.Context(), repo.ID)
	if err != nil {
		h.storeError(w, "list contributors", err)
		return
	}
	respondWithJSON(w, http.StatusOK, scoring.Top(contributors, limit))
}

// getSummary returns the repository-level narrative and statistics.
// GET /v1/repositories/{id}/summary
func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repository(w, r)
	if !ok {
		return
	}
	summary, err := h.store.GetOverallSummary(r.Context(), repo.ID)
	if errors.Is(err, database.ErrNoSummary) {
		respondWithError(w, http.StatusNotFound, "Summary not generated yet")
		return
	}
	if err != nil {
		h.storeError(w, "get summary", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// repository loads the repository named in the URL, writing the error response when it fails.
func (h *Handler) repository(w http.ResponseWriter, r *http.Request) (model.Repository, bool) {
	id, ok := repositoryID(w, r)
	if !ok {
		return model.Repository{}, false
	}
	repo, err := h.store.GetRepository(r.Context(), id)
	if err != nil {
		h.storeError(w, "get repository", err)
		return model.Repository{}, false
	}
	return repo, true
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, custom_errors.ErrRepositoryNotFound) {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	h.logger.Error("Failed to "+op, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

func repositoryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return uuid.Nil, false
	}
	return id, true
}
