package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/logger"
	healthuc "github.com/kailas-cloud/silo/internal/usecase/health"
	"github.com/kailas-cloud/silo/internal/usecase/retrieval"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeValidationFailed = "validation_failed"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeRateLimited      = "rate_limited"
	codeSearchFailed     = "search_failed"
	codeInternalError    = "internal_error"
)

const searchFailedMessage = "search failed"

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the retrieval API over chi.
type Server struct {
	retrieval     Retriever
	jobs          JobSearcher
	profiles      ProfileWriter
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retriever Retriever,
	jobs JobSearcher,
	profiles ProfileWriter,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		retrieval: retriever,
		jobs:      jobs,
		profiles:  profiles,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		upstreamHandler(domain.ErrProvider, domain.ErrIndex, domain.ErrStore, domain.ErrJobBoard),
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/getPersonalizedFeed", s.PersonalizedFeed)
	r.Get("/search_jobs", s.SearchJobs)
	r.Post("/candidateSearch", s.CandidateSearch)
	r.Get("/similarUsers", s.SimilarUsers)
	r.Get("/research", s.Research)
	r.Put("/users/{id}", s.UpsertUser)
	r.Put("/projects/{id}", s.UpsertProject)
	r.Delete("/projects/{id}", s.DeleteProject)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// PersonalizedFeed handles GET /getPersonalizedFeed.
func (s *Server) PersonalizedFeed(w http.ResponseWriter, r *http.Request) {
	s.recommend(w, r, entity.KindProject, false)
}

// SimilarUsers handles GET /similarUsers.
func (s *Server) SimilarUsers(w http.ResponseWriter, r *http.Request) {
	s.recommend(w, r, entity.KindUser, true)
}

// Research handles GET /research.
func (s *Server) Research(w http.ResponseWriter, r *http.Request) {
	s.recommend(w, r, entity.KindResearch, false)
}

func (s *Server) recommend(w http.ResponseWriter, r *http.Request, target entity.Kind, excludeSelf bool) {
	requester, ok := RequesterFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing requester")
		return
	}
	topK, ok := bindTopK(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	ranked, err := s.retrieval.Recommend(ctx, retrieval.RecommendRequest{
		RequesterID: requester,
		Target:      target,
		TopK:        topK,
		ExcludeSelf: excludeSelf,
	})
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rankedToResponse(ranked))
}

// SearchJobs handles GET /search_jobs.
func (s *Server) SearchJobs(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing requester")
		return
	}
	topK, ok := bindTopK(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	ranked, err := s.jobs.SearchJobs(ctx, requester, topK)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rankedToResponse(ranked))
}

// CandidateSearch handles POST /candidateSearch.
func (s *Server) CandidateSearch(w http.ResponseWriter, r *http.Request) {
	var req CandidateSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Invalid request body: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	ranked, err := s.retrieval.CandidateSearch(ctx, req.JobDescription, req.TopK)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rankedToResponse(ranked))
}

// UpsertUser handles PUT /users/{id}.
func (s *Server) UpsertUser(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing requester")
		return
	}

	var body UserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Invalid request body: "+err.Error())
		return
	}

	u := userFromBody(chi.URLParam(r, "id"), body)
	ctx, usage := domain.NewContextWithUsage(r.Context())
	err := s.profiles.UpsertUser(ctx, requester, u)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userToBody(u))
}

// UpsertProject handles PUT /projects/{id}.
func (s *Server) UpsertProject(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing requester")
		return
	}

	var body ProjectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Invalid request body: "+err.Error())
		return
	}

	p := projectFromBody(chi.URLParam(r, "id"), body)
	ctx, usage := domain.NewContextWithUsage(r.Context())
	err := s.profiles.UpsertProject(ctx, requester, p)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, projectToBody(p))
}

// DeleteProject handles DELETE /projects/{id}.
func (s *Server) DeleteProject(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing requester")
		return
	}

	if err := s.profiles.DeleteProject(r.Context(), requester, chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// bindTopK reads the optional top_k query parameter. Absent means the service default.
func bindTopK(w http.ResponseWriter, r *http.Request) (int, bool) {
	var topK *int
	if err := runtime.BindQueryParameter("form", true, false, "top_k", r.URL.Query(), &topK); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "top_k must be an integer")
		return 0, false
	}
	if topK == nil {
		return 0, true
	}
	return *topK, true
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used() {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrUnauthorized,
		domain.ErrNotFound,
		domain.ErrRateLimited,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// upstreamHandler maps dependency failures to a generic 502.
func upstreamHandler(sentinels ...error) errorHandler {
	return func(w http.ResponseWriter, err error, _ string) bool {
		for _, sentinel := range sentinels {
			if errors.Is(err, sentinel) {
				writeError(w, http.StatusBadGateway, codeSearchFailed, searchFailedMessage)
				return true
			}
		}
		return false
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
