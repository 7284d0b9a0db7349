// Package retrieval ranks entities for a requester or a one-shot query text.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
	"github.com/kailas-cloud/silo/internal/logger"
	"github.com/kailas-cloud/silo/internal/metrics"
)

// ExplanationUnavailable replaces explanations the LLM failed to produce.
const ExplanationUnavailable = "Explanation not available."

const queryVectorPrefix = "query:"

// Config bounds result sizes.
type Config struct {
	DefaultTopK    int
	MaxTopK        int
	CandidateTopK  int // vector candidates considered by CandidateSearch
	ExplainTopN    int
	CleanupTimeout time.Duration
}

// Ranked is one pipeline result.
type Ranked struct {
	Entity       entity.Entity
	Score        float64
	KeywordScore float64
	VectorScore  float64
	Explanation  string
}

// RecommendRequest asks for entities of Target similar to the requester.
type RecommendRequest struct {
	RequesterID string
	Target      entity.Kind
	TopK        int
	Generation  string // job generation to search, required for jobs
	ExcludeSelf bool
}

// Service is the retrieval and ranking pipeline.
type Service struct {
	entities  EntityStore
	builder   EmbeddingBuilder
	index     VectorIndex
	embedder  Embedder
	keywords  KeywordExtractor
	explainer Explainer
	cfg       Config
	logger    *zap.Logger
	newID     func() string
}

// New creates the retrieval service.
func New(
	entities EntityStore, builder EmbeddingBuilder, index VectorIndex,
	embedder Embedder, keywords KeywordExtractor, explainer Explainer,
	cfg Config, logger *zap.Logger,
) *Service {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = cfg.DefaultTopK
	}
	if cfg.CandidateTopK <= 0 {
		cfg.CandidateTopK = 50
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 5 * time.Second
	}
	return &Service{
		entities:  entities,
		builder:   builder,
		index:     index,
		embedder:  embedder,
		keywords:  keywords,
		explainer: explainer,
		cfg:       cfg,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Recommend ranks entities of req.Target by similarity to the requester's profile.
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) ([]Ranked, error) {
	if req.RequesterID == "" {
		return nil, domain.Validationf("requester id is required")
	}
	if !req.Target.Searchable() {
		return nil, domain.Validationf("cannot recommend %q", req.Target)
	}
	if req.Target == entity.KindJob && req.Generation == "" {
		return nil, domain.Validationf("job recommendations need a generation")
	}
	topK, err := s.topK(req.TopK)
	if err != nil {
		return nil, err
	}

	requester, err := s.entities.GetUser(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	vec, err := s.builder.GetOrCreate(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("requester embedding: %w", err)
	}

	f := vector.OfType(req.Target)
	if req.Generation != "" {
		f = f.WithGeneration(req.Generation)
	}
	if req.ExcludeSelf {
		f = f.Excluding(requester.ID())
	}

	matches, err := s.index.Query(ctx, vec, topK, f)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	ids := make([]string, len(matches))
	scores := make(map[string]float64, len(matches))
	for i, m := range matches {
		ids[i] = matchEntityID(m)
		scores[ids[i]] = m.Score
	}

	ents, err := s.hydrate(ctx, req.Target, req.Generation, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Ranked, 0, len(ents))
	for _, e := range ents {
		sc := scores[e.ID()]
		out = append(out, Ranked{Entity: e, Score: sc, VectorScore: sc})
	}
	return out, nil
}

// CandidateSearch ranks users against a job description by fusing an
// LLM keyword scan with embedding similarity. The top results get explanations.
// Keyword failures degrade to embedding-only ranking; embedding failures are fatal.
func (s *Service) CandidateSearch(ctx context.Context, text string, topK int) ([]Ranked, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Validationf("job_description is required")
	}
	topK, err := s.topK(topK)
	if err != nil {
		return nil, err
	}

	var (
		hits    []entity.KeywordHit
		matches []vector.Match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits = s.keywordHits(gctx, text)
		return nil
	})
	g.Go(func() error {
		var err error
		matches, err = s.vectorCandidates(gctx, text)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(hits, matches)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	if len(fused) == 0 {
		return []Ranked{}, nil
	}

	ids := make([]string, len(fused))
	byID := make(map[string]*candidate, len(fused))
	for i, c := range fused {
		ids[i] = c.id
		byID[c.id] = c
	}
	users, err := s.entities.GetMany(ctx, entity.KindUser, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate candidates: %w", err)
	}

	out := make([]Ranked, 0, len(users))
	for i, e := range users {
		c := byID[e.ID()]
		r := Ranked{Entity: e, Score: c.total(), KeywordScore: c.keyword, VectorScore: c.vector}
		if i < s.cfg.ExplainTopN {
			r.Explanation = s.explain(ctx, text, e, c)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) keywordHits(ctx context.Context, text string) []entity.KeywordHit {
	lg := logger.FromContextOr(ctx, s.logger)

	kws, err := s.keywords.ExtractKeywords(ctx, text)
	if err != nil {
		metrics.KeywordDegradedTotal.WithLabelValues("extraction_failed").Inc()
		lg.Warn("Keyword extraction failed, ranking on embeddings only", zap.Error(err))
		return nil
	}
	if len(kws) == 0 {
		metrics.KeywordDegradedTotal.WithLabelValues("no_keywords").Inc()
		lg.Warn("No keywords extracted, ranking on embeddings only")
		return nil
	}

	hits, err := s.entities.KeywordSearch(ctx, kws, s.cfg.CandidateTopK)
	if err != nil {
		metrics.KeywordDegradedTotal.WithLabelValues("search_failed").Inc()
		lg.Warn("Keyword search failed, ranking on embeddings only", zap.Error(err))
		return nil
	}
	lg.Debug("Keyword search done", zap.Strings("keywords", kws), zap.Int("hits", len(hits)))
	return hits
}

// vectorCandidates stages the query text as a transient vector, queries users
// with it and always deletes it before returning.
func (s *Service) vectorCandidates(ctx context.Context, text string) ([]vector.Match, error) {
	res, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	id := queryVectorPrefix + s.newID()
	defer s.dropQueryVector(ctx, id)

	md := vector.Metadata{Type: entity.KindQuery, EntityID: id}
	if err := s.index.Upsert(ctx, id, res.Embedding, md); err != nil {
		return nil, fmt.Errorf("stage query vector: %w", err)
	}

	matches, err := s.index.Query(ctx, res.Embedding, s.cfg.CandidateTopK, vector.OfType(entity.KindUser))
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	return matches, nil
}

// dropQueryVector runs on a detached context so cancellation of the request
// still removes the transient vector.
func (s *Service) dropQueryVector(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
	defer cancel()

	if err := s.index.Delete(cctx, id); err != nil {
		metrics.TempVectorCleanupFailuresTotal.Inc()
		logger.FromContextOr(ctx, s.logger).Error("Failed to delete query vector",
			zap.String("vector_id", id),
			zap.Error(err),
		)
	}
}

func (s *Service) explain(ctx context.Context, text string, e entity.Entity, c *candidate) string {
	u, ok := e.(*entity.User)
	if !ok {
		return ExplanationUnavailable
	}
	out, err := s.explainer.Explain(ctx, text, u, c.evidence())
	if err != nil || strings.TrimSpace(out) == "" {
		logger.FromContextOr(ctx, s.logger).Warn("Explanation failed",
			zap.String("user_id", u.ID()),
			zap.Error(err),
		)
		return ExplanationUnavailable
	}
	return out
}

func (s *Service) hydrate(ctx context.Context, kind entity.Kind, generation string, ids []string) ([]entity.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var (
		ents []entity.Entity
		err  error
	)
	if kind == entity.KindJob {
		ents, err = s.entities.GetJobs(ctx, generation, ids)
	} else {
		ents, err = s.entities.GetMany(ctx, kind, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", kind, err)
	}
	return ents, nil
}

func (s *Service) topK(requested int) (int, error) {
	switch {
	case requested == 0:
		return s.cfg.DefaultTopK, nil
	case requested < 0:
		return 0, domain.Validationf("top_k must be positive, got %d", requested)
	case requested > s.cfg.MaxTopK:
		return 0, domain.Validationf("top_k must be at most %d, got %d", s.cfg.MaxTopK, requested)
	}
	return requested, nil
}
