// Package jobs keeps the job-board snapshot fresh and searches it.
//
// A refresh stages a new generation next to the current one: postings go into
// their own collection, vectors are tagged with the generation, and only then
// is the current pointer swapped. A failed refresh removes its staged data and
// leaves the previous generation serving.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
	"github.com/kailas-cloud/silo/internal/logger"
	"github.com/kailas-cloud/silo/internal/metrics"
	"github.com/kailas-cloud/silo/internal/usecase/retrieval"
)

const refreshKey = "refresh"

// ErrGenerationClash is returned when a refresh would reuse the current generation id.
var ErrGenerationClash = errors.New("refresh generation equals the current one")

// Config controls refresh gating.
type Config struct {
	TTL          time.Duration
	ForceRefresh bool // refresh on every request regardless of TTL
}

// Service refreshes and searches job postings.
type Service struct {
	store       Store
	board       Board
	indexer     Indexer
	purger      Purger
	recommender Recommender
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
	group       singleflight.Group
}

// New creates the jobs service.
func New(
	store Store, board Board, indexer Indexer, purger Purger,
	recommender Recommender, cfg Config, logger *zap.Logger,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{
		store:       store,
		board:       board,
		indexer:     indexer,
		purger:      purger,
		recommender: recommender,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// JobVectorID is the vector id of a job within a generation.
func JobVectorID(generation, jobID string) string {
	return "job:" + generation + ":" + jobID
}

// SearchJobs ranks current jobs for the requester, refreshing a stale snapshot first.
// A failed refresh falls back to the previous generation when there is one.
func (s *Service) SearchJobs(ctx context.Context, requesterID string, topK int) ([]retrieval.Ranked, error) {
	snap, err := s.EnsureFresh(ctx)
	if err != nil {
		if snap.Generation == "" {
			return nil, err
		}
		logger.FromContextOr(ctx, s.logger).Warn("Job refresh failed, serving previous generation",
			zap.String("generation", snap.Generation),
			zap.Error(err),
		)
	}
	if snap.Generation == "" {
		return []retrieval.Ranked{}, nil
	}

	ranked, err := s.recommender.Recommend(ctx, retrieval.RecommendRequest{
		RequesterID: requesterID,
		Target:      entity.KindJob,
		TopK:        topK,
		Generation:  snap.Generation,
	})
	if err != nil {
		return nil, fmt.Errorf("recommend jobs: %w", err)
	}
	return ranked, nil
}

// EnsureFresh returns the current snapshot, refreshing it first when stale.
// On refresh failure it returns the unchanged snapshot together with the error.
func (s *Service) EnsureFresh(ctx context.Context) (entity.JobSnapshot, error) {
	snap, err := s.store.CurrentJobSnapshot(ctx)
	if err != nil {
		return entity.JobSnapshot{}, fmt.Errorf("read job snapshot: %w", err)
	}
	if !s.cfg.ForceRefresh && !snap.Stale(s.now(), s.cfg.TTL) {
		return snap, nil
	}

	fresh, err := s.Refresh(ctx)
	if err != nil {
		return snap, err
	}
	return fresh, nil
}

// Refresh runs one stage-and-swap refresh. Concurrent callers share a single run.
func (s *Service) Refresh(ctx context.Context) (entity.JobSnapshot, error) {
	// the shared run outlives the caller that started it
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(refreshKey, func() (any, error) {
		return s.refresh(runCtx)
	})
	if shared {
		logger.FromContextOr(ctx, s.logger).Debug("Joined in-flight job refresh")
	}
	if err != nil {
		return entity.JobSnapshot{}, err //nolint:wrapcheck // wrapped in refresh
	}
	return v.(entity.JobSnapshot), nil
}

// StartScheduler refreshes on a cron spec until ctx is canceled or the
// returned cron is stopped. Callers stop the cron and wait on the context
// returned by Stop to let a running refresh finish.
func (s *Service) StartScheduler(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() { s.scheduledRefresh(ctx) })
	if err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	c.Start()
	s.logger.Info("Job refresh scheduled", zap.String("schedule", spec))
	return c, nil
}

// scheduledRefresh is one cron tick. Ticks after shutdown began are skipped.
func (s *Service) scheduledRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		s.logger.Debug("Skipping scheduled job refresh after shutdown")
		return
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Error("Scheduled job refresh failed", zap.Error(err))
	}
}

func (s *Service) refresh(ctx context.Context) (entity.JobSnapshot, error) {
	lg := logger.FromContextOr(ctx, s.logger)
	began := time.Now()
	defer func() {
		metrics.JobRefreshDuration.Observe(time.Since(began).Seconds())
	}()

	prev, err := s.store.CurrentJobSnapshot(ctx)
	if err != nil {
		metrics.JobRefreshTotal.WithLabelValues("store_failed").Inc()
		return entity.JobSnapshot{}, fmt.Errorf("read job snapshot: %w", err)
	}

	fetched, err := s.board.FetchJobs(ctx)
	if err != nil {
		metrics.JobRefreshTotal.WithLabelValues("fetch_failed").Inc()
		return entity.JobSnapshot{}, fmt.Errorf("fetch jobs: %w", err)
	}
	jobs := dedupe(fetched)

	// an empty board keeps the previous postings and only restamps them
	if len(jobs) == 0 && prev.Generation != "" {
		snap, err := s.store.SwapJobSnapshot(ctx, prev.Generation, s.now())
		if err != nil {
			metrics.JobRefreshTotal.WithLabelValues("swap_failed").Inc()
			return entity.JobSnapshot{}, fmt.Errorf("restamp job snapshot: %w", err)
		}
		metrics.JobRefreshTotal.WithLabelValues("empty").Inc()
		lg.Warn("Job board returned no postings, keeping previous generation",
			zap.String("generation", prev.Generation))
		return snap, nil
	}

	gen := generationID(s.now())
	if gen == prev.Generation {
		metrics.JobRefreshTotal.WithLabelValues("skipped").Inc()
		return prev, ErrGenerationClash
	}

	if err := s.stage(ctx, gen, jobs); err != nil {
		metrics.JobRefreshTotal.WithLabelValues("stage_failed").Inc()
		s.rollback(ctx, gen)
		return entity.JobSnapshot{}, err
	}

	snap, err := s.store.SwapJobSnapshot(ctx, gen, s.now())
	if err != nil {
		metrics.JobRefreshTotal.WithLabelValues("swap_failed").Inc()
		s.rollback(ctx, gen)
		return entity.JobSnapshot{}, fmt.Errorf("swap job snapshot: %w", err)
	}

	if prev.Generation != "" {
		s.purge(ctx, prev.Generation)
	}

	metrics.JobRefreshTotal.WithLabelValues("success").Inc()
	metrics.JobRefreshLastSuccess.Set(float64(snap.LastFetch.Unix()))
	lg.Info("Job snapshot refreshed",
		zap.String("generation", gen),
		zap.String("previous", prev.Generation),
		zap.Int("jobs", len(jobs)),
	)
	return snap, nil
}

// stage writes jobs and their vectors under gen. Jobs are embedded one at a time.
func (s *Service) stage(ctx context.Context, gen string, jobs []*entity.Job) error {
	if _, err := s.store.InsertJobs(ctx, gen, jobs); err != nil {
		return fmt.Errorf("insert jobs: %w", err)
	}
	for _, j := range jobs {
		md := vector.MetadataFor(j)
		md.Generation = gen
		_, err := s.indexer.Index(ctx, JobVectorID(gen, j.ID()), j, md)
		if errors.Is(err, domain.ErrValidation) {
			s.logger.Warn("Skipping job without embeddable text", zap.String("job_id", j.ID()))
			continue
		}
		if err != nil {
			return fmt.Errorf("index job %s: %w", j.ID(), err)
		}
	}
	return nil
}

// rollback removes a generation that never became current.
func (s *Service) rollback(ctx context.Context, gen string) {
	s.logger.Warn("Rolling back job generation", zap.String("generation", gen))
	s.purge(ctx, gen)
}

func (s *Service) purge(ctx context.Context, gen string) {
	n, err := s.purger.DeleteByGeneration(ctx, entity.KindJob, gen)
	if err != nil {
		s.logger.Error("Failed to purge job vectors", zap.String("generation", gen), zap.Error(err))
	}
	if err := s.store.DropJobs(ctx, gen); err != nil {
		s.logger.Error("Failed to drop job collection", zap.String("generation", gen), zap.Error(err))
	}
	s.logger.Debug("Purged job generation", zap.String("generation", gen), zap.Int("vectors", n))
}

// generationID is a sortable UTC timestamp with millisecond precision.
func generationID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%03dZ", t.Format("20060102T150405"), t.Nanosecond()/int(time.Millisecond))
}

func dedupe(jobs []*entity.Job) []*entity.Job {
	seen := make(map[string]struct{}, len(jobs))
	out := make([]*entity.Job, 0, len(jobs))
	for _, j := range jobs {
		if j == nil || j.ID() == "" {
			continue
		}
		if _, ok := seen[j.ID()]; ok {
			continue
		}
		seen[j.ID()] = struct{}{}
		out = append(out, j)
	}
	return out
}
