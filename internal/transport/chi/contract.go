package chi

import (
	"context"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	healthuc "github.com/kailas-cloud/silo/internal/usecase/health"
	"github.com/kailas-cloud/silo/internal/usecase/retrieval"
)

// Retriever serves feed, similar-user, research and candidate queries.
type Retriever interface {
	Recommend(ctx context.Context, req retrieval.RecommendRequest) ([]retrieval.Ranked, error)
	CandidateSearch(ctx context.Context, text string, topK int) ([]retrieval.Ranked, error)
}

// JobSearcher serves job recommendations from the current generation.
type JobSearcher interface {
	SearchJobs(ctx context.Context, requesterID string, topK int) ([]retrieval.Ranked, error)
}

// ProfileWriter applies profile and project writes.
type ProfileWriter interface {
	UpsertUser(ctx context.Context, requesterID string, u *entity.User) error
	UpsertProject(ctx context.Context, requesterID string, p *entity.Project) error
	DeleteProject(ctx context.Context, requesterID, id string) error
}

// HealthChecker aggregates component checks.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
