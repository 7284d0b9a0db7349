package jobs

import (
	"context"
	"time"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
	"github.com/kailas-cloud/silo/internal/usecase/retrieval"
)

// Store persists job generations and the pointer to the current one.
type Store interface {
	CurrentJobSnapshot(ctx context.Context) (entity.JobSnapshot, error)
	InsertJobs(ctx context.Context, generation string, jobs []*entity.Job) (int, error)
	SwapJobSnapshot(ctx context.Context, generation string, fetchedAt time.Time) (entity.JobSnapshot, error)
	DropJobs(ctx context.Context, generation string) error
}

// Board fetches the full set of postings.
type Board interface {
	FetchJobs(ctx context.Context) ([]*entity.Job, error)
}

// Indexer embeds an entity and stores it under a vector id.
type Indexer interface {
	Index(ctx context.Context, id string, e entity.Entity, md vector.Metadata) ([]float32, error)
}

// Purger bulk-deletes a generation's vectors.
type Purger interface {
	DeleteByGeneration(ctx context.Context, kind entity.Kind, generation string) (int, error)
}

// Recommender ranks jobs for a requester.
type Recommender interface {
	Recommend(ctx context.Context, req retrieval.RecommendRequest) ([]retrieval.Ranked, error)
}
