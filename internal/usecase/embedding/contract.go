package embedding

import (
	"context"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
)

type vectorStore interface {
	Fetch(ctx context.Context, ids []string) (map[string][]float32, error)
	Upsert(ctx context.Context, id string, vec []float32, md vector.Metadata) error
	Delete(ctx context.Context, ids ...string) error
}

// EntitySource streams stored entities for backfill.
type EntitySource interface {
	ScanForEmbedding(ctx context.Context, kind entity.Kind, batchSize int, fn func([]entity.Entity) error) error
	MarkEmbedded(ctx context.Context, kind entity.Kind, ids []string) error
}
