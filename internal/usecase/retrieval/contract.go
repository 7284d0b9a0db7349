package retrieval

import (
	"context"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
)

// EntityStore reads entities and runs the keyword scan.
type EntityStore interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
	GetMany(ctx context.Context, kind entity.Kind, ids []string) ([]entity.Entity, error)
	GetJobs(ctx context.Context, generation string, ids []string) ([]entity.Entity, error)
	KeywordSearch(ctx context.Context, keywords []string, limit int) ([]entity.KeywordHit, error)
}

// VectorIndex is the similarity index.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vec []float32, md vector.Metadata) error
	Query(ctx context.Context, vec []float32, topK int, f vector.Filter) ([]vector.Match, error)
	Delete(ctx context.Context, ids ...string) error
}

// EmbeddingBuilder returns an entity's embedding, building it when missing.
type EmbeddingBuilder interface {
	GetOrCreate(ctx context.Context, e entity.Entity) ([]float32, error)
}

// KeywordExtractor derives search keywords from free text.
type KeywordExtractor interface {
	ExtractKeywords(ctx context.Context, text string) ([]string, error)
}

// Explainer writes a short "why this matches" text for a candidate.
type Explainer interface {
	Explain(ctx context.Context, jobDescription string, u *entity.User, evidence []string) (string, error)
}

// Embedder vectorizes one-shot query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
