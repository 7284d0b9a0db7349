package profile

import (
	"context"

	"github.com/kailas-cloud/silo/internal/domain/entity"
)

// Store writes profile entities.
type Store interface {
	GetMany(ctx context.Context, kind entity.Kind, ids []string) ([]entity.Entity, error)
	UpsertUser(ctx context.Context, u *entity.User) error
	UpsertProject(ctx context.Context, p *entity.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// Embeddings keeps entity vectors in step with writes.
type Embeddings interface {
	Refresh(ctx context.Context, e entity.Entity) ([]float32, error)
	Remove(ctx context.Context, ids ...string) error
}
