// Package embedding owns entity embeddings: lazy creation, refresh on write,
// and the decorators around the embedding provider.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
	"github.com/kailas-cloud/silo/internal/logger"
)

// ErrEmptyText is returned for entities with nothing to embed.
var ErrEmptyText = fmt.Errorf("%w: no text to embed", domain.ErrValidation)

// Builder returns an entity's stored embedding, building it on first access.
// There is no locking: concurrent cold builds may both call the provider and
// the last upsert wins.
type Builder struct {
	embedder domain.Embedder
	vectors  vectorStore
	logger   *zap.Logger
}

// NewBuilder creates a lazy embedding builder.
func NewBuilder(embedder domain.Embedder, vectors vectorStore, logger *zap.Logger) *Builder {
	return &Builder{embedder: embedder, vectors: vectors, logger: logger}
}

// GetOrCreate returns the stored vector for e, embedding and storing it when missing.
// An existing vector is returned unchanged even if e's text has changed since.
func (b *Builder) GetOrCreate(ctx context.Context, e entity.Entity) ([]float32, error) {
	found, err := b.vectors.Fetch(ctx, []string{e.ID()})
	if err != nil {
		return nil, fmt.Errorf("fetch embedding: %w", err)
	}
	if vec, ok := found[e.ID()]; ok {
		return vec, nil
	}

	logger.FromContextOr(ctx, b.logger).Debug("Building missing embedding",
		zap.String("kind", e.Kind().String()),
		zap.String("id", e.ID()),
	)
	return b.Refresh(ctx, e)
}

// Refresh embeds e's current text and replaces its stored vector.
func (b *Builder) Refresh(ctx context.Context, e entity.Entity) ([]float32, error) {
	return b.Index(ctx, e.ID(), e, vector.MetadataFor(e))
}

// Index embeds e and stores the vector under id with md.
// Used directly when the vector id differs from the entity id.
// An entity with a blank text surface is ErrEmptyText and never reaches the provider.
func (b *Builder) Index(ctx context.Context, id string, e entity.Entity, md vector.Metadata) ([]float32, error) {
	text := e.TextSurface()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s %s: %w", e.Kind(), e.ID(), ErrEmptyText)
	}
	res, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed %s %s: %w", e.Kind(), e.ID(), err)
	}
	if err := b.vectors.Upsert(ctx, id, res.Embedding, md); err != nil {
		return nil, fmt.Errorf("store embedding: %w", err)
	}
	return res.Embedding, nil
}

// Remove deletes the vectors with the given ids. Missing ids are ignored.
func (b *Builder) Remove(ctx context.Context, ids ...string) error {
	if err := b.vectors.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("remove embeddings: %w", err)
	}
	return nil
}
