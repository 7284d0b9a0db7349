package embedding

import (
	"context"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/retry"
)

// RetryingEmbedder applies the shared retry policy to every Embed call.
type RetryingEmbedder struct {
	inner  domain.Embedder
	policy retry.Policy
}

// NewRetryingEmbedder wraps inner with policy.
func NewRetryingEmbedder(inner domain.Embedder, policy retry.Policy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy}
}

// Embed implements domain.Embedder.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return retry.Value(ctx, r.policy, "embedding", func(ctx context.Context) (domain.EmbeddingResult, error) {
		return r.inner.Embed(ctx, text)
	})
}
