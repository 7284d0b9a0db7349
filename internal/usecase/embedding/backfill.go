package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/logger"
	"github.com/kailas-cloud/silo/internal/metrics"
)

const defaultBackfillBatch = 100

// BackfillStats counts the outcome of a backfill run.
type BackfillStats struct {
	Indexed int
	Skipped int // blank text
	Failed  int
}

// Backfill embeds every entity of kind that src yields and replaces its vector.
// A failing entity is logged and counted; the run continues with the next one.
// Successfully indexed ids are reported back to src after each batch.
func (b *Builder) Backfill(ctx context.Context, src EntitySource, kind entity.Kind, batchSize int) (BackfillStats, error) {
	var stats BackfillStats
	switch kind {
	case entity.KindUser, entity.KindProject, entity.KindResearch:
	default:
		return stats, domain.Validationf("cannot backfill %q", kind)
	}
	if batchSize <= 0 {
		batchSize = defaultBackfillBatch
	}
	lg := logger.FromContextOr(ctx, b.logger).With(zap.String("kind", kind.String()))

	err := src.ScanForEmbedding(ctx, kind, batchSize, func(batch []entity.Entity) error {
		indexed := make([]string, 0, len(batch))
		for _, e := range batch {
			if err := ctx.Err(); err != nil {
				return err //nolint:wrapcheck // wrapped below
			}
			_, err := b.Refresh(ctx, e)
			switch {
			case err == nil:
				indexed = append(indexed, e.ID())
				stats.Indexed++
				metrics.BackfillTotal.WithLabelValues(kind.String(), "indexed").Inc()
			case errors.Is(err, ErrEmptyText):
				stats.Skipped++
				metrics.BackfillTotal.WithLabelValues(kind.String(), "skipped").Inc()
				lg.Debug("Skipping entity without text", zap.String("id", e.ID()))
			default:
				if ctx.Err() != nil {
					return ctx.Err() //nolint:wrapcheck // wrapped below
				}
				stats.Failed++
				metrics.BackfillTotal.WithLabelValues(kind.String(), "failed").Inc()
				lg.Warn("Backfill failed for entity", zap.String("id", e.ID()), zap.Error(err))
			}
		}
		if len(indexed) > 0 {
			if err := src.MarkEmbedded(ctx, kind, indexed); err != nil {
				return fmt.Errorf("mark embedded: %w", err)
			}
		}
		lg.Info("Backfill batch done",
			zap.Int("indexed", stats.Indexed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("backfill %s: %w", kind, err)
	}
	return stats, nil
}
