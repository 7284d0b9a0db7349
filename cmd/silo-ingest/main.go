// Command silo-ingest builds vectors for entities already stored in MongoDB:
// users, projects, and research papers not yet embedded.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/config"
	dbMongo "github.com/kailas-cloud/silo/internal/db/mongodb"
	dbRedis "github.com/kailas-cloud/silo/internal/db/redis"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	logpkg "github.com/kailas-cloud/silo/internal/logger"
	entityrepo "github.com/kailas-cloud/silo/internal/repository/entity"
	vectorrepo "github.com/kailas-cloud/silo/internal/repository/vector"
	"github.com/kailas-cloud/silo/internal/retry"
	openaiTransport "github.com/kailas-cloud/silo/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/silo/internal/usecase/embedding"
	"github.com/kailas-cloud/silo/internal/version"
)

var (
	kinds     []string
	batchSize int
)

var rootCmd = &cobra.Command{
	Use:   "silo-ingest",
	Short: "Embed stored users, projects and research papers into the vector index",
	Long: `silo-ingest walks the entity store and (re)builds the vector of every
entity of the selected kinds. Users and projects are always re-embedded.
Research papers already marked as embedded are skipped.

Configuration is read the same way as the API server (ENV selects the file).

Example:
  silo-ingest --kinds research --batch-size 50`,
	SilenceUsage: true,
	RunE:         runIngest,
}

func init() {
	rootCmd.Flags().StringSliceVar(&kinds, "kinds", []string{"user", "project", "research"}, "entity kinds to ingest")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 100, "entities per batch")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	targets := make([]entity.Kind, 0, len(kinds))
	for _, raw := range kinds {
		k, err := entity.ParseKind(raw)
		if err != nil {
			return err //nolint:wrapcheck // message names the kind
		}
		targets = append(targets, k)
	}

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting silo ingest",
		zap.String("version", version.Version),
		zap.String("env", env),
		zap.Strings("kinds", kinds),
		zap.Int("batch_size", batchSize),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisStore, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis store: %w", err)
	}
	defer redisStore.Close()
	if err := redisStore.WaitForReady(ctx, config.Seconds(cfg.Redis.ReadinessTimeout)); err != nil {
		return fmt.Errorf("redis not ready: %w", err)
	}

	mongoClient, err := dbMongo.Connect(ctx, dbMongo.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: config.Seconds(cfg.Mongo.ConnectTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to mongo: %w", err)
	}
	defer func() { _ = mongoClient.Close(context.Background()) }()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
		Logger:      logger,
	}

	vectors := vectorrepo.New(redisStore, vectorrepo.Config{
		Prefix:          cfg.Redis.KeyPrefix,
		Dimensions:      cfg.Embedding.Dimensions,
		HNSWM:           cfg.Redis.HNSWM,
		HNSWEFConstruct: cfg.Redis.HNSWEFConstruct,
	}, policy.WithTimeout(config.Seconds(cfg.Redis.CallTimeoutSec)))
	if err := vectors.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector index: %w", err)
	}
	entities := entityrepo.New(mongoClient.Database())

	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	embedder := embeddinguc.NewInstrumentedEmbedder(
		embeddinguc.NewRetryingEmbedder(base, policy.WithTimeout(config.Seconds(cfg.Embedding.CallTimeoutSec))),
		cfg.Embedding.Provider, cfg.Embedding.Model, logger,
	)
	builder := embeddinguc.NewBuilder(embedder, vectors, logger)

	for _, k := range targets {
		stats, err := builder.Backfill(ctx, entities, k, batchSize)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", k, err)
		}
		logger.Info("Ingest complete",
			zap.String("kind", k.String()),
			zap.Int("indexed", stats.Indexed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
	}
	return nil
}
