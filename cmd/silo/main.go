package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/config"
	dbMongo "github.com/kailas-cloud/silo/internal/db/mongodb"
	dbRedis "github.com/kailas-cloud/silo/internal/db/redis"
	"github.com/kailas-cloud/silo/internal/domain"
	logpkg "github.com/kailas-cloud/silo/internal/logger"
	"github.com/kailas-cloud/silo/internal/metrics"
	"github.com/kailas-cloud/silo/internal/repository/embcache"
	entityrepo "github.com/kailas-cloud/silo/internal/repository/entity"
	vectorrepo "github.com/kailas-cloud/silo/internal/repository/vector"
	"github.com/kailas-cloud/silo/internal/retry"
	chiTransport "github.com/kailas-cloud/silo/internal/transport/chi"
	"github.com/kailas-cloud/silo/internal/transport/jobboard"
	openaiTransport "github.com/kailas-cloud/silo/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/silo/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/silo/internal/usecase/health"
	jobsuc "github.com/kailas-cloud/silo/internal/usecase/jobs"
	profileuc "github.com/kailas-cloud/silo/internal/usecase/profile"
	retrievaluc "github.com/kailas-cloud/silo/internal/usecase/retrieval"
	"github.com/kailas-cloud/silo/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting silo API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("redis_addrs", cfg.Redis.Addrs),
		zap.String("mongo_database", cfg.Mongo.Database),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	ctx := context.Background()

	// Vector index
	redisStore, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create redis store", zap.Error(err))
	}
	defer redisStore.Close()

	if err := redisStore.WaitForReady(ctx, config.Seconds(cfg.Redis.ReadinessTimeout)); err != nil {
		logger.Fatal("Redis not ready", zap.Error(err))
	}
	logger.Info("Connected to redis")

	// Entity store
	mongoClient, err := dbMongo.Connect(ctx, dbMongo.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: config.Seconds(cfg.Mongo.ConnectTimeout),
	})
	if err != nil {
		logger.Fatal("Failed to connect to mongo", zap.Error(err))
	}
	defer func() { _ = mongoClient.Close(context.Background()) }()

	if err := mongoClient.Ping(ctx); err != nil {
		logger.Fatal("Mongo not ready", zap.Error(err))
	}
	logger.Info("Connected to mongo")

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
		Logger:      logger,
	}

	// Repositories
	vectors := vectorrepo.New(redisStore, vectorrepo.Config{
		Prefix:          cfg.Redis.KeyPrefix,
		Dimensions:      cfg.Embedding.Dimensions,
		HNSWM:           cfg.Redis.HNSWM,
		HNSWEFConstruct: cfg.Redis.HNSWEFConstruct,
	}, policy.WithTimeout(config.Seconds(cfg.Redis.CallTimeoutSec)))
	if err := vectors.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}
	entities := entityrepo.New(mongoClient.Database())

	// Providers
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	embedder := buildEmbedder(cfg, baseEmbedder, redisStore,
		policy.WithTimeout(config.Seconds(cfg.Embedding.CallTimeoutSec)), logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	chat, err := openaiTransport.NewChat(&openaiTransport.ChatConfig{
		APIKey:           cfg.LLM.APIKey,
		BaseURL:          cfg.LLM.BaseURL,
		KeywordModel:     cfg.LLM.KeywordModel,
		ExplanationModel: cfg.LLM.ExplanationModel,
		KeywordCacheSize: cfg.LLM.KeywordCacheSize,
		Provider:         cfg.Embedding.Provider,
		Policy:           policy.WithTimeout(config.Seconds(cfg.LLM.CallTimeoutSec)),
		Logger:           logger,
	})
	if err != nil {
		logger.Fatal("Failed to create chat client", zap.Error(err))
	}

	board := jobboard.New(jobboard.Config{
		BaseURL:     cfg.Jobs.BoardURL,
		APIKey:      cfg.Jobs.APIKey,
		APIHost:     cfg.Jobs.APIHost,
		CountryCode: cfg.Jobs.CountryCode,
		MaxPages:    cfg.Jobs.MaxPages,
		Logger:      logger,
	}, policy.WithTimeout(config.Seconds(cfg.Jobs.CallTimeoutSec)))

	// Use case services
	builder := embeddinguc.NewBuilder(embedder, vectors, logger)
	retrievalSvc := retrievaluc.New(entities, builder, vectors, embedder, chat, chat, retrievaluc.Config{
		DefaultTopK:    cfg.Search.DefaultTopK,
		MaxTopK:        cfg.Search.MaxTopK,
		CandidateTopK:  cfg.Search.CandidateTopK,
		ExplainTopN:    cfg.Search.ExplainTopN,
		CleanupTimeout: config.Seconds(cfg.Search.CleanupTimeoutS),
	}, logger)
	jobsSvc := jobsuc.New(entities, board, builder, vectors, retrievalSvc, jobsuc.Config{
		TTL:          cfg.Jobs.TTL,
		ForceRefresh: cfg.Jobs.ForceRefresh,
	}, logger)
	profileSvc := profileuc.New(entities, builder, logger)
	healthSvc := healthuc.New(redisStore, mongoClient, baseEmbedder, chat)

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	var scheduler *cron.Cron
	if cfg.Jobs.RefreshSchedule != "" {
		scheduler, err = jobsSvc.StartScheduler(schedCtx, cfg.Jobs.RefreshSchedule)
		if err != nil {
			logger.Fatal("Failed to start job refresh scheduler", zap.Error(err))
		}
	}

	// Create chi server
	server := chiTransport.NewServer(retrievalSvc, jobsSvc, profileSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.JWTAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Claim))
	r.Use(metrics.Middleware())
	server.Routes(r)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT verification disabled, requester is taken from " + chiTransport.UserIDHeader)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  config.Seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.HTTP.WriteTimeoutSec),
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
	defer cancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
			logger.Info("Job refresh scheduler stopped")
		case <-shutdownCtx.Done():
			logger.Warn("Job refresh still running at shutdown")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Retrying -> Cached -> Instrumented.
func buildEmbedder(
	cfg config.Config,
	base domain.Embedder,
	store *dbRedis.Store,
	policy retry.Policy,
	logger *zap.Logger,
) domain.Embedder {
	var embedder domain.Embedder = embeddinguc.NewRetryingEmbedder(base, policy)

	if cfg.Redis.CacheEmbeddings {
		embedder = embcache.New(embedder, store, cfg.Embedding.Model, logger,
			embcache.WithCounter(metrics.EmbeddingCacheTotal),
		)
	}

	return embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, cfg.Embedding.Model, logger,
	)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    "internal_error",
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			}
			if tokens := ww.Header().Get("X-Embedding-Tokens"); tokens != "" {
				fields = append(fields, zap.String("embedding_tokens", tokens))
			}
			reqLogger.Info("http_request", fields...)
		})
	}
}
