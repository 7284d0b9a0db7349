package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/silo/internal/db"
	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
	"github.com/kailas-cloud/silo/internal/retry"
)

const (
	fieldVector = "vector"
	// purgeBatch bounds the keys listed per FT.SEARCH page during a generation purge.
	purgeBatch = 500
)

var returnFields = []string{
	vector.FieldType, vector.FieldEntityID, vector.FieldLabel, vector.FieldGeneration,
}

// store is the consumer interface for the vector index (ISP).
type store interface {
	HReplace(ctx context.Context, key string, fields map[string]string) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchKeys(ctx context.Context, q *db.TagQuery) (*db.SearchResult, error)
}

// Config holds index schema settings.
type Config struct {
	Prefix          string // key prefix, e.g. "silo:"
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
}

// Repo stores one vector per entity id in Redis hashes behind an HNSW index.
type Repo struct {
	store  store
	cfg    Config
	policy retry.Policy
}

// New creates a vector repository.
func New(s store, cfg Config, policy retry.Policy) *Repo {
	if cfg.Prefix == "" {
		cfg.Prefix = domain.KeyPrefix
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = domain.DefaultDimensions
	}
	return &Repo{store: s, cfg: cfg, policy: policy}
}

// EnsureIndex creates the index if missing. An existing index is success.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("index info: %w: %w", domain.ErrIndex, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.indexName()).
		Prefix(r.keyPrefix()).
		Tag(vector.FieldType).
		Tag(vector.FieldEntityID).
		Tag(vector.FieldGeneration).
		VectorHNSW(fieldVector, r.cfg.Dimensions, db.DistanceCosine, r.cfg.HNSWM, r.cfg.HNSWEFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w: %w", domain.ErrIndex, err)
	}
	return nil
}

// Upsert replaces the vector and metadata stored under id.
func (r *Repo) Upsert(ctx context.Context, id string, vec []float32, md vector.Metadata) error {
	if id == "" {
		return domain.Validationf("vector id is required")
	}
	if len(vec) != r.cfg.Dimensions {
		return domain.Validationf("vector has %d dimensions, index expects %d", len(vec), r.cfg.Dimensions)
	}
	if !md.Type.Valid() {
		return domain.Validationf("invalid vector type %q", md.Type)
	}

	fields := map[string]string{
		fieldVector:          encodeVector(vec),
		vector.FieldType:     string(md.Type),
		vector.FieldEntityID: md.EntityID,
		vector.FieldLabel:    md.Label,
	}
	if md.Generation != "" {
		fields[vector.FieldGeneration] = md.Generation
	}

	key := r.key(id)
	err := r.policy.Do(ctx, "vector.upsert", func(ctx context.Context) error {
		return r.store.HReplace(ctx, key, fields)
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w: %w", id, domain.ErrIndex, err)
	}
	return nil
}

// Fetch returns the stored vectors for ids. Missing ids are absent from the map.
func (r *Repo) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}

	hashes, err := retry.Value(ctx, r.policy, "vector.fetch", func(ctx context.Context) ([]map[string]string, error) {
		return r.store.HGetAllMulti(ctx, keys)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: %w", domain.ErrIndex, err)
	}

	out := make(map[string][]float32, len(ids))
	for i, h := range hashes {
		raw, ok := h[fieldVector]
		if !ok || raw == "" {
			continue
		}
		vec, err := decodeVector(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w: %w", ids[i], domain.ErrIndex, err)
		}
		out[ids[i]] = vec
	}
	return out, nil
}

// Query returns at most topK nearest vectors that satisfy f, best first.
// f must restrict the entity type.
func (r *Repo) Query(ctx context.Context, vec []float32, topK int, f vector.Filter) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, domain.Validationf("top_k must be positive")
	}
	expr, err := f.Expression()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	q := &db.KNNQuery{
		IndexName:    r.indexName(),
		VectorField:  fieldVector,
		Filters:      expr,
		Vector:       vec,
		K:            topK,
		ReturnFields: returnFields,
	}

	res, err := retry.Value(ctx, r.policy, "vector.query", func(ctx context.Context) (*db.SearchResult, error) {
		return r.store.SearchKNN(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w: %w", domain.ErrIndex, err)
	}

	matches := make([]vector.Match, 0, len(res.Entries))
	for _, e := range res.Entries {
		md := vector.Metadata{
			Type:       entity.Kind(e.Fields[vector.FieldType]),
			EntityID:   e.Fields[vector.FieldEntityID],
			Label:      e.Fields[vector.FieldLabel],
			Generation: e.Fields[vector.FieldGeneration],
		}
		// the index pre-filters; this guards against tag tokenization surprises
		if !f.Matches(md) {
			continue
		}
		matches = append(matches, vector.Match{ID: r.idFromKey(e.Key), Score: e.Score, Metadata: md})
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}

// Delete removes vectors by id. Missing ids are ignored.
func (r *Repo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	err := r.policy.Do(ctx, "vector.delete", func(ctx context.Context) error {
		return r.store.Del(ctx, keys...)
	})
	if err != nil {
		return fmt.Errorf("delete: %w: %w", domain.ErrIndex, err)
	}
	return nil
}

// DeleteByGeneration purges every vector of kind tagged with generation.
// Returns the number of deleted vectors.
func (r *Repo) DeleteByGeneration(ctx context.Context, kind entity.Kind, generation string) (int, error) {
	if generation == "" {
		return 0, domain.Validationf("generation is required")
	}
	expr, err := vector.OfType(kind).WithGeneration(generation).Expression()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	deleted := 0
	for {
		// deleting shifts the result window, so always read the first page
		res, err := retry.Value(ctx, r.policy, "vector.list_generation", func(ctx context.Context) (*db.SearchResult, error) {
			return r.store.SearchKeys(ctx, &db.TagQuery{
				IndexName: r.indexName(),
				Filters:   expr,
				Limit:     purgeBatch,
			})
		})
		if err != nil {
			return deleted, fmt.Errorf("list generation %s: %w: %w", generation, domain.ErrIndex, err)
		}
		if len(res.Entries) == 0 {
			return deleted, nil
		}

		keys := make([]string, len(res.Entries))
		for i, e := range res.Entries {
			keys[i] = e.Key
		}
		err = r.policy.Do(ctx, "vector.purge", func(ctx context.Context) error {
			return r.store.Del(ctx, keys...)
		})
		if err != nil {
			return deleted, fmt.Errorf("purge generation %s: %w: %w", generation, domain.ErrIndex, err)
		}
		deleted += len(keys)

		if len(res.Entries) < purgeBatch {
			return deleted, nil
		}
	}
}

func (r *Repo) keyPrefix() string { return r.cfg.Prefix + "vec:" }

func (r *Repo) key(id string) string { return r.keyPrefix() + id }

func (r *Repo) indexName() string { return r.cfg.Prefix + "vec:idx" }

func (r *Repo) idFromKey(key string) string {
	return strings.TrimPrefix(key, r.keyPrefix())
}

func encodeVector(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func decodeVector(raw string) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob: len=%d (not multiple of 4)", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(raw[i*4 : i*4+4])))
	}
	return vec, nil
}
