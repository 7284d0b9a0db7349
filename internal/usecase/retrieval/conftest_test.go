package retrieval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
)

type mockEntities struct {
	getUserFn       func(ctx context.Context, id string) (*entity.User, error)
	getManyFn       func(ctx context.Context, kind entity.Kind, ids []string) ([]entity.Entity, error)
	getJobsFn       func(ctx context.Context, generation string, ids []string) ([]entity.Entity, error)
	keywordSearchFn func(ctx context.Context, keywords []string, limit int) ([]entity.KeywordHit, error)
}

func (m *mockEntities) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, id)
	}
	return &entity.User{UserID: id, Username: id}, nil
}

func (m *mockEntities) GetMany(ctx context.Context, kind entity.Kind, ids []string) ([]entity.Entity, error) {
	if m.getManyFn != nil {
		return m.getManyFn(ctx, kind, ids)
	}
	return usersFor(ids), nil
}

func (m *mockEntities) GetJobs(ctx context.Context, generation string, ids []string) ([]entity.Entity, error) {
	if m.getJobsFn != nil {
		return m.getJobsFn(ctx, generation, ids)
	}
	return nil, nil
}

func (m *mockEntities) KeywordSearch(ctx context.Context, keywords []string, limit int) ([]entity.KeywordHit, error) {
	if m.keywordSearchFn != nil {
		return m.keywordSearchFn(ctx, keywords, limit)
	}
	return nil, nil
}

func usersFor(ids []string) []entity.Entity {
	out := make([]entity.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, &entity.User{UserID: id, Username: "name-" + id})
	}
	return out
}

type mockBuilder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockBuilder) GetOrCreate(_ context.Context, _ entity.Entity) ([]float32, error) {
	m.calls++
	return m.vec, m.err
}

// memIndex keeps staged vectors so tests can assert transient-vector cleanup.
type memIndex struct {
	mu        sync.Mutex
	staged    map[string]vector.Metadata
	deleted   []string
	queryFn   func(ctx context.Context, vec []float32, topK int, f vector.Filter) ([]vector.Match, error)
	upsertErr error
	deleteFn  func(ctx context.Context, ids ...string) error
}

func newMemIndex() *memIndex {
	return &memIndex{staged: make(map[string]vector.Metadata)}
}

func (m *memIndex) Upsert(_ context.Context, id string, _ []float32, md vector.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.staged[id] = md
	return nil
}

func (m *memIndex) Query(ctx context.Context, vec []float32, topK int, f vector.Filter) ([]vector.Match, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, vec, topK, f)
	}
	return nil, nil
}

func (m *memIndex) Delete(ctx context.Context, ids ...string) error {
	if m.deleteFn != nil {
		if err := m.deleteFn(ctx, ids...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.staged, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *memIndex) stagedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged)
}

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type mockKeywords struct {
	keywords []string
	err      error
}

func (m *mockKeywords) ExtractKeywords(_ context.Context, _ string) ([]string, error) {
	return m.keywords, m.err
}

type mockExplainer struct {
	mu    sync.Mutex
	fn    func(u *entity.User, evidence []string) (string, error)
	calls []string
}

func (m *mockExplainer) Explain(_ context.Context, _ string, u *entity.User, evidence []string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, u.ID())
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(u, evidence)
	}
	return "fits: " + u.ID(), nil
}

type fixture struct {
	entities  *mockEntities
	builder   *mockBuilder
	index     *memIndex
	embedder  *mockEmbedder
	keywords  *mockKeywords
	explainer *mockExplainer
}

func newFixture() *fixture {
	return &fixture{
		entities:  &mockEntities{},
		builder:   &mockBuilder{vec: []float32{1, 0}},
		index:     newMemIndex(),
		embedder:  &mockEmbedder{vec: []float32{0, 1}},
		keywords:  &mockKeywords{},
		explainer: &mockExplainer{},
	}
}

func (f *fixture) service() *Service {
	s := New(f.entities, f.builder, f.index, f.embedder, f.keywords, f.explainer, Config{
		DefaultTopK:    10,
		MaxTopK:        100,
		CandidateTopK:  50,
		ExplainTopN:    3,
		CleanupTimeout: time.Second,
	}, zap.NewNop())
	s.newID = func() string { return "fixed" }
	return s
}

func userMatch(id string, score float64) vector.Match {
	return vector.Match{ID: id, Score: score, Metadata: vector.Metadata{Type: entity.KindUser, EntityID: id}}
}
