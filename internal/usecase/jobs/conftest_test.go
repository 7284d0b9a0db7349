package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
	"github.com/kailas-cloud/silo/internal/usecase/retrieval"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu          sync.Mutex
	snap        entity.JobSnapshot
	collections map[string][]*entity.Job
	dropped     []string
	snapshotErr error
	insertErr   error
	swapErr     error
}

func newMemStore() *memStore {
	return &memStore{collections: make(map[string][]*entity.Job)}
}

func (m *memStore) CurrentJobSnapshot(context.Context) (entity.JobSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.snapshotErr
}

func (m *memStore) InsertJobs(_ context.Context, generation string, jobs []*entity.Job) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.collections[generation] = append(m.collections[generation], jobs...)
	return len(jobs), nil
}

func (m *memStore) SwapJobSnapshot(_ context.Context, generation string, fetchedAt time.Time) (entity.JobSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.swapErr != nil {
		return entity.JobSnapshot{}, m.swapErr
	}
	m.snap = entity.JobSnapshot{Collection: "jobs_" + generation, Generation: generation, LastFetch: fetchedAt}
	return m.snap, nil
}

func (m *memStore) DropJobs(_ context.Context, generation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, generation)
	m.dropped = append(m.dropped, generation)
	return nil
}

type mockBoard struct {
	mu      sync.Mutex
	jobs    []*entity.Job
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (m *mockBoard) FetchJobs(context.Context) ([]*entity.Job, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.started != nil {
		m.started <- struct{}{}
		<-m.release
	}
	return m.jobs, m.err
}

func (m *mockBoard) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memVectors implements both Indexer and Purger.
type memVectors struct {
	mu        sync.Mutex
	data      map[string]vector.Metadata
	failAfter int // fail Index once this many vectors were stored, 0 = never
	indexErr  error
}

func newMemVectors() *memVectors {
	return &memVectors{data: make(map[string]vector.Metadata)}
}

func (m *memVectors) Index(_ context.Context, id string, e entity.Entity, md vector.Metadata) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(e.TextSurface()) == "" {
		return nil, domain.Validationf("no text to embed")
	}
	if m.failAfter > 0 && len(m.data) >= m.failAfter {
		return nil, m.indexErr
	}
	m.data[id] = md
	return []float32{1}, nil
}

func (m *memVectors) DeleteByGeneration(_ context.Context, kind entity.Kind, generation string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, md := range m.data {
		if md.Type == kind && md.Generation == generation {
			delete(m.data, id)
			n++
		}
	}
	return n, nil
}

func (m *memVectors) countGeneration(generation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, md := range m.data {
		if md.Generation == generation && strings.HasPrefix(id, "job:"+generation+":") {
			n++
		}
	}
	return n
}

type mockRecommender struct {
	reqs []retrieval.RecommendRequest
}

func (m *mockRecommender) Recommend(_ context.Context, req retrieval.RecommendRequest) ([]retrieval.Ranked, error) {
	m.reqs = append(m.reqs, req)
	return []retrieval.Ranked{{Entity: &entity.Job{JobID: "j1"}, Score: 0.9}}, nil
}

type fixture struct {
	store   *memStore
	board   *mockBoard
	vectors *memVectors
	rec     *mockRecommender
	cfg     Config
}

func newFixture() *fixture {
	return &fixture{
		store: newMemStore(),
		board: &mockBoard{jobs: []*entity.Job{
			{JobID: "j1", Title: "Go Engineer"},
			{JobID: "j2", Title: "Data Scientist"},
		}},
		vectors: newMemVectors(),
		rec:     &mockRecommender{},
		cfg:     Config{TTL: 24 * time.Hour},
	}
}

func (f *fixture) service() *Service {
	s := New(f.store, f.board, f.vectors, f.vectors, f.rec, f.cfg, zap.NewNop())
	s.now = func() time.Time { return testNow }
	return s
}

// seedGeneration installs a current generation fetched at fetchedAt.
func (f *fixture) seedGeneration(gen string, fetchedAt time.Time) {
	f.store.snap = entity.JobSnapshot{Collection: "jobs_" + gen, Generation: gen, LastFetch: fetchedAt}
	f.store.collections[gen] = []*entity.Job{{JobID: "old"}}
	f.vectors.data[JobVectorID(gen, "old")] = vector.Metadata{Type: entity.KindJob, EntityID: "old", Generation: gen}
}
