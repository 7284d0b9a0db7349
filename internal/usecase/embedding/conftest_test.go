package embedding

import (
	"context"
	"sync"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
)

type mockEmbedder struct {
	mu     sync.Mutex
	result domain.EmbeddingResult
	errs   []error // returned in order before result
	texts  []string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return domain.EmbeddingResult{}, err
	}
	return m.result, nil
}

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

type storedVector struct {
	vec []float32
	md  vector.Metadata
}

type memVectors struct {
	mu        sync.Mutex
	data      map[string]storedVector
	fetchErr  error
	upsertErr error
	deleted   []string
}

func newMemVectors() *memVectors {
	return &memVectors{data: make(map[string]storedVector)}
}

func (m *memVectors) Fetch(_ context.Context, ids []string) (map[string][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make(map[string][]float32)
	for _, id := range ids {
		if v, ok := m.data[id]; ok {
			out[id] = v.vec
		}
	}
	return out, nil
}

func (m *memVectors) Upsert(_ context.Context, id string, vec []float32, md vector.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.data[id] = storedVector{vec: vec, md: md}
	return nil
}

func (m *memVectors) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.data, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

type memSource struct {
	entities []entity.Entity
	scanErr  error
	markErr  error
	marked   []string
	batches  []int
}

func (m *memSource) ScanForEmbedding(_ context.Context, _ entity.Kind, batchSize int, fn func([]entity.Entity) error) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	for start := 0; start < len(m.entities); start += batchSize {
		end := min(start+batchSize, len(m.entities))
		m.batches = append(m.batches, end-start)
		if err := fn(m.entities[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memSource) MarkEmbedded(_ context.Context, _ entity.Kind, ids []string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = append(m.marked, ids...)
	return nil
}
