package service

import (
	"context"
	"sort"
	"sync"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockEmbedder mocks the embedding client
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockVectorStore mocks the vector store
type MockVectorStore struct {
	mock.Mock
}

func (m *MockVectorStore) Upsert(ctx context.Context, docs []domain.EmbeddedDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *MockVectorStore) Search(ctx context.Context, embedding []float32, topK int, product string) ([]domain.RetrievedDocument, error) {
	args := m.Called(ctx, embedding, topK, product)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievedDocument), args.Error(1)
}

func (m *MockVectorStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockTextGenerator mocks the generation model
type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// MockLedger mocks the checkpoint ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Load() (map[string]struct{}, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockLedger) Append(ids []string) error {
	args := m.Called(ids)
	return args.Error(0)
}

// lengthEmbedder embeds text as [rune count, 1] and counts calls.
type lengthEmbedder struct {
	mu       sync.Mutex
	embedded []string
	failOn   map[string]error
}

func (e *lengthEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err, ok := e.failOn[t]; ok {
			return nil, err
		}
		out[i] = []float32{float32(len([]rune(t))), 1}
	}
	e.embedded = append(e.embedded, texts...)
	return out, nil
}

func (e *lengthEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len([]rune(text))), 1}, nil
}

func (e *lengthEmbedder) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.embedded...)
}

// memoryStore keeps documents in a map and ranks by negative distance on the first coordinate.
type memoryStore struct {
	mu       sync.RWMutex
	docs     map[string]domain.EmbeddedDocument
	upserts  int
	failNext error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]domain.EmbeddedDocument)}
}

func (s *memoryStore) Upsert(ctx context.Context, docs []domain.EmbeddedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	for _, d := range docs {
		s.docs[d.ChunkID] = d
	}
	s.upserts++
	return nil
}

func (s *memoryStore) Search(ctx context.Context, embedding []float32, topK int, product string) ([]domain.RetrievedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RetrievedDocument
	for _, d := range s.docs {
		if product != "" && d.Product != product {
			continue
		}
		diff := float64(d.Embedding[0] - embedding[0])
		if diff < 0 {
			diff = -diff
		}
		out = append(out, domain.RetrievedDocument{
			ChunkID:     d.ChunkID,
			Product:     d.Product,
			ComplaintID: d.ComplaintID,
			Text:        d.Text,
			Score:       1 / (1 + diff),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *memoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *memoryStore) ids() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.docs))
	for id := range s.docs {
		out[id] = struct{}{}
	}
	return out
}

// sliceSource serves records from memory.
type sliceSource struct {
	records []domain.ChunkRecord
	scans   int
}

func (s *sliceSource) Scan(ctx context.Context, batchSize int, fn func(batch []domain.ChunkRecord) error) error {
	s.scans++
	for start := 0; start < len(s.records); start += batchSize {
		end := start + batchSize
		if end > len(s.records) {
			end = len(s.records)
		}
		batch := append([]domain.ChunkRecord(nil), s.records[start:end]...)
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// memoryLedger is a ledger backed by a slice.
type memoryLedger struct {
	mu      sync.Mutex
	ids     []string
	loads   int
	failErr error
}

func (l *memoryLedger) Load() (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	out := make(map[string]struct{}, len(l.ids))
	for _, id := range l.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (l *memoryLedger) Append(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.ids = append(l.ids, ids...)
	return nil
}

func (l *memoryLedger) set() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]struct{}, len(l.ids))
	for _, id := range l.ids {
		out[id] = struct{}{}
	}
	return out
}

func record(id, product, text string) domain.ChunkRecord {
	return domain.ChunkRecord{
		ChunkID:           id,
		Product:           product,
		ComplaintID:       "c-" + id,
		ChunkText:         text,
		OriginalNarrative: text,
	}
}
