package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "memory",
		Loader: func(_ context.Context) (registryvector.VectorStore, error) {
			return New(), nil
		},
	})
}

type record struct {
	vector  []float32
	payload registryvector.Payload
}

// Store is an in-process vector index: one map per user, cosine similarity
// scan on search. The default backend; qdrant covers the remote case.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]record
}

// New returns an empty in-memory vector store.
func New() *Store {
	return &Store{collections: map[string]map[string]record{}}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Init(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[userID]; !ok {
		s.collections[userID] = map[string]record{}
	}
	return nil
}

func (s *Store) Upsert(_ context.Context, userID, docID string, vec []float32, payload registryvector.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[userID]
	if !ok {
		coll = map[string]record{}
		s.collections[userID] = coll
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	coll[docID] = record{vector: stored, payload: payload}
	return nil
}

func (s *Store) Search(_ context.Context, userID string, query []float32, limit int, threshold float64, typeFilter string) ([]registryvector.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[userID]
	if !ok {
		return nil, nil
	}

	var results []registryvector.SearchResult
	for docID, rec := range coll {
		if typeFilter != "" && rec.payload.Type != typeFilter {
			continue
		}
		score := Cosine(query, rec.vector)
		if score >= threshold {
			results = append(results, registryvector.SearchResult{
				DocID:   docID,
				Score:   score,
				Payload: rec.payload,
			})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) Delete(_ context.Context, userID, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[userID]
	if !ok {
		return false, nil
	}
	if _, ok := coll[docID]; !ok {
		return false, nil
	}
	delete(coll, docID)
	return true, nil
}

func (s *Store) GetVector(_ context.Context, userID, docID string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[userID]
	if !ok {
		return nil, nil
	}
	rec, ok := coll[docID]
	if !ok {
		return nil, nil
	}
	out := make([]float32, len(rec.vector))
	copy(out, rec.vector)
	return out, nil
}

func (s *Store) All(_ context.Context, userID string) ([]registryvector.StoredVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[userID]
	if !ok {
		return nil, nil
	}
	out := make([]registryvector.StoredVector, 0, len(coll))
	for docID, rec := range coll {
		vec := make([]float32, len(rec.vector))
		copy(vec, rec.vector)
		out = append(out, registryvector.StoredVector{DocID: docID, Vector: vec, Payload: rec.payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 for unequal-length
// or zero-norm vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ registryvector.VectorStore = (*Store)(nil)
