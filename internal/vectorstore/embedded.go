package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

// embeddedStore is the in-process fallback: collections live in memory
// and are lost on restart. Search is exact cosine similarity.
type embeddedStore struct {
	log *logger.Logger

	mu          sync.RWMutex
	collections map[string]*embeddedCollection
}

type embeddedCollection struct {
	dim    int
	points map[string]Point
}

func NewEmbedded(log *logger.Logger) Store {
	return &embeddedStore{
		log:         log.With("component", "EmbeddedVectorStore"),
		collections: make(map[string]*embeddedCollection),
	}
}

func (s *embeddedStore) Mode() string { return "embedded" }

func (s *embeddedStore) SetupCollection(_ context.Context, name string, dim int) error {
	const op = "setup_collection"
	if dim <= 0 {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("invalid vector dim %d", dim), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.collections[name]; ok {
		if existing.dim != dim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection %q already exists with dim %d", name, existing.dim), nil)
		}
		return nil
	}
	s.collections[name] = &embeddedCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (s *embeddedStore) AddPoints(_ context.Context, name string, points []Point) (int, error) {
	const op = "add_points"
	if len(points) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[name]
	if !ok {
		return 0, opErr(op, OperationErrorNotFound, fmt.Sprintf("collection %q does not exist", name), nil)
	}
	for _, p := range points {
		if p.ID == "" {
			return 0, opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) != coll.dim {
			return 0, opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q has dim %d, collection %q expects %d", p.ID, len(p.Vector), name, coll.dim), nil)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		coll.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: payload}
	}
	return len(points), nil
}

func (s *embeddedStore) QueryPoints(_ context.Context, name string, vector []float32, filter map[string]any, limit int) ([]ScoredPoint, error) {
	const op = "query_points"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector is required", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[name]
	if !ok {
		return nil, opErr(op, OperationErrorNotFound, fmt.Sprintf("collection %q does not exist", name), nil)
	}
	if len(vector) != coll.dim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query dim %d, collection %q expects %d", len(vector), name, coll.dim), nil)
	}

	out := make([]ScoredPoint, 0, limit)
	for _, p := range coll.points {
		if len(filter) > 0 && !matchesFilter(p.Payload, filter) {
			continue
		}
		text, _ := p.Payload["text"].(string)
		out = append(out, ScoredPoint{
			Text:    text,
			Score:   cosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *embeddedStore) Count(_ context.Context, name string, filter map[string]any) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[name]
	if !ok {
		return 0, opErr("count", OperationErrorNotFound, fmt.Sprintf("collection %q does not exist", name), nil)
	}
	if len(filter) == 0 {
		return len(coll.points), nil
	}
	n := 0
	for _, p := range coll.points {
		if matchesFilter(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (s *embeddedStore) DeleteByFilter(_ context.Context, name string, filter map[string]any) error {
	const op = "delete_by_filter"
	if len(filter) == 0 {
		return opErr(op, OperationErrorValidation, "refusing to delete with empty filter", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[name]
	if !ok {
		return opErr(op, OperationErrorNotFound, fmt.Sprintf("collection %q does not exist", name), nil)
	}
	for id, p := range coll.points {
		if matchesFilter(p.Payload, filter) {
			delete(coll.points, id)
		}
	}
	return nil
}

func (s *embeddedStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return opErr("delete_collection", OperationErrorNotFound, fmt.Sprintf("collection %q does not exist", name), nil)
	}
	delete(s.collections, name)
	return nil
}

func (s *embeddedStore) ClearCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return opErr("clear_collection", OperationErrorValidation, fmt.Sprintf("invalid vector dim %d", dim), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &embeddedCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (s *embeddedStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.collections))
	for name := range s.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
