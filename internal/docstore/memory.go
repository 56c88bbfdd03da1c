package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedulr/internal/metrics"
)

// Memory is an in-process Store. Documents are kept per collection and
// snapshots are ordered by creation time.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	now         func() time.Time
	hub         *Hub
}

func NewMemory(m *metrics.Metrics) *Memory {
	s := &Memory{
		collections: make(map[string]map[string]Document),
		now:         time.Now,
	}
	s.hub = NewHub(s.Query, m)
	return s
}

func (s *Memory) Subscribe(ctx context.Context, collection string, filter Filter, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, filter, onSnapshot, onError)
}

func (s *Memory) Create(ctx context.Context, collection string, body map[string]any) (string, error) {
	if err := ValidCollection(collection); err != nil {
		return "", err
	}
	now := s.now().UTC()
	fields, err := Normalize(body, now)
	if err != nil {
		return "", err
	}
	doc := Document{ID: uuid.NewString(), Fields: fields, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]Document)
		s.collections[collection] = c
	}
	c[doc.ID] = doc
	s.mu.Unlock()

	s.hub.Notify(collection)
	return doc.ID, nil
}

func (s *Memory) Update(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := ValidCollection(collection); err != nil {
		return err
	}
	now := s.now().UTC()
	fields, err := Normalize(partial, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	doc = doc.Clone()
	for k, v := range fields {
		doc.Fields[k] = v
	}
	doc.UpdatedAt = now
	s.collections[collection][id] = doc
	s.mu.Unlock()

	s.hub.Notify(collection)
	return nil
}

func (s *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *Memory) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := ValidCollection(collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		if filter.Match(doc.Fields) {
			out = append(out, doc.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close stops all subscriptions.
func (s *Memory) Close() { s.hub.Close() }
