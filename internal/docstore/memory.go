package docstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. A single mutex serializes every
// Update, which preserves the per-document transaction contract. Used in
// tests and available for throwaway local runs.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[collection][key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	return cp, nil
}

func (s *MemoryStore) Put(_ context.Context, collection, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, key, doc)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, key string, fn UpdateFunc) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur []byte
	if doc, ok := s.docs[collection][key]; ok {
		cur = make([]byte, len(doc))
		copy(cur, doc)
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}
	s.put(collection, key, next)
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, collection string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.docs[collection]))
	for k, doc := range s.docs[collection] {
		cp := make([]byte, len(doc))
		copy(cp, doc)
		out[k] = cp
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// put assumes s.mu is held.
func (s *MemoryStore) put(collection, key string, doc []byte) {
	col, ok := s.docs[collection]
	if !ok {
		col = make(map[string][]byte)
		s.docs[collection] = col
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	col[key] = cp
}
