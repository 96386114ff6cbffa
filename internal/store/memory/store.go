// Package memory implements an in-process store.Store used in tests and for
// throwaway development servers.
package memory

import (
	"context"
	"sync"

	"medipos/m/internal/store"
)

// Store keeps collections in maps guarded by one mutex, which makes every
// operation atomic.
type Store struct {
	mu    sync.RWMutex
	colls map[string]*collection
}

type collection struct {
	order []string
	docs  map[string]store.Document
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{colls: make(map[string]*collection)}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.colls[name]
	if !ok {
		c = &collection{docs: make(map[string]store.Document)}
		s.colls[name] = c
	}
	return c
}

func (c *collection) each(fn func(store.Document) bool) {
	for _, id := range c.order {
		if !fn(c.docs[id]) {
			return
		}
	}
}

func (c *collection) put(doc store.Document) {
	id := doc.ID()
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = doc
}

func (c *collection) remove(id string) {
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (s *Store) Find(ctx context.Context, name string, filter store.Filter, opts ...store.FindOption) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Document, 0)
	if c, ok := s.colls[name]; ok {
		c.each(func(doc store.Document) bool {
			if store.Match(doc, filter) {
				out = append(out, doc.Clone())
			}
			return true
		})
	}
	return store.SortDocuments(out, store.ApplyFindOptions(opts)), nil
}

func (s *Store) FindOne(ctx context.Context, name string, filter store.Filter) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found store.Document
	if c, ok := s.colls[name]; ok {
		c.each(func(doc store.Document) bool {
			if store.Match(doc, filter) {
				found = doc.Clone()
				return false
			}
			return true
		})
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) Insert(ctx context.Context, name string, doc store.Document) error {
	return s.InsertMany(ctx, name, []store.Document{doc})
}

func (s *Store) InsertMany(ctx context.Context, name string, docs []store.Document) error {
	prepared, err := prepare(docs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(name)
	seen := make(map[string]bool, len(prepared))
	for _, doc := range prepared {
		id := doc.ID()
		if _, exists := c.docs[id]; exists || seen[id] {
			return store.ErrDuplicateID
		}
		seen[id] = true
	}
	for _, doc := range prepared {
		c.put(doc)
	}
	return nil
}

func (s *Store) UpdateOne(ctx context.Context, name string, filter store.Filter, patch store.Document) (bool, error) {
	clean, err := store.Normalize(patch)
	if err != nil {
		return false, err
	}
	delete(clean, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		return false, nil
	}
	var target store.Document
	c.each(func(doc store.Document) bool {
		if store.Match(doc, filter) {
			target = doc
			return false
		}
		return true
	})
	if target == nil {
		return false, nil
	}
	for k, v := range clean {
		target[k] = v
	}
	return true, nil
}

func (s *Store) Upsert(ctx context.Context, name string, doc store.Document) error {
	prepared, err := prepare([]store.Document{doc})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(name).put(prepared[0])
	return nil
}

func (s *Store) DeleteOne(ctx context.Context, name string, filter store.Filter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		return false, nil
	}
	var id string
	c.each(func(doc store.Document) bool {
		if store.Match(doc, filter) {
			id = doc.ID()
			return false
		}
		return true
	})
	if id == "" {
		return false, nil
	}
	c.remove(id)
	return true, nil
}

func (s *Store) DeleteMany(ctx context.Context, name string, filter store.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		return 0, nil
	}
	var ids []string
	c.each(func(doc store.Document) bool {
		if store.Match(doc, filter) {
			ids = append(ids, doc.ID())
		}
		return true
	})
	for _, id := range ids {
		c.remove(id)
	}
	return int64(len(ids)), nil
}

func (s *Store) Count(ctx context.Context, name string, filter store.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	if c, ok := s.colls[name]; ok {
		c.each(func(doc store.Document) bool {
			if store.Match(doc, filter) {
				n++
			}
			return true
		})
	}
	return n, nil
}

func (s *Store) Increment(ctx context.Context, name, id, field string, delta, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		return 0, store.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	current, _ := doc.Int(field)
	next := current + delta
	if floor != store.NoFloor && next < floor {
		return current, store.ErrBelowFloor
	}
	doc[field] = float64(next)
	return next, nil
}

func (s *Store) ReplaceAll(ctx context.Context, name string, docs []store.Document) error {
	prepared, err := prepare(docs)
	if err != nil {
		return err
	}
	fresh := &collection{docs: make(map[string]store.Document, len(prepared))}
	for _, doc := range prepared {
		if _, dup := fresh.docs[doc.ID()]; dup {
			return store.ErrDuplicateID
		}
		fresh.put(doc)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colls[name] = fresh
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }

func prepare(docs []store.Document) ([]store.Document, error) {
	out := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID() == "" {
			return nil, store.ErrMissingID
		}
		clean, err := store.Normalize(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, clean)
	}
	return out, nil
}
