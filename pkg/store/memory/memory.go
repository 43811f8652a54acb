// Package memory is the in-process Ledger Store implementation. It is the
// default backend for local runs and the backend every engine test runs
// against.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Store keeps collections of documents in memory. Mutations on a collection
// serialize behind its lock, which trivially satisfies the single-document
// atomic conditional-update contract; reads run concurrently.
type Store struct {
	collections *xsync.Map[string, *collection]
}

type collection struct {
	mu    sync.RWMutex
	docs  map[string]store.Doc
	byKey map[string]string // upsert identity -> document id
}

func New() *Store {
	return &Store{collections: xsync.NewMap[string, *collection]()}
}

func (s *Store) collection(name string) *collection {
	if c, ok := s.collections.Load(name); ok {
		return c
	}
	c, _ := s.collections.Compute(name, func(old *collection, loaded bool) (*collection, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		return &collection{docs: map[string]store.Doc{}, byKey: map[string]string{}}, xsync.UpdateOp
	})
	return c
}

func clone(doc store.Doc) store.Doc {
	out := make(store.Doc, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (s *Store) FindOne(_ context.Context, name string, filter store.Filter) (store.Doc, error) {
	c := s.collection(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, doc := range c.docs {
		if store.Matches(doc, filter) {
			return clone(doc), nil
		}
	}
	return nil, store.ErrNoDocuments
}

func (s *Store) FindMany(_ context.Context, name string, filter store.Filter, sortBy *store.Sort, limit int) ([]store.Doc, error) {
	c := s.collection(name)
	c.mu.RLock()
	var out []store.Doc
	for _, doc := range c.docs {
		if store.Matches(doc, filter) {
			out = append(out, clone(doc))
		}
	}
	c.mu.RUnlock()

	if sortBy != nil {
		sort.SliceStable(out, func(i, j int) bool {
			cmp := store.CompareNumeric(out[i][sortBy.Field], out[j][sortBy.Field])
			if sortBy.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertOne(_ context.Context, name string, doc store.Doc) (string, error) {
	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	id, _ := doc[store.ID].(string)
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := c.docs[id]; exists {
		return "", store.ErrDuplicateID
	}
	inserted := clone(doc)
	inserted[store.ID] = id
	c.docs[id] = inserted
	return id, nil
}

func (s *Store) UpdateOne(_ context.Context, name string, filter store.Filter, update store.Update, opts ...store.UpdateOptions) (bool, error) {
	upsert := len(opts) > 0 && opts[0].Upsert

	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, doc := range c.docs {
		if store.Matches(doc, filter) {
			c.docs[id] = store.ApplyUpdate(doc, update)
			return true, nil
		}
	}

	if !upsert {
		return false, nil
	}

	// Upserts of the same logical document collapse onto one row keyed by
	// the filter's equality fields.
	key := store.UpsertKey(name, filter)
	if id, ok := c.byKey[key]; ok {
		c.docs[id] = store.ApplyUpdate(c.docs[id], update)
		return true, nil
	}

	// A filter addressing a well-known id (the fee pot) must seed that id,
	// not a generated one, or the document becomes unreachable by its own
	// filter.
	seed := store.UpsertSeed(filter)
	id, _ := seed[store.ID].(string)
	if id == "" {
		id = uuid.NewString()
		seed[store.ID] = id
	} else if _, exists := c.docs[id]; exists {
		// The id exists but a precondition in the filter missed; seeding a
		// second document under the same id is never right.
		return false, store.ErrDuplicateID
	}
	c.docs[id] = store.ApplyUpdate(seed, update)
	c.byKey[key] = id
	return true, nil
}

func (s *Store) DeleteOne(_ context.Context, name string, filter store.Filter) (bool, error) {
	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, doc := range c.docs {
		if store.Matches(doc, filter) {
			delete(c.docs, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteMany(_ context.Context, name string, filter store.Filter) (int64, error) {
	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, doc := range c.docs {
		if store.Matches(doc, filter) {
			delete(c.docs, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Count(_ context.Context, name string, filter store.Filter) (int64, error) {
	c := s.collection(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, doc := range c.docs {
		if store.Matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }
