// Package vectordb owns the mapping from collection name to
// pkg/collection.Collection: creation/destruction of collections, insert
// and delete of embeddings, and the single-writer/many-reader discipline
// that makes the whole thing safe for concurrent HTTP handlers.
//
// A Database is the only shared mutable resource in the system: one
// sync.RWMutex guards the entire collection map, and every mutating
// operation triggers a best-effort snapshot write (pkg/snapshot) while
// still holding the write lock, so a reader never observes a mutation
// before its snapshot write has been attempted. A failed snapshot write is
// logged and the mutation stays in effect in memory.
package vectordb

import (
	"context"
	"errors"
	"sync"

	"github.com/cianyyz/vectordb/pkg/collection"
	"github.com/cianyyz/vectordb/pkg/distance"
	"github.com/cianyyz/vectordb/pkg/snapshot"
	"github.com/cianyyz/vectordb/pkg/vlog"
)

// Core error kinds. Each is raised by the Database methods and mapped to
// an HTTP status by pkg/server.
var (
	ErrUniqueViolation   = errors.New("vectordb: collection already exists")
	ErrNotFound          = errors.New("vectordb: collection not found")
	ErrDimensionMismatch = errors.New("vectordb: vector dimension mismatch")
	ErrIDNotFound        = errors.New("vectordb: id not found in collection")
)

// CollectionInfo is the read-only summary returned by GetCollectionInfo.
type CollectionInfo struct {
	Name           string
	Dimension      int
	Distance       distance.Metric
	EmbeddingCount int
}

// Database maps collection names to collections and serializes mutation
// through a single exclusive lock, giving the whole engine a
// single-writer/many-reader discipline. It is safe for concurrent use by
// multiple goroutines.
type Database struct {
	mu          sync.RWMutex
	collections map[string]*collection.Collection

	store *snapshot.Store
	log   *vlog.Logger
}

// Open loads the database from path via pkg/snapshot (creating an empty one
// if it doesn't exist yet) and returns a Database ready to serve requests.
// A decode failure reading an existing snapshot is fatal.
func Open(path string, log *vlog.Logger) (*Database, error) {
	if log == nil {
		log = vlog.Default()
	}
	store := snapshot.NewStore(path)
	collections, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Database{collections: collections, store: store, log: log}, nil
}

// CreateCollection creates a new, empty collection under name with the
// given dimension and metric, optionally seeding it with initial
// embeddings in the same write-locked operation. It returns
// ErrUniqueViolation if the name is already taken, or
// collection.ErrDimensionMismatch if a seed embedding doesn't match
// dimension.
func (db *Database) CreateCollection(name string, dimension int, metric distance.Metric, seed []collection.Embedding) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.collections[name]; ok {
		return ErrUniqueViolation
	}

	c := collection.New(dimension, metric)
	for _, e := range seed {
		if err := c.Insert(e); err != nil {
			return err
		}
	}
	db.collections[name] = c
	db.save()
	return nil
}

// DeleteCollection removes name and every embedding it holds.
func (db *Database) DeleteCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.collections[name]; !ok {
		return ErrNotFound
	}
	delete(db.collections, name)
	db.save()
	return nil
}

// GetCollectionInfo returns name, dimension, metric, and embedding count
// for the named collection.
func (db *Database) GetCollectionInfo(name string) (CollectionInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.collections[name]
	if !ok {
		return CollectionInfo{}, ErrNotFound
	}
	return CollectionInfo{
		Name:           name,
		Dimension:      c.Dimension,
		Distance:       c.Distance,
		EmbeddingCount: c.Len(),
	}, nil
}

// Insert upserts embedding into the named collection: normalizing for
// cosine collections and replacing any existing embedding with the same
// id. Returns ErrNotFound if the collection doesn't exist or
// ErrDimensionMismatch if embedding.Vector's length doesn't match the
// collection's dimension.
func (db *Database) Insert(name string, e collection.Embedding) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.collections[name]
	if !ok {
		return ErrNotFound
	}
	if err := c.Insert(e); err != nil {
		if errors.Is(err, collection.ErrDimensionMismatch) {
			return ErrDimensionMismatch
		}
		return err
	}
	db.save()
	return nil
}

// DeleteEmbedding removes the embedding with id from the named collection.
func (db *Database) DeleteEmbedding(name, id string) (collection.Embedding, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.collections[name]
	if !ok {
		return collection.Embedding{}, ErrNotFound
	}
	removed, err := c.DeleteByID(id)
	if err != nil {
		return collection.Embedding{}, ErrIDNotFound
	}
	db.save()
	return removed, nil
}

// GetByID returns a copy of the embedding with id in the named collection.
func (db *Database) GetByID(name, id string) (collection.Embedding, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.collections[name]
	if !ok {
		return collection.Embedding{}, ErrNotFound
	}
	e, err := c.GetByID(id)
	if err != nil {
		return collection.Embedding{}, ErrIDNotFound
	}
	return e, nil
}

// Similarity runs a nearest-neighbor query against the named collection.
func (db *Database) Similarity(ctx context.Context, name string, query []float32, k int) ([]collection.Scored, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.collections[name]
	if !ok {
		return nil, ErrNotFound
	}
	results, err := c.Similarity(ctx, query, k)
	if err != nil {
		if errors.Is(err, collection.ErrDimensionMismatch) {
			return nil, ErrDimensionMismatch
		}
		return nil, err
	}
	return results, nil
}

// GetMetadataString runs an exact-match metadata filter against the named
// collection.
func (db *Database) GetMetadataString(name, key, value string, k int) ([]collection.Embedding, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.collections[name]
	if !ok {
		return nil, ErrNotFound
	}
	return c.GetMetadataString(key, value, k), nil
}

// GetMetadataNumber runs a numeric comparison metadata filter against the
// named collection.
func (db *Database) GetMetadataNumber(name, key string, threshold float32, op collection.Equality, k int) ([]collection.Embedding, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.collections[name]
	if !ok {
		return nil, ErrNotFound
	}
	return c.GetMetadataNumber(key, threshold, op, k), nil
}

// save persists the current state. Must be called with db.mu held for
// writing. Save failures are logged and swallowed - the in-memory state
// remains authoritative for the life of the process.
func (db *Database) save() {
	if err := db.store.Save(db.collections); err != nil {
		db.log.Errorf("snapshot save failed: %v", err)
	}
}

// Close writes one final snapshot and releases the database. It is safe to
// call Close more than once.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Save(db.collections)
}
