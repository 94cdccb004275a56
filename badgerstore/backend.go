// Package badgerstore is a durable osp.Backend on top of BadgerDB.
//
// Anchors are stored under "anchor/<uuid>" as msgpack records. Live anchors
// are cached so that an archetype keeps its identity while it stays loaded;
// Evict drops cached anchors so that the next lookup reloads them from disk.
// Walker anchors exist for the duration of a walk only and are never written.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jaseci-labs/osp"
)

var keyPrefix = []byte("anchor/")

func key(id uuid.UUID) []byte {
	return append(append([]byte(nil), keyPrefix...), id.String()...)
}

// Backend implements osp.Backend.
type Backend struct {
	db      *badger.DB
	program *osp.Program
	logger  *slog.Logger
	gc      *gcRunner
	owned   bool

	mu    sync.RWMutex
	live  map[uuid.UUID]*osp.Anchor
	loads singleflight.Group
}

// New returns a backend over an open database. The caller keeps ownership of
// db. prog instantiates archetypes when anchors are loaded.
func New(db *badger.DB, prog *osp.Program, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		db:      db,
		program: prog,
		logger:  logger,
		live:    make(map[uuid.UUID]*osp.Anchor),
	}
}

// Open opens the database described by cfg and returns a backend owning it.
func Open(cfg Config, prog *osp.Program) (*Backend, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	b := New(db, prog, cfg.Logger)
	b.owned = true

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, b.logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.gc = runner
		runner.start()
	}
	return b, nil
}

// FindByID returns the live anchor for id, loading it on first use.
// Concurrent loads of one id share a single read.
func (b *Backend) FindByID(ctx context.Context, id uuid.UUID) (*osp.Anchor, error) {
	if a := b.cached(id); a != nil {
		return a, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err, _ := b.loads.Do(id.String(), func() (any, error) {
		if a := b.cached(id); a != nil {
			return a, nil
		}
		rec, ok, err := b.read(id)
		if err != nil || !ok {
			return nil, err
		}
		a, err := rehydrate(id, rec, b.program)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing := b.live[id]; existing != nil {
			return existing, nil
		}
		b.live[id] = a
		b.logger.Debug("anchor loaded", slog.String("anchor", id.String()), slog.String("type", rec.Type))
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	a, _ := v.(*osp.Anchor)
	return a, nil
}

func (b *Backend) cached(id uuid.UUID) *osp.Anchor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live[id]
}

// Put writes persistent anchors through to the database and caches a once
// the write succeeded.
func (b *Backend) Put(ctx context.Context, a *osp.Anchor) error {
	if a.Kind != osp.KindWalker && a.Persistent {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := encodeAnchor(a)
		if err != nil {
			return err
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key(a.ID), val)
		})
		if err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.live[a.ID] = a
	b.mu.Unlock()
	return nil
}

// Delete removes id from the cache and the database.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	delete(b.live, id)
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// Evict drops id from the cache.
func (b *Backend) Evict(id uuid.UUID) {
	b.mu.Lock()
	delete(b.live, id)
	b.mu.Unlock()
}

// EvictAll empties the cache.
func (b *Backend) EvictAll() {
	b.mu.Lock()
	b.live = make(map[uuid.UUID]*osp.Anchor)
	b.mu.Unlock()
}

// Cached returns the number of live anchors.
func (b *Backend) Cached() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.live)
}

// Record returns the stored record of id without loading it.
func (b *Backend) Record(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	return b.read(id)
}

// Scan calls fn for every stored anchor in key order until fn returns an
// error.
func (b *Backend) Scan(ctx context.Context, fn func(uuid.UUID, Record) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := uuid.ParseBytes(bytes.TrimPrefix(item.Key(), keyPrefix))
			if err != nil {
				return fmt.Errorf("badgerstore: bad key %q: %w", item.Key(), err)
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(val)
			if err != nil {
				return err
			}
			if err := fn(id, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) read(id uuid.UUID) (Record, bool, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("badgerstore: read %s: %w", id, err)
	}
	rec, err := decodeRecord(val)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Close stops garbage collection and closes the database when the backend
// opened it.
func (b *Backend) Close() error {
	if b.gc != nil {
		b.gc.stop()
		b.gc = nil
	}
	if !b.owned {
		return nil
	}
	b.owned = false
	return b.db.Close()
}
