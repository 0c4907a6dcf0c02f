// Package working implements the working memory tier: recent facts kept in
// Badger with a medium TTL and searched with BM25.
package working

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
)

const keyPrefix = "wm/"

// Config holds working memory settings.
type Config struct {
	// Path is the Badger directory. Empty with InMemory false is an error.
	Path     string
	InMemory bool
	// TTL is applied to every entry.
	TTL time.Duration
	// K1 and B are the BM25 parameters.
	K1 float64
	B  float64
}

// DefaultConfig returns the working memory defaults.
func DefaultConfig() Config {
	return Config{
		InMemory: true,
		TTL:      24 * time.Hour,
		K1:       1.5,
		B:        0.75,
	}
}

// Adapter is the working memory tier.
type Adapter struct {
	db    *badger.DB
	owned bool
	index *bm25Index
	cfg   Config
	log   logger.Logger
}

var _ memory.Adapter = (*Adapter)(nil)

// Open opens a Badger database per cfg and wraps it. The adapter owns the
// database and closes it on Close.
func Open(cfg Config, log logger.Logger) (*Adapter, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("working: path is required unless in_memory is set")
	}
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("working: open badger: %w", err)
	}
	a, err := New(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.owned = true
	return a, nil
}

// New wraps an existing Badger database and rebuilds the search index from
// the live entries in it.
func New(db *badger.DB, cfg Config, log logger.Logger) (*Adapter, error) {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B <= 0 {
		cfg.B = def.B
	}
	if log == nil {
		log = logger.Nop()
	}

	a := &Adapter{
		db:    db,
		index: newBM25Index(cfg.K1, cfg.B),
		cfg:   cfg,
		log:   log.With("tier", memory.TierWorkingMemory),
	}
	if err := a.rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

func ownerPrefix(ownerID string) []byte {
	return []byte(keyPrefix + url.PathEscape(ownerID) + "/")
}

func recordKey(ownerID, id string) []byte {
	return append(ownerPrefix(ownerID), id...)
}

func (a *Adapter) rebuild() error {
	return a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec memory.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				a.log.Warn("skipping undecodable entry", "key", string(it.Item().Key()), "error", err)
				continue
			}
			a.index.add(rec.ID, rec.OwnerID, rec.Text)
		}
		return nil
	})
}

// Tier implements memory.Adapter.
func (a *Adapter) Tier() memory.Tier {
	return memory.TierWorkingMemory
}

// Write stores the record with the configured TTL. A live entry with the same
// id is left untouched.
func (a *Adapter) Write(ctx context.Context, rec *memory.Record) error {
	if a.db.IsClosed() {
		return memory.ErrClosed
	}
	stored := rec.Clone()
	stored.TierOrigin = ""
	stored.Embedding = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("working: marshal record: %w", err)
	}

	key := recordKey(rec.OwnerID, rec.ID)
	inserted := false
	err = a.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		inserted = true
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(a.cfg.TTL))
	})
	if err != nil {
		return fmt.Errorf("working: store: %w", err)
	}
	if inserted {
		a.index.add(rec.ID, rec.OwnerID, rec.Text)
	}
	return nil
}

// ReadRecent scans the owner's live entries for the conversation.
func (a *Adapter) ReadRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]memory.Record, error) {
	if a.db.IsClosed() {
		return nil, memory.ErrClosed
	}
	out := []memory.Record{}
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = ownerPrefix(ownerID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := a.decode(it.Item())
			if err != nil {
				return err
			}
			if rec.ConversationID == conversationID {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("working: scan: %w", err)
	}
	memory.SortRecent(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search ranks the owner's live entries against query.
func (a *Adapter) Search(ctx context.Context, ownerID, query string, limit int) ([]memory.SearchResult, error) {
	if a.db.IsClosed() {
		return nil, memory.ErrClosed
	}
	// Over-fetch so entries that expired since indexing do not shrink the page.
	hits := a.index.search(ownerID, query, limit*2)
	if len(hits) == 0 {
		return []memory.SearchResult{}, nil
	}

	results := make([]memory.SearchResult, 0, len(hits))
	var expired []string
	err := a.db.View(func(txn *badger.Txn) error {
		for _, hit := range hits {
			if len(results) == limit {
				break
			}
			item, err := txn.Get(recordKey(ownerID, hit.id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				expired = append(expired, hit.id)
				continue
			}
			if err != nil {
				return err
			}
			rec, err := a.decode(item)
			if err != nil {
				return err
			}
			results = append(results, memory.NewSearchResult(rec, memory.TierWorkingMemory, normalizeScore(hit.score)))
		}
		return nil
	})
	for _, id := range expired {
		a.index.remove(id)
	}
	if err != nil {
		return nil, fmt.Errorf("working: fetch: %w", err)
	}
	return results, nil
}

func (a *Adapter) decode(item *badger.Item) (memory.Record, error) {
	var rec memory.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return rec, err
	}
	rec.TierOrigin = memory.TierWorkingMemory
	if exp := item.ExpiresAt(); exp > 0 {
		rec.Metadata.Working = &memory.WorkingInfo{ExpiresAt: time.Unix(int64(exp), 0).UTC()}
	}
	return rec, nil
}

// Health reports whether the database is open.
func (a *Adapter) Health(context.Context) bool {
	return !a.db.IsClosed()
}

// IndexedDocs returns the number of documents currently in the search index.
func (a *Adapter) IndexedDocs() int {
	return a.index.len()
}

// Close runs value log GC and closes the database if the adapter opened it.
func (a *Adapter) Close() error {
	if !a.owned || a.db.IsClosed() {
		return nil
	}
	if !a.cfg.InMemory {
		if err := a.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			a.log.Warn("value log gc failed", "error", err)
		}
	}
	return a.db.Close()
}
