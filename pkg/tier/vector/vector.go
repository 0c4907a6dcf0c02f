// Package vector implements the semantic tier on chromem-go. Each owner gets
// a separate collection so a similarity search never sees another owner's
// documents.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/familyhub/contextd/pkg/embedding"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	chromem "github.com/philippgille/chromem-go"
)

// Config holds vector tier settings.
type Config struct {
	// Path enables on-disk persistence. Empty keeps the index in memory.
	Path     string
	Compress bool
}

// Adapter is the vector tier.
type Adapter struct {
	db       *chromem.DB
	embedder embedding.Embedder
	log      logger.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

var _ memory.Adapter = (*Adapter)(nil)

// Open creates the chromem database described by cfg.
func Open(cfg Config, embedder embedding.Embedder, log logger.Logger) (*Adapter, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("vector: open %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return New(db, embedder, log), nil
}

// New wraps an existing chromem database.
func New(db *chromem.DB, embedder embedding.Embedder, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{
		db:          db,
		embedder:    embedder,
		log:         log.With("tier", memory.TierVector),
		collections: make(map[string]*chromem.Collection),
	}
}

func collectionName(ownerID string) string {
	return "owner_" + ownerID
}

func (a *Adapter) collection(ownerID string) (*chromem.Collection, error) {
	a.mu.RLock()
	col, ok := a.collections[ownerID]
	a.mu.RUnlock()
	if ok {
		return col, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if col, ok := a.collections[ownerID]; ok {
		return col, nil
	}
	// Embeddings are always supplied, so no embedding func is registered.
	col, err := a.db.GetOrCreateCollection(collectionName(ownerID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: collection: %w", err)
	}
	a.collections[ownerID] = col
	return col, nil
}

// Tier implements memory.Adapter.
func (a *Adapter) Tier() memory.Tier {
	return memory.TierVector
}

// Write embeds the record text, unless the record already carries an
// embedding of the right size, and upserts it by id.
func (a *Adapter) Write(ctx context.Context, rec *memory.Record) error {
	vec := rec.Embedding
	if len(vec) != a.embedder.Dimensions() {
		var err error
		vec, err = a.embedder.Embed(ctx, rec.Text)
		if err != nil {
			return err
		}
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("vector: marshal metadata: %w", err)
	}
	col, err := a.collection(rec.OwnerID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: vec,
		Metadata: map[string]string{
			"owner_id":        rec.OwnerID,
			"conversation_id": rec.ConversationID,
			"role":            string(rec.Role),
			"created_at":      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			"metadata":        string(meta),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vector: add document: %w", err)
	}
	return nil
}

// ReadRecent is not offered by the vector tier.
func (a *Adapter) ReadRecent(context.Context, string, string, int) ([]memory.Record, error) {
	return []memory.Record{}, nil
}

// Search returns the owner's nearest neighbours of query by cosine similarity.
func (a *Adapter) Search(ctx context.Context, ownerID, query string, limit int) ([]memory.SearchResult, error) {
	col, err := a.collection(ownerID)
	if err != nil {
		return nil, err
	}
	n := min(limit, col.Count())
	if n == 0 {
		return []memory.SearchResult{}, nil
	}

	q, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := col.QueryEmbedding(ctx, q, n, map[string]string{"owner_id": ownerID}, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}

	out := make([]memory.SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, err := a.decode(h)
		if err != nil {
			a.log.WarnContext(ctx, "skipping undecodable document", "record_id", h.ID, "error", err)
			continue
		}
		out = append(out, memory.NewSearchResult(rec, memory.TierVector, float64(h.Similarity)))
	}
	return out, nil
}

func (a *Adapter) decode(h chromem.Result) (memory.Record, error) {
	created, err := time.Parse(time.RFC3339Nano, h.Metadata["created_at"])
	if err != nil {
		return memory.Record{}, fmt.Errorf("created_at: %w", err)
	}
	rec := memory.Record{
		ID:             h.ID,
		OwnerID:        h.Metadata["owner_id"],
		ConversationID: h.Metadata["conversation_id"],
		Role:           memory.TurnRole(h.Metadata["role"]),
		Text:           h.Content,
		CreatedAt:      created,
		TierOrigin:     memory.TierVector,
	}
	if raw := h.Metadata["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return memory.Record{}, fmt.Errorf("metadata: %w", err)
		}
	}
	rec.Metadata.Vector = &memory.VectorInfo{
		Model:      a.embedder.Model(),
		Dimensions: len(h.Embedding),
	}
	return rec, nil
}

// Health reports the embedder's health; the index itself is in process.
func (a *Adapter) Health(ctx context.Context) bool {
	return a.embedder.Health(ctx)
}

// Documents returns the number of documents stored for ownerID.
func (a *Adapter) Documents(ownerID string) int {
	col, err := a.collection(ownerID)
	if err != nil {
		return 0
	}
	return col.Count()
}
