// Package hotcache implements the hot cache tier on Redis: a short-lived,
// bounded list of the most recent turns per conversation.
package hotcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/redis/go-redis/v9"
)

// Config holds hot cache settings.
type Config struct {
	// KeyPrefix namespaces every key written by the adapter.
	KeyPrefix string
	// TTL is refreshed on every push to a conversation list.
	TTL time.Duration
	// MaxTurns caps the list length per conversation.
	MaxTurns int
}

// DefaultConfig returns the defaults used when fields are unset.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "contextd",
		TTL:       time.Hour,
		MaxTurns:  100,
	}
}

// pushScript appends a turn once per record id. KEYS[1] is the list, KEYS[2]
// the per-record marker. ARGV: payload, max turns, ttl in milliseconds.
var pushScript = redis.NewScript(`
if redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[3]) then
  redis.call('LPUSH', KEYS[1], ARGV[1])
  redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[2]) - 1)
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0
`)

// Adapter is the hot cache tier.
type Adapter struct {
	client redis.Cmdable
	cfg    Config
	log    logger.Logger
}

var _ memory.Adapter = (*Adapter)(nil)

// New creates a hot cache adapter over an existing Redis client.
func New(client redis.Cmdable, cfg Config, log logger.Logger) *Adapter {
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{client: client, cfg: cfg, log: log.With("tier", memory.TierHotCache)}
}

// Tier implements memory.Adapter.
func (a *Adapter) Tier() memory.Tier {
	return memory.TierHotCache
}

func (a *Adapter) turnsKey(ownerID, conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:%s:turns", a.cfg.KeyPrefix, url.PathEscape(ownerID), url.PathEscape(conversationID))
}

func (a *Adapter) seenKey(ownerID, recordID string) string {
	return fmt.Sprintf("%s:seen:%s:%s", a.cfg.KeyPrefix, url.PathEscape(ownerID), url.PathEscape(recordID))
}

// Write pushes the record to the head of its conversation list. A record id
// already pushed within the TTL is ignored.
func (a *Adapter) Write(ctx context.Context, rec *memory.Record) error {
	stored := rec.Clone()
	stored.TierOrigin = ""
	stored.Embedding = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("hotcache: marshal record: %w", err)
	}

	keys := []string{a.turnsKey(rec.OwnerID, rec.ConversationID), a.seenKey(rec.OwnerID, rec.ID)}
	pushed, err := pushScript.Run(ctx, a.client, keys, data, a.cfg.MaxTurns, a.cfg.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("hotcache: push: %w", err)
	}
	if pushed == 0 {
		a.log.DebugContext(ctx, "duplicate turn ignored", "record_id", rec.ID)
	}
	return nil
}

// ReadRecent returns up to limit turns, newest first.
func (a *Adapter) ReadRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]memory.Record, error) {
	key := a.turnsKey(ownerID, conversationID)

	var (
		rangeCmd *redis.StringSliceCmd
		ttlCmd   *redis.DurationCmd
	)
	if _, err := a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key, 0, int64(a.cfg.MaxTurns-1))
		ttlCmd = pipe.PTTL(ctx, key)
		return nil
	}); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("hotcache: read: %w", err)
	}

	raw := rangeCmd.Val()
	expiresAt := time.Now().Add(ttlCmd.Val()).UTC()

	seen := make(map[string]struct{}, len(raw))
	out := make([]memory.Record, 0, len(raw))
	for _, item := range raw {
		var rec memory.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			a.log.WarnContext(ctx, "skipping undecodable turn", "key", key, "error", err)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		rec.TierOrigin = memory.TierHotCache
		rec.Metadata.Cache = &memory.CacheInfo{ExpiresAt: expiresAt}
		out = append(out, rec)
	}

	memory.SortRecent(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search is not supported by the hot cache.
func (a *Adapter) Search(context.Context, string, string, int) ([]memory.SearchResult, error) {
	return nil, nil
}

// Health pings Redis.
func (a *Adapter) Health(ctx context.Context) bool {
	return a.client.Ping(ctx).Err() == nil
}
