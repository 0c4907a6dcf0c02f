// Package relational implements the durable tier on database/sql. It is the
// source of truth for conversation history and owns user profiles.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds relational tier settings.
type Config struct {
	Driver string
	// DSN is a postgres connection string or a sqlite file path.
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// ProfileCacheTTL bounds how long a profile read is served from memory.
	ProfileCacheTTL time.Duration
}

// DefaultConfig returns the relational defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "data/contextd.db",
		MaxOpenConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ProfileCacheTTL: 5 * time.Minute,
	}
}

// Adapter is the relational tier and profile store.
type Adapter struct {
	db       *sql.DB
	postgres bool
	owned    bool
	profiles *ristretto.Cache[string, *memory.UserProfile]
	cfg      Config
	log      logger.Logger

	// profileGen is bumped by every PutProfile. A read only fills the cache
	// if no write landed between its query and the fill.
	profileMu  sync.Mutex
	profileGen uint64
}

var (
	_ memory.Adapter      = (*Adapter)(nil)
	_ memory.ProfileStore = (*Adapter)(nil)
)

// Open connects with the configured driver, applies the schema and returns an
// adapter that closes the pool on Close.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Adapter, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("relational: postgres dsn is empty")
		}
		db, err = sql.Open("pgx", cfg.DSN)
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		if cfg.DSN == "" {
			return nil, fmt.Errorf("relational: sqlite path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("relational: create db dir: %w", err)
		}
		db, err = sql.Open("sqlite", cfg.DSN+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	default:
		return nil, fmt.Errorf("relational: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("relational: open: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("relational: ping: %w", err)
	}

	a, err := New(ctx, db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.owned = true
	return a, nil
}

// New wraps an existing pool and migrates the schema.
func New(ctx context.Context, db *sql.DB, cfg Config, log logger.Logger) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("relational: nil db")
	}
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = DefaultConfig().ProfileCacheTTL
	}
	if log == nil {
		log = logger.Nop()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *memory.UserProfile]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("relational: profile cache: %w", err)
	}

	a := &Adapter{
		db:       db,
		postgres: cfg.Driver == DriverPostgres,
		profiles: cache,
		cfg:      cfg,
		log:      log.With("tier", memory.TierRelational),
	}
	if err := a.migrate(ctx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("relational: migrate: %w", err)
	}
	return a, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (a *Adapter) rebind(query string) string {
	if !a.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tier implements memory.Adapter.
func (a *Adapter) Tier() memory.Tier {
	return memory.TierRelational
}

// Write inserts the record. A record id that already exists is left as is,
// so repeated saves of the same record are harmless.
func (a *Adapter) Write(ctx context.Context, rec *memory.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("relational: marshal metadata: %w", err)
	}
	_, err = a.db.ExecContext(ctx, a.rebind(insertRecord),
		rec.ID, rec.OwnerID, rec.ConversationID, string(rec.Role), rec.Text,
		rec.CreatedAt.UTC().UnixNano(), string(meta))
	if err != nil {
		return fmt.Errorf("relational: insert record: %w", err)
	}
	return nil
}

// ReadRecent returns the newest turns of the conversation.
func (a *Adapter) ReadRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]memory.Record, error) {
	rows, err := a.db.QueryContext(ctx, a.rebind(selectRecent), ownerID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("relational: query recent: %w", err)
	}
	defer rows.Close()

	out := []memory.Record{}
	for rows.Next() {
		var (
			rec     memory.Record
			role    string
			created int64
			meta    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.ConversationID, &role, &rec.Text, &created, &meta); err != nil {
			return nil, fmt.Errorf("relational: scan record: %w", err)
		}
		rec.Role = memory.TurnRole(role)
		rec.CreatedAt = time.Unix(0, created).UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				a.log.WarnContext(ctx, "undecodable metadata", "record_id", rec.ID, "error", err)
			}
		}
		rec.TierOrigin = memory.TierRelational
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relational: iterate records: %w", err)
	}
	return out, nil
}

// Search is not offered by the relational tier.
func (a *Adapter) Search(context.Context, string, string, int) ([]memory.SearchResult, error) {
	return nil, nil
}

// Health pings the pool.
func (a *Adapter) Health(ctx context.Context) bool {
	return a.db.PingContext(ctx) == nil
}

// DB exposes the pool for maintenance tasks.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close releases the profile cache and, if the adapter opened it, the pool.
func (a *Adapter) Close() error {
	a.profiles.Close()
	if !a.owned {
		return nil
	}
	return a.db.Close()
}
