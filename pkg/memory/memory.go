// Package memory defines the records, profiles and tier contract shared by the
// storage tiers, the orchestrator and the prompt assembler.
package memory

import (
	"context"
	"errors"
)

// Tier names one of the four backing stores.
type Tier string

const (
	TierHotCache      Tier = "hot_cache"
	TierWorkingMemory Tier = "working_memory"
	TierRelational    Tier = "relational"
	TierVector        Tier = "vector"
)

// AllTiers lists the tiers in dispatch order.
var AllTiers = []Tier{TierHotCache, TierWorkingMemory, TierRelational, TierVector}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHotCache, TierWorkingMemory, TierRelational, TierVector:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a profile or record does not exist.
	ErrNotFound = errors.New("memory: not found")
	// ErrInvalidRecord is returned when a record fails validation before a write.
	ErrInvalidRecord = errors.New("memory: invalid record")
	// ErrCircuitOpen is returned for calls pre-failed by an open circuit breaker.
	ErrCircuitOpen = errors.New("memory: circuit open")
	// ErrDurability marks a save that the relational tier did not acknowledge.
	ErrDurability = errors.New("memory: durability failure")
	// ErrBudgetExceeded means the mandatory prompt sections alone exceed the budget.
	ErrBudgetExceeded = errors.New("memory: prompt budget exceeded")
	// ErrClosed is returned by adapters after Close.
	ErrClosed = errors.New("memory: adapter closed")
)

// Adapter is the uniform contract each storage tier implements.
//
// Implementations do not retry. ReadRecent returns records most-recent-first
// and an empty slice when nothing exists. Search may be a no-op returning
// nil for tiers without a query capability.
type Adapter interface {
	Tier() Tier
	Write(ctx context.Context, rec *Record) error
	ReadRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]Record, error)
	Search(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error)
	Health(ctx context.Context) bool
}

// ProfileStore reads and writes user profiles. The relational tier owns them.
type ProfileStore interface {
	GetProfile(ctx context.Context, ownerID string) (*UserProfile, error)
	PutProfile(ctx context.Context, profile *UserProfile) error
}
