package memory

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TurnRole is the speaker of a conversation turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
	TurnSystem    TurnRole = "system"
)

// Valid reports whether r is a known speaker.
func (r TurnRole) Valid() bool {
	switch r {
	case TurnUser, TurnAssistant, TurnSystem:
		return true
	}
	return false
}

// Record is one immutable conversation turn. Records are never updated; a
// newer record supersedes an older one.
type Record struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	ConversationID string    `json:"conversation_id"`
	Role           TurnRole  `json:"role"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	// TierOrigin is set by the adapter that produced a copy on read.
	TierOrigin Tier     `json:"tier_origin,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// NewID returns a new time-ordered record id for t.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Stamp assigns an id and creation time when they are missing.
func (r *Record) Stamp(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	if r.ID == "" {
		r.ID = NewID(r.CreatedAt)
	}
}

// Validate checks the fields every tier relies on.
func (r *Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	case strings.TrimSpace(r.OwnerID) == "":
		return fmt.Errorf("%w: owner_id is required", ErrInvalidRecord)
	case strings.TrimSpace(r.ConversationID) == "":
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidRecord)
	case !r.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRecord, r.Role)
	case r.Text == "":
		return fmt.Errorf("%w: text is required", ErrInvalidRecord)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: created_at is required", ErrInvalidRecord)
	}
	return r.Metadata.validateFor(r.TierOrigin)
}

// Clone returns a deep copy so callers cannot mutate tier-held state.
func (r Record) Clone() Record {
	out := r
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	out.Metadata = r.Metadata.clone()
	return out
}

// WithOrigin returns a copy tagged with the tier that produced it.
func (r Record) WithOrigin(t Tier) Record {
	out := r.Clone()
	out.TierOrigin = t
	return out
}

func (m Metadata) clone() Metadata {
	out := m
	if m.Cache != nil {
		c := *m.Cache
		out.Cache = &c
	}
	if m.Working != nil {
		w := *m.Working
		out.Working = &w
	}
	if m.Vector != nil {
		v := *m.Vector
		out.Vector = &v
	}
	if m.Extra != nil {
		out.Extra = maps.Clone(m.Extra)
	}
	return out
}
