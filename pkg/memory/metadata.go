package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Metadata carries the known per-record annotations as typed fields. Keys the
// service does not recognise are preserved in Extra as strings.
//
// Cache, Working and Vector are tier-specific and only valid on copies whose
// TierOrigin matches; a record submitted for saving carries none of them.
type Metadata struct {
	Channel   string `json:"channel,omitempty"`
	Language  string `json:"language,omitempty"`
	Skill     string `json:"skill,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	Cache   *CacheInfo   `json:"cache,omitempty"`
	Working *WorkingInfo `json:"working,omitempty"`
	Vector  *VectorInfo  `json:"vector,omitempty"`

	Extra map[string]string `json:"-"`
}

// CacheInfo describes a hot cache copy.
type CacheInfo struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// WorkingInfo describes a working memory copy.
type WorkingInfo struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// VectorInfo describes a vector index copy.
type VectorInfo struct {
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions"`
}

var knownMetadataKeys = map[string]struct{}{
	"channel": {}, "language": {}, "skill": {}, "message_id": {},
	"cache": {}, "working": {}, "vector": {},
}

// IsZero reports whether m holds no annotations.
func (m Metadata) IsZero() bool {
	return m.Channel == "" && m.Language == "" && m.Skill == "" && m.MessageID == "" &&
		m.Cache == nil && m.Working == nil && m.Vector == nil && len(m.Extra) == 0
}

// Get returns the value of a string key, typed or extra.
func (m Metadata) Get(key string) (string, bool) {
	switch key {
	case "channel":
		return m.Channel, m.Channel != ""
	case "language":
		return m.Language, m.Language != ""
	case "skill":
		return m.Skill, m.Skill != ""
	case "message_id":
		return m.MessageID, m.MessageID != ""
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Set assigns a string key, routing known names to their typed field.
func (m *Metadata) Set(key, value string) {
	switch key {
	case "channel":
		m.Channel = value
	case "language":
		m.Language = value
	case "skill":
		m.Skill = value
	case "message_id":
		m.MessageID = value
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[key] = value
	}
}

// Flatten returns the string annotations as a single map.
func (m Metadata) Flatten() map[string]string {
	out := make(map[string]string, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	for _, k := range []string{"channel", "language", "skill", "message_id"} {
		if v, ok := m.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// MetadataFromMap builds Metadata from a flat string map.
func MetadataFromMap(in map[string]string) Metadata {
	var m Metadata
	for k, v := range in {
		m.Set(k, v)
	}
	return m
}

func (m Metadata) validateFor(origin Tier) error {
	if m.Cache != nil && origin != TierHotCache {
		return fmt.Errorf("%w: cache metadata on a %q record", ErrInvalidRecord, origin)
	}
	if m.Working != nil && origin != TierWorkingMemory {
		return fmt.Errorf("%w: working metadata on a %q record", ErrInvalidRecord, origin)
	}
	if m.Vector != nil && origin != TierVector {
		return fmt.Errorf("%w: vector metadata on a %q record", ErrInvalidRecord, origin)
	}
	for k := range m.Extra {
		if _, known := knownMetadataKeys[k]; known {
			return fmt.Errorf("%w: reserved metadata key %q in extra", ErrInvalidRecord, k)
		}
	}
	return nil
}

// MarshalJSON writes typed fields and extras as one flat object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+7)
	for k, v := range m.Flatten() {
		out[k] = v
	}
	if m.Cache != nil {
		out["cache"] = m.Cache
	}
	if m.Working != nil {
		out["working"] = m.Working
	}
	if m.Vector != nil {
		out["vector"] = m.Vector
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat object. Unknown keys with non-string values are
// kept as their raw JSON text.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("memory: decode metadata: %w", err)
	}
	*m = Metadata{}
	for k, v := range raw {
		switch k {
		case "cache":
			m.Cache = new(CacheInfo)
			if err := json.Unmarshal(v, m.Cache); err != nil {
				return fmt.Errorf("memory: decode metadata %q: %w", k, err)
			}
		case "working":
			m.Working = new(WorkingInfo)
			if err := json.Unmarshal(v, m.Working); err != nil {
				return fmt.Errorf("memory: decode metadata %q: %w", k, err)
			}
		case "vector":
			m.Vector = new(VectorInfo)
			if err := json.Unmarshal(v, m.Vector); err != nil {
				return fmt.Errorf("memory: decode metadata %q: %w", k, err)
			}
		default:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				s = strings.TrimSpace(string(v))
			}
			m.Set(k, s)
		}
	}
	return nil
}
