package contextapi

import (
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/familyhub/contextd/pkg/prompt"
)

// GetContextRequest is the input of GetContext.
type GetContextRequest struct {
	OwnerID        string `json:"owner_id" validate:"required,max=128"`
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
	QueryText      string `json:"query_text" validate:"max=4096"`
	RecentLimit    int    `json:"recent_limit,omitempty" validate:"gte=0,lte=200"`
	RelevantLimit  int    `json:"relevant_limit,omitempty" validate:"gte=0,lte=50"`
}

// SaveRequest is a new conversation turn. The id and creation time are
// assigned by the server.
type SaveRequest struct {
	OwnerID        string            `json:"owner_id" validate:"required,max=128"`
	ConversationID string            `json:"conversation_id" validate:"required,max=128"`
	Role           memory.TurnRole   `json:"role" validate:"required,oneof=user assistant system"`
	Text           string            `json:"text" validate:"required,max=32768"`
	Embedding      []float32         `json:"embedding,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

// SearchRequest is the input of Search.
type SearchRequest struct {
	OwnerID   string `json:"owner_id" validate:"required,max=128"`
	QueryText string `json:"query_text" validate:"required,max=4096"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0,lte=50"`
}

// BuildPromptRequest is the input of BuildPrompt. ActiveSkills, when set,
// replaces the skills stored in the owner's profile for this build.
type BuildPromptRequest struct {
	OwnerID        string   `json:"owner_id" validate:"required,max=128"`
	ConversationID string   `json:"conversation_id" validate:"required,max=128"`
	QueryText      string   `json:"query_text" validate:"max=4096"`
	Minimal        bool     `json:"minimal"`
	ActiveSkills   []string `json:"active_skills,omitempty" validate:"max=16,dive,required"`
}

// SearchResponse wraps search hits.
type SearchResponse struct {
	Results []memory.SearchResult `json:"results"`
}

// PromptResponse is a built prompt together with the state of the read that
// fed it.
type PromptResponse struct {
	prompt.Result
	OwnerID        string        `json:"owner_id"`
	ConversationID string        `json:"conversation_id"`
	DegradedTiers  []memory.Tier `json:"degraded_tiers"`
	DefaultProfile bool          `json:"default_profile"`
}

// ProfileResponse is a stored or default profile.
type ProfileResponse struct {
	*memory.UserProfile
	// Default is true when no profile is stored for the owner.
	Default bool `json:"default"`
}

// Template is a prompt template with its token estimate.
type Template struct {
	Name          string `json:"name"`
	Text          string `json:"text"`
	TokenEstimate int    `json:"token_estimate"`
}
