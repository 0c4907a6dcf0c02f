package memory

import (
	"sort"
	"time"
)

// SearchResult is a record matched by a search tier. It only exists in
// responses and is never persisted.
type SearchResult struct {
	Record         Record    `json:"record"`
	SourceTier     Tier      `json:"source_tier"`
	RelevanceScore float64   `json:"relevance_score"`
	Timestamp      time.Time `json:"timestamp"`
}

// Context is the merged read across tiers for one conversation.
type Context struct {
	OwnerID        string `json:"owner_id"`
	ConversationID string `json:"conversation_id"`
	// Recent holds turns from the hot cache and relational tiers, newest first.
	Recent []Record `json:"recent"`
	// Relevant holds search hits from working memory and vector, best first.
	Relevant            []SearchResult `json:"relevant"`
	DegradedTiers       []Tier         `json:"degraded_tiers"`
	PrimaryTierDegraded bool           `json:"primary_tier_degraded"`
}

// Degraded reports whether any tier missed the read.
func (c *Context) Degraded() bool {
	return len(c.DegradedTiers) > 0
}

// TierFailure reports a best-effort tier that failed during a save.
type TierFailure struct {
	Tier  Tier   `json:"tier"`
	Error string `json:"error"`
}

// SaveResult is returned by a successful save.
type SaveResult struct {
	ID              string        `json:"id"`
	CreatedAt       time.Time     `json:"created_at"`
	PartialFailures []TierFailure `json:"partial_failures"`
}

// SortRecent orders records newest first, breaking ties by id descending.
func SortRecent(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// SortRelevant orders results by score, then newer first, then id.
func SortRelevant(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID > b.Record.ID
	})
}

// NewSearchResult builds a result stamped from the record's creation time.
func NewSearchResult(rec Record, tier Tier, score float64) SearchResult {
	return SearchResult{
		Record:         rec,
		SourceTier:     tier,
		RelevanceScore: score,
		Timestamp:      rec.CreatedAt,
	}
}
