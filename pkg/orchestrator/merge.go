package orchestrator

import "github.com/familyhub/contextd/pkg/memory"

// mergeRecent dedupes by record id, keeping the first copy seen, and returns
// at most limit records newest first. Callers pass the relational list first
// so the durable copy wins.
func mergeRecent(limit int, lists ...[]memory.Record) []memory.Record {
	seen := make(map[string]struct{})
	out := []memory.Record{}
	for _, list := range lists {
		for _, rec := range list {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			out = append(out, rec)
		}
	}
	memory.SortRecent(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// mergeRelevant dedupes by record id, keeping the higher score, and returns at
// most limit results best first.
func mergeRelevant(limit int, lists ...[]memory.SearchResult) []memory.SearchResult {
	pos := make(map[string]int)
	out := []memory.SearchResult{}
	for _, list := range lists {
		for _, res := range list {
			if i, dup := pos[res.Record.ID]; dup {
				if res.RelevanceScore > out[i].RelevanceScore {
					out[i] = res
				}
				continue
			}
			pos[res.Record.ID] = len(out)
			out = append(out, res)
		}
	}
	memory.SortRelevant(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
