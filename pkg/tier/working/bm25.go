package working

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// bm25Index is an in-memory inverted index scoring documents with BM25.
// Documents are partitioned by owner; a search never crosses owners.
type bm25Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	// term -> owner -> doc ids
	postings map[string]map[string]map[string]struct{}
	// doc id -> term frequencies
	termFreqs map[string]map[string]int
	docLens   map[string]int
	owners    map[string]string

	// per-owner corpus stats
	ownerDocs map[string]int
	ownerLen  map[string]int
}

func newBM25Index(k1, b float64) *bm25Index {
	return &bm25Index{
		k1:        k1,
		b:         b,
		postings:  make(map[string]map[string]map[string]struct{}),
		termFreqs: make(map[string]map[string]int),
		docLens:   make(map[string]int),
		owners:    make(map[string]string),
		ownerDocs: make(map[string]int),
		ownerLen:  make(map[string]int),
	}
}

// add indexes a document. Re-adding an id replaces the previous content.
func (idx *bm25Index) add(id, ownerID, content string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.termFreqs[id]; exists {
		idx.removeLocked(id)
	}

	tokens := tokenize(content)
	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}

	idx.termFreqs[id] = freqs
	idx.docLens[id] = len(tokens)
	idx.owners[id] = ownerID
	idx.ownerDocs[ownerID]++
	idx.ownerLen[ownerID] += len(tokens)

	for term := range freqs {
		byOwner := idx.postings[term]
		if byOwner == nil {
			byOwner = make(map[string]map[string]struct{})
			idx.postings[term] = byOwner
		}
		if byOwner[ownerID] == nil {
			byOwner[ownerID] = make(map[string]struct{})
		}
		byOwner[ownerID][id] = struct{}{}
	}
}

func (idx *bm25Index) remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *bm25Index) removeLocked(id string) {
	freqs, exists := idx.termFreqs[id]
	if !exists {
		return
	}
	ownerID := idx.owners[id]

	for term := range freqs {
		byOwner := idx.postings[term]
		if docs := byOwner[ownerID]; docs != nil {
			delete(docs, id)
			if len(docs) == 0 {
				delete(byOwner, ownerID)
			}
		}
		if len(byOwner) == 0 {
			delete(idx.postings, term)
		}
	}

	idx.ownerLen[ownerID] -= idx.docLens[id]
	idx.ownerDocs[ownerID]--
	if idx.ownerDocs[ownerID] <= 0 {
		delete(idx.ownerDocs, ownerID)
		delete(idx.ownerLen, ownerID)
	}
	delete(idx.termFreqs, id)
	delete(idx.docLens, id)
	delete(idx.owners, id)
}

func (idx *bm25Index) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.termFreqs)
}

type scoredDoc struct {
	id    string
	score float64
}

// search returns up to topK documents of ownerID ordered by score, ties by id.
func (idx *bm25Index) search(ownerID, query string, topK int) []scoredDoc {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := idx.ownerDocs[ownerID]
	if n == 0 || topK <= 0 {
		return nil
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	avgDL := float64(idx.ownerLen[ownerID]) / float64(n)

	candidates := make(map[string]struct{})
	for _, tok := range queryTokens {
		for id := range idx.postings[tok][ownerID] {
			candidates[id] = struct{}{}
		}
	}

	results := make([]scoredDoc, 0, len(candidates))
	for id := range candidates {
		if s := idx.scoreLocked(id, ownerID, queryTokens, float64(n), avgDL); s > 0 {
			results = append(results, scoredDoc{id: id, score: s})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id > results[j].id
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func (idx *bm25Index) scoreLocked(id, ownerID string, queryTokens []string, totalDocs, avgDL float64) float64 {
	docLen := float64(idx.docLens[id])
	freqs := idx.termFreqs[id]
	score := 0.0

	for _, term := range queryTokens {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}
		n := float64(len(idx.postings[term][ownerID]))
		idf := math.Log((totalDocs-n+0.5)/(n+0.5) + 1.0)

		numerator := tf * (idx.k1 + 1)
		denominator := tf + idx.k1*(1-idx.b+idx.b*docLen/avgDL)
		score += idf * numerator / denominator
	}
	return score
}

// normalizeScore maps a BM25 score into [0,1) so it can be merged with
// cosine similarities from the vector tier.
func normalizeScore(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return s / (1 + s)
}

// tokenize lower-cases text, splits on anything that is not a letter or digit
// and drops English and Spanish stop words.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := make([]string, 0, len(text)/5)

	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := current.String()
		current.Reset()
		if _, stop := stopWords[tok]; !stop {
			tokens = append(tokens, tok)
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

var stopWords = func() map[string]struct{} {
	words := []string{
		// en
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "can", "to", "of", "in", "for", "on", "with",
		"at", "by", "from", "as", "into", "about", "and", "but", "or", "not",
		"so", "if", "then", "than", "too", "very", "just", "what", "which",
		"who", "this", "that", "these", "those", "i", "me", "my", "we", "our",
		"you", "your", "he", "him", "his", "she", "her", "it", "its", "they",
		"them", "their",
		// es
		"el", "la", "los", "las", "un", "una", "unos", "unas", "de", "del",
		"y", "o", "que", "en", "por", "para", "con", "se", "su", "sus", "es",
		"al", "lo", "como", "mi", "tu", "yo", "le", "les", "pero", "muy",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
