package chat

import (
	"strings"
	"sync"

	"github.com/yungbote/mnemosyne-backend/internal/library"
)

const (
	cacheMaxSize       = 20
	cacheProbeRecent   = 5
	cacheHitSimilarity = 0.5
)

type cacheEntry struct {
	query   string
	results []library.Result
}

// queryCache reuses Library results across near-duplicate queries.
// Entries are ordered oldest-first; a hit promotes the entry to the back.
// Lookup probes only the most recent entries, so stale entries age out of
// reach before they age out of the cache.
type queryCache struct {
	mu      sync.Mutex
	entries []cacheEntry
}

func newQueryCache() *queryCache {
	return &queryCache{}
}

// lookup returns cached results for the first recent entry whose token
// Jaccard similarity exceeds the cutoff.
func (c *queryCache) lookup(query string) ([]library.Result, bool) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	probe := len(c.entries)
	if probe > cacheProbeRecent {
		probe = cacheProbeRecent
	}
	for i := len(c.entries) - 1; i >= len(c.entries)-probe; i-- {
		entry := c.entries[i]
		if jaccard(tokens, tokenize(entry.query)) > cacheHitSimilarity {
			c.promote(i)
			return entry.results, true
		}
	}
	return nil, false
}

// insert stores results under the normalized query, evicting the oldest
// entry when full. Callers only insert non-empty result sets.
func (c *queryCache) insert(query string, results []library.Result) {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" || len(results) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.entries {
		if entry.query == normalized {
			c.entries[i].results = results
			c.promote(i)
			return
		}
	}
	if len(c.entries) >= cacheMaxSize {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, cacheEntry{query: normalized, results: results})
}

func (c *queryCache) promote(i int) {
	entry := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	c.entries = append(c.entries, entry)
}

func (c *queryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func tokenize(query string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(strings.TrimSpace(query))) {
		out[tok] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
