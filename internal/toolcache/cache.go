// Package toolcache provides the per-session cache of external tool
// results. Every expensive tool call made during a session is stored
// under a canonical (tool, params) fingerprint so later stages, the
// critique pass and the auto-corrector reuse the exact bytes the
// pipeline already paid for.
package toolcache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// TrustClass separates values sourced from external providers from
// values the reasoning engine produced itself. Only trusted-external
// entries may back an auto-correction.
type TrustClass string

const (
	TrustedExternal TrustClass = "trusted-external"
	DerivedLLM      TrustClass = "derived/LLM-generated"
)

// Entry is one cached tool result. Seq is the monotonic insertion
// order used for freshest-write-wins tie-breaks.
type Entry struct {
	Key      string     `json:"key"`
	ToolName string     `json:"tool_name"`
	Params   map[string]string `json:"params"`
	Data     string     `json:"data"`
	Trust    TrustClass `json:"trust"`
	Seq      int        `json:"seq"`
}

// FetchFunc performs the actual external call on a cache miss. It must
// return an error for any unsuccessful response; failed calls are
// never cached so a transient failure stays retryable.
type FetchFunc func(ctx context.Context) (data string, trust TrustClass, err error)

// Cache is owned by exactly one analysis session. The mutex only
// matters if a caller parallelizes historical-period fetches; under
// the default sequential pipeline a single goroutine touches it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	seq     int
	hits    int
	misses  int
}

// New creates an empty session cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Fingerprint builds the canonical, order-independent cache key:
// lower-cased tool name plus stable-sorted parameter pairs.
func Fingerprint(toolName string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(toolName)))
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}

// GetOrFetch returns the cached result for the fingerprint, invoking
// fetch exactly once on a miss. Repeat calls with the same key within
// a session never re-invoke the external tool.
func (c *Cache) GetOrFetch(ctx context.Context, toolName string, params map[string]string, fetch FetchFunc) (string, error) {
	key := Fingerprint(toolName, params)

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return e.Data, nil
	}
	c.mu.RUnlock()

	data, trust, err := fetch(ctx)
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return "", fmt.Errorf("tool %s: %w", toolName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A parallel fetch may have raced us here; first write wins so both
	// callers observe identical bytes.
	if e, ok := c.entries[key]; ok {
		c.hits++
		return e.Data, nil
	}
	c.misses++
	c.seq++
	c.entries[key] = &Entry{
		Key:      key,
		ToolName: strings.ToLower(strings.TrimSpace(toolName)),
		Params:   copyParams(params),
		Data:     data,
		Trust:    trust,
		Seq:      c.seq,
	}
	return data, nil
}

// Lookup returns the live entry for a fingerprint, if any.
func (c *Cache) Lookup(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put stores a value that did not come through GetOrFetch, such as a
// figure derived by the reasoning engine. Existing entries are never
// overwritten mid-session.
func (c *Cache) Put(toolName string, params map[string]string, data string, trust TrustClass) string {
	key := Fingerprint(toolName, params)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return key
	}
	c.seq++
	c.entries[key] = &Entry{
		Key:      key,
		ToolName: strings.ToLower(strings.TrimSpace(toolName)),
		Params:   copyParams(params),
		Data:     data,
		Trust:    trust,
		Seq:      c.seq,
	}
	return key
}

// Snapshot returns all entries in insertion order. The critique pass
// reads this; it must not be able to mutate the live cache.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		cp.Params = copyParams(e.Params)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Stats reports hit/miss counters and the live entry count.
func (c *Cache) Stats() (hits, misses, entries int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

// WarmKey names one speculative pre-fetch target.
type WarmKey struct {
	ToolName string
	Params   map[string]string
	Fetch    FetchFunc
}

// Warm speculatively fetches a fixed set of commonly needed keys.
// Failures are logged and skipped; warming never aborts a session.
func (c *Cache) Warm(ctx context.Context, keys []WarmKey) {
	for _, wk := range keys {
		key := Fingerprint(wk.ToolName, wk.Params)
		if _, ok := c.Lookup(key); ok {
			continue
		}
		if _, err := c.GetOrFetch(ctx, wk.ToolName, wk.Params, wk.Fetch); err != nil {
			log.Printf("cache warm skipped %s: %v", key, err)
		}
	}
}

func copyParams(params map[string]string) map[string]string {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return cp
}
