package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.uber.org/atomic"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

// ttlPurgeEvery controls how often (in inserts) expired entries are swept.
const ttlPurgeEvery = 100

// cacheEntry holds a cached embedding with its origin and insertion time.
type cacheEntry struct {
	vector    []float64
	createdAt time.Time
	provider  string
	model     string
	seq       uint64
}

// EmbeddingCache is a content-addressed text->vector cache with ordered
// provider fallback. A miss always falls through to a live embedding call;
// the cache is purely an optimization.
type EmbeddingCache struct {
	providers []interfaces.Provider
	maxSize   int
	ttl       time.Duration
	batchSize int
	logger    *log.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []orderedKey // insertion order, lazily compacted on evict
	seq     uint64
	inserts uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type orderedKey struct {
	key string
	seq uint64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

// NewEmbeddingCache creates a cache over the given providers, tried in order.
func NewEmbeddingCache(providers []interfaces.Provider, cfg config.CacheConfig, logger *log.Logger) *EmbeddingCache {
	return &EmbeddingCache{
		providers: providers,
		maxSize:   cfg.MaxSize,
		ttl:       cfg.TTL.Std(),
		batchSize: cfg.BatchSize,
		logger:    logger,
		entries:   make(map[string]*cacheEntry),
	}
}

// Embed returns the embedding for text, served from cache when possible.
// On failure each remaining embedding-capable provider is tried in order
// before AllProvidersFailedError is raised.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float64, error) {
	failures := make(map[string]error)
	tried := false

	for _, p := range c.providers {
		if !p.SupportsEmbedding() {
			continue
		}
		tried = true

		key := cacheKey(p.Name(), p.EmbeddingModel(), text)
		if vec, ok := c.get(key); ok {
			c.hits.Inc()
			return vec, nil
		}
		c.misses.Inc()

		// Network call happens outside the cache lock.
		vec, err := p.Embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures[p.Name()] = err
			c.logger.Warn("embedding provider failed, falling back",
				"provider", p.Name(), "error", err)
			continue
		}

		vec = NormalizeVector(vec)
		c.put(key, vec, p.Name(), p.EmbeddingModel())
		return vec, nil
	}

	if !tried {
		return nil, ErrProviderUnavailable
	}
	return nil, &AllProvidersFailedError{Errs: failures}
}

// EmbedBatch embeds texts in batches of the configured batch size. A failed
// batch call falls back to embedding each member individually so one bad
// input never fails the whole batch. The returned slice is aligned with
// texts; members that could not be embedded are nil. An error is returned
// only when nothing succeeded.
func (c *EmbeddingCache) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, len(texts))
	succeeded := 0
	var lastErr error

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		n, err := c.embedChunk(ctx, texts[start:end], vectors[start:end])
		succeeded += n
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		}
	}

	if succeeded == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrProviderUnavailable
	}
	return vectors, nil
}

// embedChunk fills out[i] for each chunk member, returning the success count.
func (c *EmbeddingCache) embedChunk(ctx context.Context, chunk []string, out [][]float64) (int, error) {
	provider := c.firstEmbeddingProvider()
	if provider == nil {
		return 0, ErrProviderUnavailable
	}

	// Serve cached members and collect the rest.
	uncachedIdx := make([]int, 0, len(chunk))
	uncached := make([]string, 0, len(chunk))
	for i, text := range chunk {
		key := cacheKey(provider.Name(), provider.EmbeddingModel(), text)
		if vec, ok := c.get(key); ok {
			c.hits.Inc()
			out[i] = vec
			continue
		}
		c.misses.Inc()
		uncachedIdx = append(uncachedIdx, i)
		uncached = append(uncached, text)
	}
	succeeded := len(chunk) - len(uncached)
	if len(uncached) == 0 {
		return succeeded, nil
	}

	vecs, err := provider.EmbedBatch(ctx, uncached)
	if err == nil && len(vecs) == len(uncached) {
		for j, idx := range uncachedIdx {
			vec := NormalizeVector(vecs[j])
			c.put(cacheKey(provider.Name(), provider.EmbeddingModel(), uncached[j]), vec, provider.Name(), provider.EmbeddingModel())
			out[idx] = vec
			succeeded++
		}
		return succeeded, nil
	}

	if ctx.Err() != nil {
		return succeeded, ctx.Err()
	}
	c.logger.Warn("batch embedding failed, retrying members individually",
		"provider", provider.Name(), "members", len(uncached), "error", err)

	// Per-member fallback goes through Embed so each member still gets the
	// full provider chain.
	var lastErr error
	for j, idx := range uncachedIdx {
		vec, memberErr := c.Embed(ctx, uncached[j])
		if memberErr != nil {
			if ctx.Err() != nil {
				return succeeded, ctx.Err()
			}
			lastErr = memberErr
			continue
		}
		out[idx] = vec
		succeeded++
	}
	return succeeded, lastErr
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
		MaxSize:   c.maxSize,
	}
}

// Clear drops every cached entry.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
}

func (c *EmbeddingCache) firstEmbeddingProvider() interfaces.Provider {
	for _, p := range c.providers {
		if p.SupportsEmbedding() {
			return p
		}
	}
	return nil
}

func (c *EmbeddingCache) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.vector, true
}

func (c *EmbeddingCache) put(key string, vector []float64, provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[key] = &cacheEntry{
		vector:    vector,
		createdAt: time.Now(),
		provider:  provider,
		model:     model,
		seq:       c.seq,
	}
	c.order = append(c.order, orderedKey{key: key, seq: c.seq})

	// Evict oldest-by-insertion entries while over capacity. Stale order
	// entries (overwritten keys) are skipped via the sequence check.
	for c.maxSize > 0 && len(c.entries) > c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		entry, ok := c.entries[oldest.key]
		if !ok || entry.seq != oldest.seq {
			continue
		}
		delete(c.entries, oldest.key)
		c.evictions.Inc()
	}

	c.inserts++
	if c.ttl > 0 && c.inserts%ttlPurgeEvery == 0 {
		c.purgeExpiredLocked()
	}
}

func (c *EmbeddingCache) purgeExpiredLocked() {
	cutoff := time.Now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.createdAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}

	// Compact order: keys that expired here, expired in get, or were
	// overwritten would otherwise pile up one per insert forever.
	kept := c.order[:0]
	for _, ordered := range c.order {
		entry, live := c.entries[ordered.key]
		if live && entry.seq == ordered.seq {
			kept = append(kept, ordered)
		}
	}
	c.order = kept
}

// cacheKey hashes provider, model and normalized text so switching models
// never returns a stale cross-model vector.
func cacheKey(provider, model, text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	h := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + normalized))
	return hex.EncodeToString(h[:])
}
