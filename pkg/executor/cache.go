package executor

import (
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// itemOutcome is what a successful provider execution yields, and what
// the cache stores.
type itemOutcome struct {
	Output   string
	Provider string
	Model    string
	Cost     float64
	Attempts int
}

// resultCache caches successful work item results within one run, keyed
// by (identity, parameters). Concurrent requests for the same key
// collapse onto a single in-flight execution.
type resultCache struct {
	group   singleflight.Group
	mu      sync.RWMutex
	results map[string]itemOutcome
}

func newResultCache() *resultCache {
	return &resultCache{results: make(map[string]itemOutcome)}
}

// cacheKey derives the cache key for an item. JSON marshaling sorts map
// keys, so equal parameter sets produce equal keys.
func cacheKey(item *WorkItem) (string, error) {
	params, err := json.Marshal(item.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal item params: %w", err)
	}
	return fmt.Sprintf("%s|%s|%s", item.Kind, item.Name, params), nil
}

// do returns the cached outcome for key, or executes fn at most once per
// key across concurrent callers and caches its success. The bool reports
// whether the outcome was served from cache or a shared execution.
func (c *resultCache) do(key string, fn func() (itemOutcome, error)) (itemOutcome, bool, error) {
	c.mu.RLock()
	if cached, ok := c.results[key]; ok {
		c.mu.RUnlock()
		return cached, true, nil
	}
	c.mu.RUnlock()

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		out, err := fn()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.results[key] = out
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return itemOutcome{}, shared, err
	}
	return v.(itemOutcome), shared, nil
}
