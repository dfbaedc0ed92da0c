// Package imagecache loads images as letterboxed RGB tensors and memoizes them by resolved path.
package imagecache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache maps resolved absolute image paths to decoded tensors. Safe for concurrent use.
type Cache struct {
	size    int
	policy  Policy
	entries map[string]*Tensor
	hits    int64
	misses  int64
	mu      sync.Mutex
}

// Stats reports cache activity.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Bytes   int64 `json:"bytes"`
}

// New creates a cache producing size×size tensors. A nil policy means NeverEvict.
func New(size int, policy Policy) *Cache {
	if policy == nil {
		policy = NeverEvict{}
	}
	return &Cache{
		size:    size,
		policy:  policy,
		entries: make(map[string]*Tensor),
	}
}

// NewFromConfig creates a cache from a policy name ("never" or "lru").
func NewFromConfig(size int, policyName string, capacity int) (*Cache, error) {
	switch policyName {
	case "never", "":
		return New(size, NeverEvict{}), nil
	case "lru":
		if capacity <= 0 {
			return nil, fmt.Errorf("lru cache needs a positive capacity")
		}
		return New(size, NewLRU(capacity)), nil
	default:
		return nil, fmt.Errorf("unknown cache policy: %s (supported: never, lru)", policyName)
	}
}

// Size returns the square target resolution.
func (c *Cache) Size() int {
	return c.size
}

// Get returns the tensor for filename resolved against baseDir, loading it on a miss.
// Returned tensors are shared and must not be modified.
func (c *Cache) Get(filename, baseDir string) (*Tensor, error) {
	path, err := filepath.Abs(filepath.Join(baseDir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", filename, err)
	}

	c.mu.Lock()
	if t, ok := c.entries[path]; ok {
		c.hits++
		c.policy.Accessed(path)
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	t, err := c.load(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[path]; ok {
		c.hits++
		c.policy.Accessed(path)
		return existing, nil
	}
	c.misses++
	c.entries[path] = t
	for _, key := range c.policy.Added(path) {
		delete(c.entries, key)
	}
	return t, nil
}

func (c *Cache) load(path string) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	t, err := Decode(f, c.size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Len returns the number of cached tensors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	perEntry := int64(c.size * c.size * 3 * 4)
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Bytes:   int64(len(c.entries)) * perEntry,
	}
}
