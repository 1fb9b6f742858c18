package artifact

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrCacheMiss is internal to the engine: callers fall through to the
// producer on a miss and never surface this to the user.
var ErrCacheMiss = errors.New("artifact cache miss")

type cacheKey struct {
	kind Kind
	fp   Fingerprint
}

// Cache is a content-addressed store mapping (stage kind, fingerprint) to
// the last successful artifact of that stage. Session-independent: cancel
// must never corrupt it.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*Artifact
	logger  *zap.Logger
}

// NewCache creates an empty cache.
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[cacheKey]*Artifact),
		logger:  logger,
	}
}

// Get returns the cached artifact for a stage input fingerprint. The copy is
// flagged FromCache so consumers can distinguish fresh from reused results;
// the flag has no behavioral effect on orchestration.
func (c *Cache) Get(kind Kind, fp Fingerprint) (*Artifact, error) {
	c.mu.RLock()
	stored, ok := c.entries[cacheKey{kind, fp}]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}

	cp := *stored
	cp.FromCache = true
	c.logger.Debug("artifact cache hit",
		zap.String("kind", string(kind)),
		zap.String("fingerprint", fp.Short()))
	return &cp, nil
}

// Put stores an artifact under its stage kind and input fingerprint,
// overwriting any prior entry. Forced regenerations bypass Get but still
// land here.
func (c *Cache) Put(kind Kind, fp Fingerprint, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}

	cp := *a
	cp.FromCache = false
	cp.Fingerprint = fp

	c.mu.Lock()
	c.entries[cacheKey{kind, fp}] = &cp
	c.mu.Unlock()

	c.logger.Debug("artifact cached",
		zap.String("kind", string(kind)),
		zap.String("fingerprint", fp.Short()))
	return nil
}

// Len reports the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
