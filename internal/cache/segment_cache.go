package cache

import (
	"context"
	"sync"
	"time"

	"mediaindex/internal/logger"
	"mediaindex/internal/models"
)

// DefaultEvictionInterval is how often unreferenced entries are dropped.
const DefaultEvictionInterval = 10 * time.Second

// ActiveKeysProvider returns the keys still referenced by a live index.
type ActiveKeysProvider func() map[string]struct{}

// Key identifies a resource, or a byte range of it.
func Key(url string, rng *models.ByteRange) string {
	if rng == nil {
		return url
	}
	return url + "|" + rng.Header()
}

// ResourceCache is a thread-safe, in-memory cache for fetched media
// resources (index segments, initialization segments).
type ResourceCache struct {
	mutex    sync.RWMutex
	cache    map[string][]byte
	logger   logger.Logger
	provider ActiveKeysProvider
	interval time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a ResourceCache. A nil provider keeps every entry.
func New(log logger.Logger, provider ActiveKeysProvider, interval time.Duration) *ResourceCache {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ResourceCache{
		cache:    make(map[string][]byte),
		logger:   log,
		provider: provider,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins the background eviction worker.
func (rc *ResourceCache) Start() {
	rc.logger.Infof("Starting resource cache eviction worker...")
	go rc.evictionWorker()
}

// Stop shuts down the eviction worker and waits for it to exit.
func (rc *ResourceCache) Stop() {
	rc.logger.Infof("Stopping resource cache eviction worker...")
	rc.cancel()
	<-rc.done
}

// Set adds a resource to the cache.
func (rc *ResourceCache) Set(key string, data []byte) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	rc.cache[key] = data
	rc.logger.Debugf("Cached resource: %s, size: %d bytes", key, len(data))
}

// Get retrieves a resource from the cache.
func (rc *ResourceCache) Get(key string) ([]byte, bool) {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	data, found := rc.cache[key]
	return data, found
}

// Len returns the number of cached resources.
func (rc *ResourceCache) Len() int {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	return len(rc.cache)
}

func (rc *ResourceCache) evictionWorker() {
	defer close(rc.done)
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.ctx.Done():
			rc.logger.Infof("Eviction worker stopped.")
			return
		case <-ticker.C:
			rc.Evict()
		}
	}
}

// Evict drops every entry the provider no longer reports as active, and
// returns how many were dropped.
func (rc *ResourceCache) Evict() int {
	if rc.provider == nil {
		return 0
	}
	rc.logger.Debugf("Running cache eviction...")
	activeKeys := rc.provider()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	evictedCount := 0
	for key := range rc.cache {
		if _, isActive := activeKeys[key]; !isActive {
			delete(rc.cache, key)
			evictedCount++
		}
	}

	if evictedCount > 0 {
		rc.logger.Infof("Evicted %d resources from cache. Current cache size: %d resources.", evictedCount, len(rc.cache))
	} else {
		rc.logger.Debugf("No resources to evict. Current cache size: %d resources.", len(rc.cache))
	}
	return evictedCount
}
