// cache.go — кэш готовых тайлов.
//
// Ключ включает version_stamp продукта, поэтому изменение геометрии
// делает старые записи недостижимыми. InvalidateProduct удаляет их явно,
// чтобы не занимать место до вытеснения.
package tile

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ac_tile_cache_hits_total",
		Help: "Количество попаданий в кэш тайлов",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ac_tile_cache_misses_total",
		Help: "Количество промахов кэша тайлов",
	})
)

// Key — ключ тайла в кэше.
type Key struct {
	ProductID    int64
	Z, X, Y      uint32
	VersionStamp int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d/%d/%d", k.ProductID, k.VersionStamp, k.Z, k.X, k.Y)
}

// Cache — хранилище готовых тайлов. Пустой тайл хранится как
// запись нулевой длины и отличается от промаха флагом ok.
type Cache interface {
	Get(ctx context.Context, key Key) (data []byte, ok bool)
	Set(ctx context.Context, key Key, data []byte)
	InvalidateProduct(ctx context.Context, productID int64)
}

type lruEntry struct {
	data    []byte
	expires time.Time
}

// LRUCache — кэш тайлов в памяти процесса с TTL.
type LRUCache struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, lruEntry]
	ttl time.Duration
	now func() time.Time
}

// NewLRUCache создаёт кэш на size записей. now — источник времени
// (time.Now в рабочем режиме).
func NewLRUCache(size int, ttl time.Duration, now func() time.Time) (*LRUCache, error) {
	c, err := lru.New[Key, lruEntry](size)
	if err != nil {
		return nil, fmt.Errorf("создание LRU-кэша тайлов: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &LRUCache{lru: c, ttl: ttl, now: now}, nil
}

// Get возвращает тайл, если запись есть и не истекла.
func (c *LRUCache) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.lru.Remove(key)
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return e.data, true
}

// Set сохраняет тайл.
func (c *LRUCache) Set(_ context.Context, key Key, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, lruEntry{data: data, expires: c.now().Add(c.ttl)})
}

// InvalidateProduct удаляет все тайлы продукта.
func (c *LRUCache) InvalidateProduct(_ context.Context, productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		if k.ProductID == productID {
			c.lru.Remove(k)
		}
	}
}

// Len возвращает количество записей.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
