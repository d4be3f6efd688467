package pmode

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coocood/freecache"
)

// DefaultCacheSize is the freecache arena used when none is configured
const DefaultCacheSize = 4 * 1024 * 1024

// CachedStore puts a freecache read-through cache in front of a slower
// Store. Entries are JSON encoded Records and are evicted on every write
// through the CachedStore.
type CachedStore struct {
	Store
	cache  *freecache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps inner. A size <= 0 uses DefaultCacheSize; a ttl <= 0
// keeps entries until evicted.
func NewCachedStore(inner Store, size int, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		Store:  inner,
		cache:  freecache.NewCache(size),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedStore) Get(ctx context.Context, id string) (*PMode, error) {
	key := []byte(id)
	if data, err := c.cache.Get(key); err == nil {
		var rec Record
		if err := json.Unmarshal(data, &rec); err == nil {
			if p, err := FromRecord(&rec); err == nil {
				return p, nil
			}
		}
		c.cache.Del(key)
	} else if !errors.Is(err, freecache.ErrNotFound) {
		c.logger.Debug("pmode cache read failed", slog.String("pmode_id", id), slog.Any("error", err))
	}

	p, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(ToRecord(p))
	if err == nil {
		err = c.cache.Set(key, data, int(c.ttl.Seconds()))
	}
	if err != nil {
		c.logger.Debug("pmode cache write failed", slog.String("pmode_id", id), slog.Any("error", err))
	}
	return p, nil
}

func (c *CachedStore) Put(ctx context.Context, p *PMode) error {
	defer c.cache.Del([]byte(p.ID))
	return c.Store.Put(ctx, p)
}

func (c *CachedStore) SoftDelete(ctx context.Context, id string) error {
	defer c.cache.Del([]byte(id))
	return c.Store.SoftDelete(ctx, id)
}

// HitRate returns the fraction of Get calls served from the cache
func (c *CachedStore) HitRate() float64 {
	return c.cache.HitRate()
}
