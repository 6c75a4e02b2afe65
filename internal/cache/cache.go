// Package cache is the read cache in front of the device store: a bounded
// per-SKU LRU with per-entry expiry plus single TTL slots for the list and
// aggregate views.
package cache

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"tezgah/backend/internal/domain"
)

const (
	DefaultItemCapacity = 500
	DefaultItemTTL      = 5 * time.Minute
	DefaultAggregateTTL = 60 * time.Second
)

type Options struct {
	ItemCapacity int
	ItemTTL      time.Duration
	AggregateTTL time.Duration
	Now          func() time.Time
}

type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Items  int    `json:"items"`
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

type slot[T any] struct {
	value     T
	expiresAt time.Time
	set       bool
}

// Cache is safe for concurrent use. Every invalidation bumps a generation
// counter; a load that started before the bump does not store its result,
// and callers arriving after the bump never join it. Loads ignore the
// cancellation of the caller that started them.
type Cache struct {
	mu         sync.Mutex
	items      *simplelru.LRU[string, entry[domain.InventoryItem]]
	list       slot[[]domain.InventoryItem]
	dashboard  slot[domain.DashboardStats]
	categories slot[[]domain.CategoryStats]
	generation uint64

	itemTTL      time.Duration
	aggregateTTL time.Duration
	now          func() time.Time

	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

func New(opts Options) *Cache {
	if opts.ItemCapacity < 1 {
		opts.ItemCapacity = DefaultItemCapacity
	}
	if opts.ItemTTL <= 0 {
		opts.ItemTTL = DefaultItemTTL
	}
	if opts.AggregateTTL <= 0 {
		opts.AggregateTTL = DefaultAggregateTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// NewLRU only fails for a non-positive size, which is ruled out above.
	items, _ := simplelru.NewLRU[string, entry[domain.InventoryItem]](opts.ItemCapacity, nil)
	return &Cache{
		items:        items,
		itemTTL:      opts.ItemTTL,
		aggregateTTL: opts.AggregateTTL,
		now:          opts.Now,
	}
}

func (c *Cache) Item(ctx context.Context, sku string, load func(context.Context) (*domain.InventoryItem, error)) (*domain.InventoryItem, error) {
	c.mu.Lock()
	if e, ok := c.items.Get(sku); ok {
		if c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			c.hits.Add(1)
			item := e.value
			return &item, nil
		}
		c.items.Remove(sku)
	}
	gen := c.generation
	c.mu.Unlock()
	c.misses.Add(1)

	v, err, _ := c.group.Do(flightKey("item:"+sku, gen), func() (any, error) {
		item, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.items.Add(sku, entry[domain.InventoryItem]{value: *item, expiresAt: c.now().Add(c.itemTTL)})
		}
		c.mu.Unlock()
		return *item, nil
	})
	if err != nil {
		return nil, err
	}
	item := v.(domain.InventoryItem)
	return &item, nil
}

func (c *Cache) Items(ctx context.Context, load func(context.Context) ([]domain.InventoryItem, error)) ([]domain.InventoryItem, error) {
	items, err := readSlot(c, ctx, "items", &c.list, load)
	return slices.Clone(items), err
}

func (c *Cache) DashboardStats(ctx context.Context, load func(context.Context) (domain.DashboardStats, error)) (domain.DashboardStats, error) {
	return readSlot(c, ctx, "dashboard", &c.dashboard, load)
}

func (c *Cache) CategoryStats(ctx context.Context, load func(context.Context) ([]domain.CategoryStats, error)) ([]domain.CategoryStats, error) {
	stats, err := readSlot(c, ctx, "categories", &c.categories, load)
	return slices.Clone(stats), err
}

func readSlot[T any](c *Cache, ctx context.Context, key string, s *slot[T], load func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if s.set && c.now().Before(s.expiresAt) {
		value := s.value
		c.mu.Unlock()
		c.hits.Add(1)
		return value, nil
	}
	gen := c.generation
	c.mu.Unlock()
	c.misses.Add(1)

	v, err, _ := c.group.Do(flightKey(key, gen), func() (any, error) {
		value, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			*s = slot[T]{value: value, expiresAt: c.now().Add(c.aggregateTTL), set: true}
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func flightKey(key string, gen uint64) string {
	return key + "@" + strconv.FormatUint(gen, 10)
}

// InvalidateItem drops one SKU together with every aggregate that may
// include it.
func (c *Cache) InvalidateItem(sku string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(sku)
	c.clearAggregatesLocked()
}

func (c *Cache) InvalidateAggregates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearAggregatesLocked()
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
	c.clearAggregatesLocked()
}

func (c *Cache) clearAggregatesLocked() {
	c.list = slot[[]domain.InventoryItem]{}
	c.dashboard = slot[domain.DashboardStats]{}
	c.categories = slot[[]domain.CategoryStats]{}
	c.generation++
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := c.items.Len()
	c.mu.Unlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Items: n}
}
