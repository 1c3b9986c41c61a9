package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warp/stock-engine/stock"
)

// LocationCache keeps the location list in memory. Locations change
// rarely, so reads are served from the cache until Invalidate or a write
// through Save.
type LocationCache struct {
	store stock.LocationStore

	mu     sync.RWMutex
	all    []stock.Location
	loaded bool
}

func NewLocationCache(store stock.LocationStore) *LocationCache {
	return &LocationCache{store: store}
}

// Active returns active locations ordered by id.
func (c *LocationCache) Active(ctx context.Context) ([]stock.Location, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return stock.ActiveOnly(all), nil
}

// List returns all locations ordered by id. The slice is a copy.
func (c *LocationCache) List(ctx context.Context) ([]stock.Location, error) {
	c.mu.RLock()
	if c.loaded {
		out := append([]stock.Location(nil), c.all...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		all, err := c.store.ListLocations(ctx, false)
		if err != nil {
			return nil, stock.WrapStorage("list locations", err)
		}
		c.all = all
		c.loaded = true
	}
	return append([]stock.Location(nil), c.all...), nil
}

// Get returns a location or ErrLocationNotFound.
func (c *LocationCache) Get(ctx context.Context, id stock.LocationID) (stock.Location, error) {
	all, err := c.List(ctx)
	if err != nil {
		return stock.Location{}, err
	}
	for _, l := range all {
		if l.ID == id {
			return l, nil
		}
	}
	return stock.Location{}, fmt.Errorf("%w: %d", stock.ErrLocationNotFound, id)
}

// Save writes loc through to the store and invalidates the cache.
func (c *LocationCache) Save(ctx context.Context, loc stock.Location) (stock.Location, error) {
	saved, err := c.store.SaveLocation(ctx, loc)
	c.Invalidate()
	if errors.Is(err, stock.ErrLocationNotFound) {
		return stock.Location{}, err
	}
	if err != nil {
		return stock.Location{}, stock.WrapStorage("save location", err)
	}
	return saved, nil
}

// Invalidate drops the cached list; the next read reloads it.
func (c *LocationCache) Invalidate() {
	c.mu.Lock()
	c.all = nil
	c.loaded = false
	c.mu.Unlock()
}
