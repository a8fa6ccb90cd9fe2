package region

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/sharedcode/regiondb"
	"github.com/sharedcode/regiondb/cache"
)

// cachedProvider keeps up to maxSize regions of one factory open in a
// per-instance MRU cache. Access is serialized on the provider mutex;
// evicted regions are closed.
type cachedProvider struct {
	mu      sync.Mutex
	factory Factory
	regions *cache.Cache[regiondb.RegionKey, Region]
	closed  bool
}

// NewCachedProvider returns a Provider with a private bounded LRU of open
// regions.
func NewCachedProvider(factory Factory, maxSize int) Provider {
	return &cachedProvider{
		factory: factory,
		regions: cache.NewCache(maxSize, func(rk regiondb.RegionKey, r Region) {
			if err := r.Close(); err != nil {
				log.Warn("closing evicted region failed", "region", rk, "error", err)
			}
		}),
	}
}

func (p *cachedProvider) ForRegion(ctx context.Context, rk regiondb.RegionKey, create bool, fn func(Region) error) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("provider is closed")}
	}
	r, ok := p.regions.Get(rk)
	if !ok {
		var err error
		if create {
			r, err = p.factory.Open(ctx, rk)
		} else {
			r, err = p.factory.OpenExisting(ctx, rk)
		}
		if err != nil {
			return false, err
		}
		if r == nil {
			return false, nil
		}
		p.regions.Set(rk, r)
	}
	return true, fn(r)
}

func (p *cachedProvider) AllRegions(ctx context.Context) ([]regiondb.RegionKey, error) {
	return p.factory.AllRegions(ctx)
}

func (p *cachedProvider) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	p.regions.Each(func(rk regiondb.RegionKey, r Region) bool {
		if err := r.Flush(ctx); err != nil {
			log.Warn("flushing cached region failed", "region", rk, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		return true
	})
	return firstErr
}

func (p *cachedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.regions.Clear()
	return nil
}
