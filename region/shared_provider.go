package region

import (
	"context"
	"runtime"
	"sync"

	"github.com/sharedcode/regiondb"
	"github.com/sharedcode/regiondb/cache"
)

// sharedProvider delegates region lifetimes to a process-wide shared cache
// keyed by (region key, factory identity).
type sharedProvider struct {
	factory Factory
	shared  *cache.SharedCache[Region]
}

// NewSharedCachedProvider returns a Provider whose regions live in the given
// shared cache (or the package default when nil) until evicted or the
// provider closes.
func NewSharedCachedProvider(factory Factory, shared *cache.SharedCache[Region]) Provider {
	if shared == nil {
		shared = DefaultSharedCache()
	}
	return &sharedProvider{
		factory: factory,
		shared:  shared,
	}
}

func (p *sharedProvider) ForRegion(ctx context.Context, rk regiondb.RegionKey, create bool, fn func(Region) error) (bool, error) {
	key := cache.Key{Region: rk, Owner: p.factory.ID()}
	open := func(ctx context.Context, allowCreate bool) (Region, bool, error) {
		if allowCreate {
			r, err := p.factory.Open(ctx, rk)
			return r, err == nil, err
		}
		r, err := p.factory.OpenExisting(ctx, rk)
		if err != nil || r == nil {
			return nil, false, err
		}
		return r, true, nil
	}
	return p.shared.ForRegion(ctx, key, create, open, fn)
}

func (p *sharedProvider) AllRegions(ctx context.Context) ([]regiondb.RegionKey, error) {
	return p.factory.AllRegions(ctx)
}

// Flush flushes this provider's cached regions in place.
func (p *sharedProvider) Flush(ctx context.Context) error {
	return p.shared.FlushOwner(ctx, p.factory.ID())
}

// Close evicts and closes this provider's regions; other owners sharing the
// cache are untouched.
func (p *sharedProvider) Close() error {
	return p.shared.CloseOwner(context.Background(), p.factory.ID())
}

// DefaultSharedCacheSize is the capacity used for the process-wide default
// cache. Change it before the first DefaultSharedCache call.
var DefaultSharedCacheSize = 256

var (
	defaultSharedOnce sync.Once
	defaultShared     *cache.SharedCache[Region]
)

// DefaultSharedCache returns the process-wide region cache, creating it on
// first use with DefaultSharedCacheSize permits and a soft watermark scaled
// to GOMAXPROCS.
func DefaultSharedCache() *cache.SharedCache[Region] {
	defaultSharedOnce.Do(func() {
		defaultShared = cache.NewSharedCache[Region](DefaultSharedCacheSize, runtime.GOMAXPROCS(0))
	})
	return defaultShared
}
