package region

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/regiondb"
)

// simpleProvider opens a fresh region on every call and closes it before
// returning. Stateless apart from a mutex giving callers the per-region
// exclusion the Region contract expects.
type simpleProvider struct {
	mu      sync.Mutex
	factory Factory
	closed  bool
}

// NewSimpleProvider returns a Provider that opens and closes a region per
// call. Suited to tiers whose regions are cheap to open, e.g. the sidecar
// store.
func NewSimpleProvider(factory Factory) Provider {
	return &simpleProvider{factory: factory}
}

func (p *simpleProvider) ForRegion(ctx context.Context, rk regiondb.RegionKey, create bool, fn func(Region) error) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("provider is closed")}
	}
	var r Region
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
	defer r.Close()
	return true, fn(r)
}

func (p *simpleProvider) AllRegions(ctx context.Context) ([]regiondb.RegionKey, error) {
	return p.factory.AllRegions(ctx)
}

// Flush has nothing to do: no region handle outlives a ForRegion call.
func (p *simpleProvider) Flush(ctx context.Context) error {
	return nil
}

func (p *simpleProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
