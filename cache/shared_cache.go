package cache

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sharedcode/regiondb"
)

// CachedRegion is the minimal surface the shared cache needs from a cached
// region: close-time flushing is the region's own duty.
type CachedRegion interface {
	Flush(ctx context.Context) error
	Close() error
}

// Key identifies a cached region: the region key plus the owning factory's
// identity, so distinct stores sharing a global cache never collide.
type Key struct {
	Region regiondb.RegionKey
	Owner  uuid.UUID
}

// slot carries one cache entry plus the per-key exclusion lock. refs counts
// goroutines holding or waiting on the slot so empty slots can be reclaimed.
type slot[R CachedRegion] struct {
	mu     sync.Mutex
	refs   int
	has    bool
	region R
	opened int64
}

// SharedCache is the process-wide bounded cache of open regions. Admission
// is ticket based: at most maxSize regions are open at once; running out of
// tickets triggers a blocking forced cleanup. Eviction ranks entries by
// their open counter value, approximating LRU without per-touch updates.
type SharedCache[R CachedRegion] struct {
	maxSize       int
	softThreshold int

	tickets     chan struct{}
	openCounter atomic.Int64

	mu    sync.Mutex
	slots map[Key]*slot[R]

	// cleanupMu serializes cleanups: lazy ones skip when busy, forced ones wait.
	cleanupMu sync.Mutex

	closed atomic.Bool
}

// NewSharedCache creates a cache admitting up to maxSize regions. The soft
// watermark sits maxSize/8 below the cap, clamped to [1, 2*cores].
func NewSharedCache[R CachedRegion](maxSize, cores int) *SharedCache[R] {
	if maxSize < 1 {
		maxSize = 1
	}
	if cores < 1 {
		cores = 1
	}
	headroom := maxSize / 8
	if headroom < 1 {
		headroom = 1
	}
	if headroom > 2*cores {
		headroom = 2 * cores
	}
	return &SharedCache[R]{
		maxSize:       maxSize,
		softThreshold: maxSize - headroom,
		tickets:       make(chan struct{}, maxSize),
		slots:         make(map[Key]*slot[R]),
	}
}

// acquire takes the per-key exclusion slot, creating it on first use.
func (c *SharedCache[R]) acquire(key Key) *slot[R] {
	c.mu.Lock()
	s := c.slots[key]
	if s == nil {
		s = &slot[R]{}
		c.slots[key] = s
	}
	s.refs++
	c.mu.Unlock()
	s.mu.Lock()
	return s
}

// release drops the per-key slot, reclaiming it when empty and unreferenced.
func (c *SharedCache[R]) release(key Key, s *slot[R]) {
	s.mu.Unlock()
	c.mu.Lock()
	s.refs--
	if s.refs == 0 && !s.has {
		delete(c.slots, key)
	}
	c.mu.Unlock()
}

// ForRegion runs fn with exclusive use of the cached region for key, opening
// it through open when absent. done is false when the region does not exist
// and create was false. Opening past the ticket cap forces a blocking
// cleanup and retries; every successful open schedules a lazy cleanup.
func (c *SharedCache[R]) ForRegion(ctx context.Context, key Key, create bool, open func(ctx context.Context, create bool) (R, bool, error), fn func(R) error) (bool, error) {
	for {
		if c.closed.Load() {
			return false, regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("shared cache is closed")}
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		s := c.acquire(key)
		if s.has {
			err := fn(s.region)
			c.release(key, s)
			return true, err
		}
		select {
		case c.tickets <- struct{}{}:
			r, ok, err := open(ctx, create)
			if err != nil || !ok {
				<-c.tickets
				c.release(key, s)
				return false, err
			}
			s.region = r
			s.has = true
			s.opened = c.openCounter.Add(1)
			err = fn(s.region)
			c.release(key, s)
			if cerr := c.cleanup(ctx, false, false, nil); cerr != nil {
				log.Warn("lazy cleanup failed", "error", cerr)
			}
			return true, err
		default:
		}
		// No ticket: give up the slot, force room, try again.
		c.release(key, s)
		if err := c.cleanup(ctx, true, false, nil); err != nil {
			log.Warn("forced cleanup failed", "error", err)
		}
		regiondb.RandomSleep(ctx)
	}
}

// cleanup closes expired entries. force skips the soft watermark check; full
// expires everything regardless of rank; match restricts the sweep to
// selected keys. Lazy invocations skip when a cleanup is already running,
// forced ones wait their turn. Close failures are logged and the sweep
// continues; the first error is returned.
func (c *SharedCache[R]) cleanup(ctx context.Context, force, full bool, match func(Key) bool) error {
	if force || full {
		c.cleanupMu.Lock()
	} else if !c.cleanupMu.TryLock() {
		return nil
	}
	defer c.cleanupMu.Unlock()

	used := len(c.tickets)
	if !full && !force && used < c.softThreshold {
		return nil
	}
	expiration := c.openCounter.Load() - int64(used/2)

	c.mu.Lock()
	candidates := make([]regiondb.Tuple[Key, *slot[R]], 0, len(c.slots))
	for k, s := range c.slots {
		if match != nil && !match(k) {
			continue
		}
		candidates = append(candidates, regiondb.Tuple[Key, *slot[R]]{First: k, Second: s})
	}
	c.mu.Unlock()

	var firstErr error
	for _, cand := range candidates {
		k, s := cand.First, cand.Second
		s.mu.Lock()
		if s.has && (full || s.opened <= expiration) {
			if err := s.region.Close(); err != nil {
				log.Warn("closing cached region failed", "region", k.Region, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
			var zero R
			s.region = zero
			s.has = false
			<-c.tickets
		}
		s.mu.Unlock()
		c.mu.Lock()
		// Only reclaim the slot if it is still the one mapped for the key.
		if cur, ok := c.slots[k]; ok && cur == s && s.refs == 0 && !s.has {
			delete(c.slots, k)
		}
		c.mu.Unlock()
	}
	return firstErr
}

// Flush flushes every cached region in place without evicting.
func (c *SharedCache[R]) Flush(ctx context.Context) error {
	return c.flush(ctx, nil)
}

// FlushOwner flushes the cached regions of one owner in place.
func (c *SharedCache[R]) FlushOwner(ctx context.Context, owner uuid.UUID) error {
	return c.flush(ctx, func(k Key) bool { return k.Owner == owner })
}

func (c *SharedCache[R]) flush(ctx context.Context, match func(Key) bool) error {
	c.mu.Lock()
	candidates := make([]regiondb.Tuple[Key, *slot[R]], 0, len(c.slots))
	for k, s := range c.slots {
		if match != nil && !match(k) {
			continue
		}
		s.refs++
		candidates = append(candidates, regiondb.Tuple[Key, *slot[R]]{First: k, Second: s})
	}
	c.mu.Unlock()

	var firstErr error
	for _, cand := range candidates {
		k, s := cand.First, cand.Second
		s.mu.Lock()
		if s.has {
			if err := s.region.Flush(ctx); err != nil {
				log.Warn("flushing cached region failed", "region", k.Region, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		c.release(k, s)
	}
	return firstErr
}

// CloseOwner evicts and closes one owner's regions, leaving other owners'
// entries cached.
func (c *SharedCache[R]) CloseOwner(ctx context.Context, owner uuid.UUID) error {
	return c.cleanup(ctx, true, true, func(k Key) bool { return k.Owner == owner })
}

// Close performs a full forced cleanup and rejects further use.
func (c *SharedCache[R]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.cleanup(context.Background(), true, true, nil)
}

// Len reports how many regions are currently open, per the ticket pool.
func (c *SharedCache[R]) Len() int {
	return len(c.tickets)
}
