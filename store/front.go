// Package store exposes the user-facing key-value surface: an ordered
// fallback chain of region providers with single-writer semantics per key.
package store

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sharedcode/regiondb"
	"github.com/sharedcode/regiondb/region"
)

// Front is the storage front: Put walks the provider chain until a tier
// accepts the value and erases stale copies from the tiers after it, so at
// most one provider holds a given key once writes quiesce. Get returns the
// first tier's non-empty read.
type Front struct {
	model     regiondb.KeyModel
	providers []region.Provider
	closed    atomic.Bool
}

// NewFront builds a front over the ordered provider chain, typically
// [inline, ext].
func NewFront(model regiondb.KeyModel, providers ...region.Provider) *Front {
	return &Front{
		model:     model,
		providers: providers,
	}
}

func (f *Front) checkOpen() error {
	if f.closed.Load() {
		return regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("storage front is closed")}
	}
	return nil
}

// pendingWrite tracks one key's progress through the provider chain.
type pendingWrite struct {
	key     regiondb.EntryKey
	toWrite []byte
	causes  []error
}

// accepted reports that the value found a home (or the request was a delete).
func (w *pendingWrite) accepted() bool {
	return w.toWrite == nil
}

// Put stores value under key; a nil value deletes the key from every tier.
func (f *Front) Put(ctx context.Context, key regiondb.EntryKey, value []byte) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := regiondb.ValidateEntryKey(f.model, key); err != nil {
		return err
	}
	w := &pendingWrite{key: key, toWrite: value}
	if err := f.putBucket(ctx, key.Region, []*pendingWrite{w}); err != nil {
		return err
	}
	if !w.accepted() {
		return regiondb.StorageError{
			Description: fmt.Sprintf("unable to store %v (%d bytes)", key, len(value)),
			Causes:      w.causes,
		}
	}
	return nil
}

// putBucket pushes one region's batch through the provider chain, each tier
// visited under a single exclusive acquisition. UnsupportedData drives
// fallback: the failing tier gets a delete for the key so no stale copy
// remains, and the next tier attempts the write. Any other error aborts the
// batch.
func (f *Front) putBucket(ctx context.Context, rk regiondb.RegionKey, batch []*pendingWrite) error {
	for _, p := range f.providers {
		create := false
		for _, w := range batch {
			if w.toWrite != nil {
				create = true
				break
			}
		}
		_, err := p.ForRegion(ctx, rk, create, func(r region.Region) error {
			for _, w := range batch {
				if w.toWrite == nil {
					// Already placed upstream, or a delete request: make sure
					// this tier holds nothing for the key.
					if err := r.WriteNull(ctx, w.key); err != nil {
						return err
					}
					continue
				}
				if err := r.Write(ctx, w.key, w.toWrite); err != nil {
					if regiondb.CodeOf(err) == regiondb.UnsupportedData {
						w.causes = append(w.causes, err)
						if nerr := r.WriteNull(ctx, w.key); nerr != nil {
							return nerr
						}
						continue
					}
					return err
				}
				w.toWrite = nil
				w.causes = nil
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// PutMany stores the batch, grouping keys per region so each region's writes
// run inside one exclusive acquisition per tier, with regions fanned out in
// parallel. Keys stored successfully are removed from entries; failed keys
// remain and are reported in one aggregate StorageError.
func (f *Front) PutMany(ctx context.Context, entries map[regiondb.EntryKey][]byte) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	total := len(entries)
	buckets := make(map[regiondb.RegionKey][]*pendingWrite)
	var invalid []*pendingWrite
	for k, v := range entries {
		w := &pendingWrite{key: k, toWrite: v}
		if err := regiondb.ValidateEntryKey(f.model, k); err != nil {
			w.causes = append(w.causes, err)
			invalid = append(invalid, w)
			continue
		}
		buckets[k.Region] = append(buckets[k.Region], w)
	}

	tr := regiondb.NewTaskRunner(ctx, runtime.GOMAXPROCS(0))
	var mu sync.Mutex
	for rk, batch := range buckets {
		tr.Go(func() error {
			if err := f.putBucket(tr.GetContext(), rk, batch); err != nil {
				mu.Lock()
				for _, w := range batch {
					if !w.accepted() {
						w.causes = append(w.causes, err)
					}
				}
				mu.Unlock()
			}
			// Failures are collected per key; never cancel sibling regions.
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return err
	}

	var causes []error
	collect := func(batch []*pendingWrite) {
		for _, w := range batch {
			if w.accepted() {
				delete(entries, w.key)
				continue
			}
			causes = append(causes, fmt.Errorf("%v: %w", w.key, errors.Join(w.causes...)))
		}
	}
	for _, batch := range buckets {
		collect(batch)
	}
	collect(invalid)
	if len(causes) > 0 {
		return regiondb.StorageError{
			Description: fmt.Sprintf("unable to store %d of %d entries", len(causes), total),
			Causes:      causes,
		}
	}
	return nil
}

// Get returns the first tier's value for key, or nil when no tier holds it.
// createIfMissing opens regions that do not exist yet instead of skipping
// them.
func (f *Front) Get(ctx context.Context, key regiondb.EntryKey, createIfMissing bool) ([]byte, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if err := regiondb.ValidateEntryKey(f.model, key); err != nil {
		return nil, err
	}
	for _, p := range f.providers {
		var out []byte
		done, err := p.ForRegion(ctx, key.Region, createIfMissing, func(r region.Region) error {
			var e error
			out, e = r.Read(ctx, key)
			return e
		})
		if err != nil {
			return nil, err
		}
		if !done || out == nil {
			continue
		}
		return out, nil
	}
	return nil, nil
}

// Has reports whether any tier holds the key, short-circuiting on the first hit.
func (f *Front) Has(ctx context.Context, key regiondb.EntryKey) (bool, error) {
	if err := f.checkOpen(); err != nil {
		return false, err
	}
	if err := regiondb.ValidateEntryKey(f.model, key); err != nil {
		return false, err
	}
	return f.hasIn(ctx, f.providers, key)
}

func (f *Front) hasIn(ctx context.Context, providers []region.Provider, key regiondb.EntryKey) (bool, error) {
	for _, p := range providers {
		var found bool
		_, err := p.ForRegion(ctx, key.Region, false, func(r region.Region) error {
			var e error
			found, e = r.Has(ctx, key)
			return e
		})
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Flush flushes every provider's open regions.
func (f *Front) Flush(ctx context.Context) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	var firstErr error
	for _, p := range f.providers {
		if err := p.Flush(ctx); err != nil {
			log.Warn("provider flush failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every provider. Closing twice is a no-op.
func (f *Front) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	var firstErr error
	for _, p := range f.providers {
		if err := p.Close(); err != nil {
			log.Warn("provider close failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
