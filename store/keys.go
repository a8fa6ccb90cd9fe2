package store

import (
	"context"
	"fmt"

	"github.com/sharedcode/regiondb"
	"github.com/sharedcode/regiondb/region"
)

// KeyIterator lazily walks every key held by the front's providers, provider
// by provider, region by region. With ensureUnique, keys already present in
// an earlier provider are skipped so each key appears at most once.
type KeyIterator struct {
	front        *Front
	ensureUnique bool

	provIdx    int
	regions    []regiondb.RegionKey
	haveList   bool
	regionIdx  int
	pending    []regiondb.EntryKey
	pendingIdx int
	closed     bool
}

// AllKeys returns a lazy sequence over every key in the chain. Callers must
// Close the iterator when done with it.
func (f *Front) AllKeys(ctx context.Context, ensureUnique bool) (*KeyIterator, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	return &KeyIterator{front: f, ensureUnique: ensureUnique}, nil
}

// Next returns the next key; ok is false once the sequence is exhausted.
func (it *KeyIterator) Next(ctx context.Context) (regiondb.EntryKey, bool, error) {
	if it.closed {
		return regiondb.EntryKey{}, false, regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("key iterator is closed")}
	}
	for {
		if it.pendingIdx < len(it.pending) {
			key := it.pending[it.pendingIdx]
			it.pendingIdx++
			if it.ensureUnique && it.provIdx > 0 {
				seen, err := it.front.hasIn(ctx, it.front.providers[:it.provIdx], key)
				if err != nil {
					return regiondb.EntryKey{}, false, err
				}
				if seen {
					continue
				}
			}
			return key, true, nil
		}
		if it.provIdx >= len(it.front.providers) {
			return regiondb.EntryKey{}, false, nil
		}
		if !it.haveList {
			regions, err := it.front.providers[it.provIdx].AllRegions(ctx)
			if err != nil {
				return regiondb.EntryKey{}, false, err
			}
			it.regions = regions
			it.haveList = true
			it.regionIdx = 0
		}
		if it.regionIdx >= len(it.regions) {
			it.provIdx++
			it.haveList = false
			continue
		}
		rk := it.regions[it.regionIdx]
		it.regionIdx++
		if err := it.loadRegionKeys(ctx, rk); err != nil {
			return regiondb.EntryKey{}, false, err
		}
	}
}

func (it *KeyIterator) loadRegionKeys(ctx context.Context, rk regiondb.RegionKey) error {
	it.pending = it.pending[:0]
	it.pendingIdx = 0
	model := it.front.model
	_, err := it.front.providers[it.provIdx].ForRegion(ctx, rk, false, func(r region.Region) error {
		return r.ForEachKey(ctx, func(id int) error {
			key, err := model.FromRegionAndID(rk, id)
			if err != nil {
				return err
			}
			it.pending = append(it.pending, key)
			return nil
		})
	})
	return err
}

// Close releases the iterator; further Next calls fail.
func (it *KeyIterator) Close() error {
	it.closed = true
	it.pending = nil
	it.regions = nil
	return nil
}

// EntryIterator is a lazy sequence of (key, value) pairs backed by a
// KeyIterator; values are read through the regular fallback walk.
type EntryIterator struct {
	keys *KeyIterator
}

// AllEntries returns a lazy sequence over every entry in the chain. Callers
// must Close the iterator when done with it.
func (f *Front) AllEntries(ctx context.Context, ensureUnique bool) (*EntryIterator, error) {
	keys, err := f.AllKeys(ctx, ensureUnique)
	if err != nil {
		return nil, err
	}
	return &EntryIterator{keys: keys}, nil
}

// Next returns the next entry; keys whose value vanished between listing and
// reading are skipped.
func (it *EntryIterator) Next(ctx context.Context) (regiondb.KeyValuePair[regiondb.EntryKey, []byte], bool, error) {
	for {
		key, ok, err := it.keys.Next(ctx)
		if err != nil || !ok {
			return regiondb.KeyValuePair[regiondb.EntryKey, []byte]{}, false, err
		}
		value, err := it.keys.front.Get(ctx, key, false)
		if err != nil {
			return regiondb.KeyValuePair[regiondb.EntryKey, []byte]{}, false, err
		}
		if value == nil {
			continue
		}
		return regiondb.KeyValuePair[regiondb.EntryKey, []byte]{Key: key, Value: value}, true, nil
	}
}

// Close releases the underlying key iterator.
func (it *EntryIterator) Close() error {
	return it.keys.Close()
}
