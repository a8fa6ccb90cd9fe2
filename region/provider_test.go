package region

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sharedcode/regiondb"
	"github.com/sharedcode/regiondb/cache"
)

func newTestSharedCache(max int) *cache.SharedCache[Region] {
	return cache.NewSharedCache[Region](max, 2)
}

// gridModel is a minimal key model for provider tests: names like "X.Y.tst".
type gridModel struct{ count int }

func (m gridModel) KeyCount(regiondb.RegionKey) int { return m.count }

func (m gridModel) IsValid(rk regiondb.RegionKey) bool {
	return strings.HasSuffix(string(rk), ".tst") && regiondb.IsValidRegionName(string(rk))
}

func (m gridModel) FromRegionAndID(rk regiondb.RegionKey, id int) (regiondb.EntryKey, error) {
	k := regiondb.EntryKey{Region: rk, ID: id}
	return k, regiondb.ValidateEntryKey(m, k)
}

func TestSimpleProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewRegionFileFactory(dir, gridModel{count: 16}, Config{SectorSize: 512})
	p := NewSimpleProvider(f)
	defer p.Close()

	// Region absent and creation forbidden: not done.
	done, err := p.ForRegion(ctx, "0.0.tst", false, func(r Region) error { return nil })
	if err != nil || done {
		t.Fatalf("absent region must report not done, done=%v err=%v", done, err)
	}

	done, err = p.ForRegion(ctx, "0.0.tst", true, func(r Region) error {
		return r.Write(ctx, ek(1), []byte("hello"))
	})
	if err != nil || !done {
		t.Fatalf("create+write failed: done=%v err=%v", done, err)
	}

	// A fresh call reopens the file and sees the data.
	var got []byte
	done, err = p.ForRegion(ctx, "0.0.tst", false, func(r Region) error {
		var e error
		got, e = r.Read(ctx, ek(1))
		return e
	})
	if err != nil || !done || string(got) != "hello" {
		t.Fatalf("reread: done=%v err=%v got=%q", done, err, got)
	}
}

func TestFactoryAllRegionsFiltering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	model := gridModel{count: 16}
	f := NewRegionFileFactory(dir, model, Config{SectorSize: 512})
	p := NewSimpleProvider(f)
	defer p.Close()

	for _, rk := range []regiondb.RegionKey{"0.0.tst", "1.0.tst"} {
		if _, err := p.ForRegion(ctx, rk, true, func(r Region) error {
			return r.Write(ctx, regiondb.EntryKey{Region: rk, ID: 0}, []byte("x"))
		}); err != nil {
			t.Fatalf("seed %s: %v", rk, err)
		}
	}
	// Files the key model does not recognize are skipped.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("n"), 0o644)

	regions, err := p.AllRegions(ctx)
	if err != nil {
		t.Fatalf("all regions: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("regions=%v want the two seeded region files", regions)
	}
}

func TestExtFactoryAllRegions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	model := gridModel{count: 16}
	f := NewExtRegionFactory(dir, model, Config{})
	p := NewSimpleProvider(f)
	defer p.Close()

	if _, err := p.ForRegion(ctx, "2.2.tst", true, func(r Region) error {
		return r.Write(ctx, regiondb.EntryKey{Region: "2.2.tst", ID: 3}, bytes.Repeat([]byte{1}, 10))
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	regions, err := p.AllRegions(ctx)
	if err != nil {
		t.Fatalf("all regions: %v", err)
	}
	if len(regions) != 1 || regions[0] != "2.2.tst" {
		t.Fatalf("regions=%v want [2.2.tst]", regions)
	}
	// Absent sidecar: not done without create.
	done, err := p.ForRegion(ctx, "9.9.tst", false, func(r Region) error { return nil })
	if err != nil || done {
		t.Fatalf("absent sidecar must report not done")
	}
}

func TestCachedProviderEvictsAndCloses(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	model := gridModel{count: 16}
	f := NewRegionFileFactory(dir, model, Config{SectorSize: 512})
	p := NewCachedProvider(f, 2)
	defer p.Close()

	keys := []regiondb.RegionKey{"0.0.tst", "1.0.tst", "2.0.tst", "3.0.tst"}
	for i, rk := range keys {
		if _, err := p.ForRegion(ctx, rk, true, func(r Region) error {
			return r.Write(ctx, regiondb.EntryKey{Region: rk, ID: i}, []byte{byte(i)})
		}); err != nil {
			t.Fatalf("write %s: %v", rk, err)
		}
	}
	// Earlier regions were evicted and closed; rereading reopens them.
	var got []byte
	done, err := p.ForRegion(ctx, keys[0], false, func(r Region) error {
		var e error
		got, e = r.Read(ctx, regiondb.EntryKey{Region: keys[0], ID: 0})
		return e
	})
	if err != nil || !done || !bytes.Equal(got, []byte{0}) {
		t.Fatalf("reread after eviction: done=%v err=%v got=%v", done, err, got)
	}
}

func TestSharedProviderIsolatesOwners(t *testing.T) {
	ctx := context.Background()
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	model := gridModel{count: 16}

	sc := newTestSharedCache(8)
	p1 := NewSharedCachedProvider(NewRegionFileFactory(dir1, model, Config{SectorSize: 512}), sc)
	p2 := NewSharedCachedProvider(NewRegionFileFactory(dir2, model, Config{SectorSize: 512}), sc)
	defer p1.Close()
	defer p2.Close()

	// Same region key through both providers: distinct factory identities
	// mean distinct cache entries and distinct files.
	for i, p := range []Provider{p1, p2} {
		if _, err := p.ForRegion(ctx, "0.0.tst", true, func(r Region) error {
			return r.Write(ctx, ek(0), []byte{byte(i + 1)})
		}); err != nil {
			t.Fatalf("write via provider %d: %v", i, err)
		}
	}
	var got []byte
	if _, err := p1.ForRegion(ctx, "0.0.tst", false, func(r Region) error {
		var e error
		got, e = r.Read(ctx, ek(0))
		return e
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{1}) {
		t.Fatalf("provider 1 read %v, cache keys collided across owners", got)
	}

	// Closing one owner leaves the other's entry cached and usable.
	if err := p1.Close(); err != nil {
		t.Fatalf("close p1: %v", err)
	}
	if _, err := p2.ForRegion(ctx, "0.0.tst", false, func(r Region) error {
		var e error
		got, e = r.Read(ctx, ek(0))
		return e
	}); err != nil {
		t.Fatalf("read after sibling close: %v", err)
	}
	if !bytes.Equal(got, []byte{2}) {
		t.Fatalf("provider 2 read %v", got)
	}
}
