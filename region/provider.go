package region

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sharedcode/regiondb"
)

// Region is the per-region storage surface shared by the inline region file
// and the sidecar store. Implementations serialize their own operations; the
// provider layer additionally guarantees per-region exclusive access while a
// caller is inside ForRegion.
type Region interface {
	Key() regiondb.RegionKey
	Write(ctx context.Context, key regiondb.EntryKey, value []byte) error
	WriteNull(ctx context.Context, key regiondb.EntryKey) error
	WriteSpecial(ctx context.Context, key regiondb.EntryKey, marker string) error
	Read(ctx context.Context, key regiondb.EntryKey) ([]byte, error)
	Has(ctx context.Context, key regiondb.EntryKey) (bool, error)
	ForEachKey(ctx context.Context, fn func(id int) error) error
	LastModified(ctx context.Context, key regiondb.EntryKey) (time.Time, bool, error)
	Flush(ctx context.Context) error
	Close() error
}

// HeaderAccessor is the extra surface of inline regions carrying user-defined
// header columns.
type HeaderAccessor interface {
	WriteHeaderValue(ctx context.Context, key regiondb.EntryKey, column int, value []byte) error
	ReadHeaderValue(ctx context.Context, key regiondb.EntryKey, column int) ([]byte, error)
}

// Factory opens the regions of one store. ID distinguishes factories sharing
// a global cache so their region keys never collide.
type Factory interface {
	ID() uuid.UUID
	Open(ctx context.Context, rk regiondb.RegionKey) (Region, error)
	// OpenExisting returns (nil, nil) when the region has no on-disk presence yet.
	OpenExisting(ctx context.Context, rk regiondb.RegionKey) (Region, error)
	AllRegions(ctx context.Context) ([]regiondb.RegionKey, error)
}

// fileFactory builds inline region files under one directory.
type fileFactory struct {
	id     uuid.UUID
	dir    string
	model  regiondb.KeyModel
	cfg    Config
	fileIO FileIO
}

// NewRegionFileFactory returns a Factory for inline region files stored as
// <dir>/<region key>.
func NewRegionFileFactory(dir string, model regiondb.KeyModel, cfg Config) Factory {
	return &fileFactory{
		id:     uuid.New(),
		dir:    dir,
		model:  model,
		cfg:    cfg.withDefaults(),
		fileIO: NewFileIO(),
	}
}

func (f *fileFactory) ID() uuid.UUID {
	return f.id
}

func (f *fileFactory) path(rk regiondb.RegionKey) string {
	return filepath.Join(f.dir, string(rk))
}

func (f *fileFactory) Open(ctx context.Context, rk regiondb.RegionKey) (Region, error) {
	if err := f.fileIO.MkdirAll(ctx, f.dir, 0o755); err != nil {
		return nil, err
	}
	return openRegionFile(ctx, f.path(rk), rk, f.model.KeyCount(rk), f.cfg)
}

func (f *fileFactory) OpenExisting(ctx context.Context, rk regiondb.RegionKey) (Region, error) {
	if !f.fileIO.Exists(ctx, f.path(rk)) {
		return nil, nil
	}
	return openRegionFile(ctx, f.path(rk), rk, f.model.KeyCount(rk), f.cfg)
}

func (f *fileFactory) AllRegions(ctx context.Context) ([]regiondb.RegionKey, error) {
	entries, err := f.fileIO.ReadDir(ctx, f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []regiondb.RegionKey
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		rk := regiondb.RegionKey(de.Name())
		if regiondb.IsValidRegionName(de.Name()) && f.model.IsValid(rk) {
			out = append(out, rk)
		}
	}
	return out, nil
}

// extFactory builds sidecar stores for oversized entries.
type extFactory struct {
	id     uuid.UUID
	dir    string
	model  regiondb.KeyModel
	cfg    Config
	fileIO FileIO
}

// NewExtRegionFactory returns a Factory for sidecar stores located at
// <dir>/<region key>.ext/.
func NewExtRegionFactory(dir string, model regiondb.KeyModel, cfg Config) Factory {
	return &extFactory{
		id:     uuid.New(),
		dir:    dir,
		model:  model,
		cfg:    cfg.withDefaults(),
		fileIO: NewFileIO(),
	}
}

func (f *extFactory) ID() uuid.UUID {
	return f.id
}

func (f *extFactory) Open(ctx context.Context, rk regiondb.RegionKey) (Region, error) {
	return openExtRegion(ctx, f.dir, rk, f.model.KeyCount(rk), f.cfg, f.fileIO)
}

func (f *extFactory) OpenExisting(ctx context.Context, rk regiondb.RegionKey) (Region, error) {
	if !f.fileIO.Exists(ctx, filepath.Join(f.dir, string(rk)+ExtDirSuffix)) {
		return nil, nil
	}
	return f.Open(ctx, rk)
}

func (f *extFactory) AllRegions(ctx context.Context) ([]regiondb.RegionKey, error) {
	entries, err := f.fileIO.ReadDir(ctx, f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []regiondb.RegionKey
	for _, de := range entries {
		if !de.IsDir() || !strings.HasSuffix(de.Name(), ExtDirSuffix) {
			continue
		}
		rk := regiondb.RegionKey(strings.TrimSuffix(de.Name(), ExtDirSuffix))
		if regiondb.IsValidRegionName(string(rk)) && f.model.IsValid(rk) {
			out = append(out, rk)
		}
	}
	return out, nil
}

// Provider hands callers exclusive access to one region at a time. done is
// false when the region does not exist and create was false.
type Provider interface {
	ForRegion(ctx context.Context, rk regiondb.RegionKey, create bool, fn func(Region) error) (done bool, err error)
	AllRegions(ctx context.Context) ([]regiondb.RegionKey, error)
	Flush(ctx context.Context) error
	Close() error
}
