package world

import (
	"context"
	log "log/slog"
	"path/filepath"
	"time"

	"github.com/sharedcode/regiondb"
	"github.com/sharedcode/regiondb/cache"
	"github.com/sharedcode/regiondb/region"
	"github.com/sharedcode/regiondb/store"
)

// Directory names of the two bundled stores under the save root.
const (
	dir2d = "region2d"
	dir3d = "region3d"
)

type saveConfig struct {
	sectorSize int
	timestamps bool
	directIO   bool
	shared     *cache.SharedCache[region.Region]
}

// Option configures Open.
type Option func(*saveConfig)

// WithSectorSize overrides the allocation sector size of both stores.
func WithSectorSize(size int) Option {
	return func(c *saveConfig) { c.sectorSize = size }
}

// WithTimestamps enables the last-modified header column.
func WithTimestamps() Option {
	return func(c *saveConfig) { c.timestamps = true }
}

// WithDirectIO selects the aligned O_DIRECT access path where the sector
// size permits.
func WithDirectIO() Option {
	return func(c *saveConfig) { c.directIO = true }
}

// WithSharedCache routes both stores through the given region cache instead
// of the process default.
func WithSharedCache(sc *cache.SharedCache[region.Region]) Option {
	return func(c *saveConfig) { c.shared = sc }
}

// Save is the bundled facade: one 2D and one 3D store side by side under a
// save root, both using the inline-then-sidecar fallback chain and sharing
// one region cache.
type Save struct {
	root    string
	model2d KeyModel2D
	model3d KeyModel3D
	s2d     *store.Front
	s3d     *store.Front
}

// Open wires the two stores under root, creating the directory skeleton on
// first use.
func Open(root string, opts ...Option) (*Save, error) {
	cfg := saveConfig{sectorSize: region.DefaultSectorSize}
	for _, o := range opts {
		o(&cfg)
	}
	fileIO := region.NewFileIO()
	ctx := context.Background()
	for _, d := range []string{dir2d, dir3d} {
		if err := fileIO.MkdirAll(ctx, filepath.Join(root, d), 0o755); err != nil {
			return nil, err
		}
	}
	rcfg := region.Config{
		SectorSize:    cfg.sectorSize,
		Timestamps:    cfg.timestamps,
		TimestampUnit: time.Second,
		DirectIO:      cfg.directIO,
	}
	s := &Save{root: root}
	s.s2d = newDimensionFront(filepath.Join(root, dir2d), s.model2d, rcfg, cfg.shared)
	s.s3d = newDimensionFront(filepath.Join(root, dir3d), s.model3d, rcfg, cfg.shared)
	return s, nil
}

// newDimensionFront assembles one dimension's provider chain: shared-cached
// inline region files first, the stateless sidecar tier as fallback.
func newDimensionFront(dir string, model regiondb.KeyModel, cfg region.Config, shared *cache.SharedCache[region.Region]) *store.Front {
	inline := region.NewSharedCachedProvider(region.NewRegionFileFactory(dir, model, cfg), shared)
	ext := region.NewSimpleProvider(region.NewExtRegionFactory(dir, model, cfg))
	return store.NewFront(model, inline, ext)
}

// Section2D exposes the 2D store's full surface.
func (s *Save) Section2D() *store.Front {
	return s.s2d
}

// Section3D exposes the 3D store's full surface.
func (s *Save) Section3D() *store.Front {
	return s.s3d
}

// Put2D stores value at the 2D entry coordinates; nil deletes.
func (s *Save) Put2D(ctx context.Context, ex, ez int, value []byte) error {
	return s.s2d.Put(ctx, s.model2d.KeyOf(ex, ez), value)
}

// Get2D returns the value at the 2D entry coordinates, or nil when absent.
func (s *Save) Get2D(ctx context.Context, ex, ez int) ([]byte, error) {
	return s.s2d.Get(ctx, s.model2d.KeyOf(ex, ez), false)
}

// Has2D reports presence at the 2D entry coordinates.
func (s *Save) Has2D(ctx context.Context, ex, ez int) (bool, error) {
	return s.s2d.Has(ctx, s.model2d.KeyOf(ex, ez))
}

// Put3D stores value at the 3D entry coordinates; nil deletes.
func (s *Save) Put3D(ctx context.Context, ex, ey, ez int, value []byte) error {
	return s.s3d.Put(ctx, s.model3d.KeyOf(ex, ey, ez), value)
}

// Get3D returns the value at the 3D entry coordinates, or nil when absent.
func (s *Save) Get3D(ctx context.Context, ex, ey, ez int) ([]byte, error) {
	return s.s3d.Get(ctx, s.model3d.KeyOf(ex, ey, ez), false)
}

// Has3D reports presence at the 3D entry coordinates.
func (s *Save) Has3D(ctx context.Context, ex, ey, ez int) (bool, error) {
	return s.s3d.Has(ctx, s.model3d.KeyOf(ex, ey, ez))
}

// Flush flushes both stores.
func (s *Save) Flush(ctx context.Context) error {
	err2 := s.s2d.Flush(ctx)
	err3 := s.s3d.Flush(ctx)
	if err2 != nil {
		return err2
	}
	return err3
}

// Close closes both stores.
func (s *Save) Close() error {
	err2 := s.s2d.Close()
	err3 := s.s3d.Close()
	if err2 != nil {
		log.Warn("closing 2D store failed", "error", err2)
		return err2
	}
	return err3
}
