package region

import (
	"context"
	"encoding/binary"
	"fmt"
	log "log/slog"
	"os"
	"sync"
	"time"

	"github.com/sharedcode/regiondb"
)

// regionFile is one open region: the header area (sector directory plus any
// registered columns) followed by payload sectors. All operations serialize
// on the instance mutex; a provider or the shared cache gives each caller
// exclusive use of the instance while inside a region callback.
type regionFile struct {
	mu         sync.Mutex
	key        regiondb.RegionKey
	path       string
	keyCount   int
	sectorSize int
	io         regionIO
	layout     headerLayout
	smap       *sectorMap
	tracker    *sectorTracker
	tstamps    *timestampColumn
	userCols   []*blobColumn
	closed     bool
}

const regionFilePermission os.FileMode = 0o644

// openRegionFile opens (creating if missing) the region file at path and
// loads its header into memory.
func openRegionFile(ctx context.Context, path string, rk regiondb.RegionKey, keyCount int, cfg Config) (*regionFile, error) {
	cfg = cfg.withDefaults()
	smap, err := newSectorMap(keyCount, cfg.Specials)
	if err != nil {
		return nil, err
	}

	columns := []headerColumn{&sectorMapColumn{m: smap}}
	var tstamps *timestampColumn
	if cfg.Timestamps {
		tstamps = newTimestampColumn(keyCount, cfg.TimestampUnit)
		columns = append(columns, tstamps)
	}
	userCols := make([]*blobColumn, 0, len(cfg.UserColumns))
	for _, w := range cfg.UserColumns {
		bc := newBlobColumn(keyCount, w)
		userCols = append(userCols, bc)
		columns = append(columns, bc)
	}
	layout := newHeaderLayout(columns)
	headerSectors := layout.headerSectors(keyCount, cfg.SectorSize)

	var rio regionIO
	if cfg.useDirect() {
		rio, err = openAlignedIO(ctx, path, os.O_CREATE|os.O_RDWR, regionFilePermission)
	} else {
		rio, err = openBufferedIO(path, os.O_CREATE|os.O_RDWR, regionFilePermission)
	}
	if err != nil {
		return nil, err
	}

	r := &regionFile{
		key:        rk,
		path:       path,
		keyCount:   keyCount,
		sectorSize: cfg.SectorSize,
		io:         rio,
		layout:     layout,
		smap:       smap,
		tracker:    newSectorTracker(headerSectors),
		tstamps:    tstamps,
		userCols:   userCols,
	}
	if err := r.loadHeader(ctx); err != nil {
		rio.close()
		return nil, err
	}
	return r, nil
}

func (r *regionFile) loadHeader(ctx context.Context) error {
	size, err := r.io.size()
	if err != nil {
		return err
	}
	headerBytes := r.keyCount * r.layout.stride
	if size == 0 {
		// Fresh region: materialize the zeroed header area so the header
		// sectors exist on disk from the start.
		zeros := make([]byte, r.headerAreaSize())
		if _, err := r.io.writeAt(ctx, zeros, 0); err != nil {
			return err
		}
		return nil
	}
	buf := make([]byte, headerBytes)
	if _, err := r.io.readAt(ctx, buf, 0); err != nil {
		return err
	}
	for id := 0; id < r.keyCount; id++ {
		rec := buf[r.layout.recordOffset(id):]
		for j, col := range r.layout.columns {
			p := r.layout.prefixes[j]
			col.decode(rec[p:p+col.width()], id)
		}
	}
	// Replay the directory into the used-sector bitmap.
	return r.smap.forEach(func(id int, w uint32) error {
		if r.smap.isSpecial(w) {
			return nil
		}
		loc := unpackSectorLocation(w)
		r.tracker.markUsed(loc.Offset, loc.Count)
		return nil
	})
}

func (r *regionFile) headerAreaSize() int {
	return r.tracker.headerSectors * r.sectorSize
}

// Key returns the region's key.
func (r *regionFile) Key() regiondb.RegionKey {
	return r.key
}

func (r *regionFile) checkOpen() error {
	if r.closed {
		return regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("region %s is closed", r.key)}
	}
	return nil
}

func (r *regionFile) checkID(id int) error {
	if id < 0 || id >= r.keyCount {
		return regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("id %d out of range [0,%d) for region %s", id, r.keyCount, r.key)}
	}
	return nil
}

// Write stores the payload inline: length-prefixed, zero-padded to whole
// sectors, directory and header record rewritten.
func (r *regionFile) Write(ctx context.Context, key regiondb.EntryKey, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.checkID(key.ID); err != nil {
		return err
	}
	encoded := len(value) + 4
	if encoded > maxSectorCount*r.sectorSize {
		return regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("encoded size %d exceeds the inline capacity %d of region %s", encoded, maxSectorCount*r.sectorSize, r.key),
			UserData: len(value),
		}
	}
	need := (encoded + r.sectorSize - 1) / r.sectorSize

	oldWord := r.smap.word(key.ID)
	loc, conflict, err := r.tracker.reserveFor(r.smap, key.ID, need)
	if err != nil {
		return err
	}
	if conflict != nil {
		value, err = r.resolveConflict(conflict, key, value, loc, oldWord, need)
		if err != nil {
			return err
		}
	}

	buf := make([]byte, need*r.sectorSize)
	binary.BigEndian.PutUint32(buf, uint32(len(value)))
	copy(buf[4:], value)
	if _, err := r.io.writeAt(ctx, buf, int64(loc.Offset)*int64(r.sectorSize)); err != nil {
		return err
	}
	if r.tstamps != nil {
		r.tstamps.touch(key.ID, time.Now())
	}
	return r.writeHeaderRecord(ctx, key.ID)
}

// resolveConflict runs the registered handler when an allocation produced a
// reserved sentinel word. The handler returns a deterministic replacement
// payload, or nil to reroute the write to the next tier; rerouting undoes the
// allocation and reports UnsupportedData so the storage front falls back.
func (r *regionFile) resolveConflict(conflict *SpecialEntry, key regiondb.EntryKey, value []byte, loc SectorLocation, oldWord uint32, need int) ([]byte, error) {
	undo := func() {
		r.tracker.markFree(loc.Offset, loc.Count)
		r.tracker.markUsed(0, r.tracker.headerSectors)
		r.smap.setWord(key.ID, oldWord)
		if oldWord != 0 && !r.smap.isSpecial(oldWord) {
			old := unpackSectorLocation(oldWord)
			r.tracker.markUsed(old.Offset, old.Count)
		}
	}
	var replacement []byte
	if conflict.OnConflict != nil {
		replacement = conflict.OnConflict(value)
	}
	if replacement == nil {
		undo()
		return nil, regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("allocation for %v collides with reserved sentinel %#x", key, conflict.Raw),
			UserData: len(value),
		}
	}
	if len(replacement)+4 > need*r.sectorSize {
		undo()
		return nil, regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("conflict handler for sentinel %#x grew the payload past its reservation", conflict.Raw),
			UserData: len(replacement),
		}
	}
	log.Debug("sentinel conflict resolved by handler", "region", r.key, "id", key.ID, "raw", conflict.Raw)
	return replacement, nil
}

// WriteNull erases the entry: directory slot zeroed, sector bits cleared.
// Payload bytes are not overwritten; data is dead once unreferenced.
func (r *regionFile) WriteNull(ctx context.Context, key regiondb.EntryKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.checkID(key.ID); err != nil {
		return err
	}
	r.eraseLocked(key.ID)
	return r.writeHeaderRecord(ctx, key.ID)
}

func (r *regionFile) eraseLocked(id int) {
	if loc, ok := r.smap.get(id); ok {
		r.tracker.markFree(loc.Offset, loc.Count)
	}
	r.smap.clear(id)
	if r.tstamps != nil {
		r.tstamps.touch(id, time.Now())
	}
}

// WriteSpecial erases the entry and then maps it to the registered marker's
// sentinel word.
func (r *regionFile) WriteSpecial(ctx context.Context, key regiondb.EntryKey, marker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.checkID(key.ID); err != nil {
		return err
	}
	r.eraseLocked(key.ID)
	if err := r.smap.setSpecial(key.ID, marker); err != nil {
		return err
	}
	return r.writeHeaderRecord(ctx, key.ID)
}

// Read returns the entry payload, the synthetic payload for special entries,
// or nil when the id is absent.
func (r *regionFile) Read(ctx context.Context, key regiondb.EntryKey) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if err := r.checkID(key.ID); err != nil {
		return nil, err
	}
	if read := r.smap.specialReader(key.ID); read != nil {
		return read(), nil
	}
	loc, ok := r.smap.get(key.ID)
	if !ok {
		return nil, nil
	}
	base := int64(loc.Offset) * int64(r.sectorSize)
	var lenBuf [4]byte
	if _, err := r.io.readAt(ctx, lenBuf[:], base); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if int64(length) > int64(loc.Count)*int64(r.sectorSize) {
		return nil, regiondb.Error{
			Code: regiondb.CorruptedData,
			Err:  fmt.Errorf("entry %v declares %d bytes but its run caps at %d", key, length, loc.Count*r.sectorSize),
		}
	}
	out := make([]byte, length)
	if _, err := r.io.readAt(ctx, out, base+4); err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports presence of a directory entry, special or normal.
func (r *regionFile) Has(ctx context.Context, key regiondb.EntryKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return false, err
	}
	if err := r.checkID(key.ID); err != nil {
		return false, err
	}
	return r.smap.has(key.ID), nil
}

// ForEachKey iterates present ids in ascending order.
func (r *regionFile) ForEachKey(ctx context.Context, fn func(id int) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.smap.forEach(func(id int, w uint32) error {
		return fn(id)
	})
}

// LastModified returns the entry's timestamp column value; ok is false when
// the column is disabled or the id was never stamped.
func (r *regionFile) LastModified(ctx context.Context, key regiondb.EntryKey) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return time.Time{}, false, err
	}
	if err := r.checkID(key.ID); err != nil {
		return time.Time{}, false, err
	}
	if r.tstamps == nil {
		return time.Time{}, false, nil
	}
	t, ok := r.tstamps.at(key.ID)
	return t, ok, nil
}

// WriteHeaderValue stores value into the id's slot of the column-th user
// header column, zero-padding to the column width.
func (r *regionFile) WriteHeaderValue(ctx context.Context, key regiondb.EntryKey, column int, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.checkID(key.ID); err != nil {
		return err
	}
	if column < 0 || column >= len(r.userCols) {
		return regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("no user header column %d in region %s", column, r.key)}
	}
	bc := r.userCols[column]
	if len(value) > bc.width() {
		return regiondb.Error{Code: regiondb.UnsupportedData, Err: fmt.Errorf("value of %d bytes exceeds column width %d", len(value), bc.width()), UserData: len(value)}
	}
	bc.set(key.ID, value)
	return r.writeHeaderRecord(ctx, key.ID)
}

// ReadHeaderValue returns the id's slot of the column-th user header column.
func (r *regionFile) ReadHeaderValue(ctx context.Context, key regiondb.EntryKey, column int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if err := r.checkID(key.ID); err != nil {
		return nil, err
	}
	if column < 0 || column >= len(r.userCols) {
		return nil, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("no user header column %d in region %s", column, r.key)}
	}
	return r.userCols[column].get(key.ID), nil
}

// writeHeaderRecord rewrites the id's header record, one column slice at a
// time so a torn write stays bounded to a single column.
func (r *regionFile) writeHeaderRecord(ctx context.Context, id int) error {
	base := int64(r.layout.recordOffset(id))
	for j, col := range r.layout.columns {
		w := col.width()
		buf := make([]byte, w)
		col.encode(buf, id)
		if _, err := r.io.writeAt(ctx, buf, base+int64(r.layout.prefixes[j])); err != nil {
			return err
		}
	}
	return nil
}

// Flush pads the file to a sector boundary with zeros, then fsyncs.
func (r *regionFile) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.flushLocked(ctx)
}

func (r *regionFile) flushLocked(ctx context.Context) error {
	size, err := r.io.size()
	if err != nil {
		return err
	}
	if rem := size % int64(r.sectorSize); rem != 0 {
		pad := make([]byte, int64(r.sectorSize)-rem)
		if _, err := r.io.writeAt(ctx, pad, size); err != nil {
			return err
		}
	}
	return r.io.sync(ctx)
}

// Close flushes and releases the file handle. Closing twice is a no-op.
func (r *regionFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.flushLocked(context.Background()); err != nil {
		log.Warn("flush on close failed", "region", r.key, "error", err)
		r.io.close()
		return err
	}
	return r.io.close()
}
