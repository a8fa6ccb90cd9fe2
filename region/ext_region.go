package region

import (
	"context"
	"encoding/binary"
	"fmt"
	log "log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sharedcode/regiondb"
)

// ExtDirSuffix is appended to the region key to name the sidecar directory
// holding oversized entries, one file per id.
const ExtDirSuffix = ".ext"

// extRegion stores entries too large for the inline sector capacity. Each id
// gets its own file named by the decimal id; writes replace the file
// atomically via a temp file and rename, so readers only ever observe the
// prior file or the complete new one.
type extRegion struct {
	mu         sync.Mutex
	key        regiondb.RegionKey
	dir        string
	keyCount   int
	headerSize int
	tstamps    *timestampColumn
	userWidths []int
	fileIO     FileIO
	present    *bitSet
	closed     bool
}

// openExtRegion opens the sidecar store rooted next to the inline region
// file. The directory itself stays absent until the first oversized write.
func openExtRegion(ctx context.Context, parentDir string, rk regiondb.RegionKey, keyCount int, cfg Config, fileIO FileIO) (*extRegion, error) {
	cfg = cfg.withDefaults()
	if fileIO == nil {
		fileIO = NewFileIO()
	}
	e := &extRegion{
		key:        rk,
		dir:        filepath.Join(parentDir, string(rk)+ExtDirSuffix),
		keyCount:   keyCount,
		userWidths: cfg.UserColumns,
		fileIO:     fileIO,
		present:    newBitSet(keyCount),
	}
	if cfg.Timestamps {
		e.tstamps = newTimestampColumn(0, cfg.TimestampUnit)
		e.headerSize += e.tstamps.width()
	}
	for _, w := range cfg.UserColumns {
		e.headerSize += w
	}
	if fileIO.Exists(ctx, e.dir) {
		entries, err := fileIO.ReadDir(ctx, e.dir)
		if err != nil {
			return nil, err
		}
		for _, de := range entries {
			id, err := strconv.Atoi(de.Name())
			if err != nil || id < 0 || id >= keyCount {
				continue
			}
			e.present.set(id)
		}
	}
	return e, nil
}

func (e *extRegion) Key() regiondb.RegionKey {
	return e.key
}

func (e *extRegion) idPath(id int) string {
	return filepath.Join(e.dir, strconv.Itoa(id))
}

func (e *extRegion) checkOpen() error {
	if e.closed {
		return regiondb.Error{Code: regiondb.AlreadyClosed, Err: fmt.Errorf("ext region %s is closed", e.key)}
	}
	return nil
}

func (e *extRegion) checkID(id int) error {
	if id < 0 || id >= e.keyCount {
		return regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("id %d out of range [0,%d) for ext region %s", id, e.keyCount, e.key)}
	}
	return nil
}

// Write stores the payload in the id's sidecar file: header columns first,
// payload after, written to <id>.tmp, fsynced and renamed over <id>.
func (e *extRegion) Write(ctx context.Context, key regiondb.EntryKey, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.checkID(key.ID); err != nil {
		return err
	}
	if int64(len(value)) > math.MaxInt32 {
		return regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("payload of %d bytes exceeds the per-entry limit", len(value)),
			UserData: len(value),
		}
	}
	if err := e.fileIO.MkdirAll(ctx, e.dir, 0o755); err != nil {
		return err
	}
	final := e.idPath(key.ID)
	tmp := final + ".tmp"
	header := e.encodeHeader()
	if err := writeFileAtomic(ctx, e.fileIO, tmp, final, header, value); err != nil {
		return err
	}
	e.present.set(key.ID)
	return nil
}

// encodeHeader builds the per-file header: the inline header columns minus
// the sector-map column, in the same order.
func (e *extRegion) encodeHeader() []byte {
	if e.headerSize == 0 {
		return nil
	}
	header := make([]byte, e.headerSize)
	if e.tstamps != nil {
		e.tstamps.encodeCurrent(header, time.Now())
	}
	return header
}

// writeFileAtomic writes header|payload to tmp, fsyncs and renames over
// final, retrying transient failures of the whole sequence.
func writeFileAtomic(ctx context.Context, fileIO FileIO, tmp, final string, header, payload []byte) error {
	if err := retryIO(ctx, func(ctx context.Context) error {
		f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if len(header) > 0 {
			if _, err := f.Write(header); err != nil {
				f.Close()
				return err
			}
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}); err != nil {
		return err
	}
	return fileIO.Rename(ctx, tmp, final)
}

// WriteNull removes the id's sidecar file. When the file does not exist this
// is a no-op and in particular never creates the sidecar directory.
func (e *extRegion) WriteNull(ctx context.Context, key regiondb.EntryKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.checkID(key.ID); err != nil {
		return err
	}
	if !e.present.get(key.ID) {
		return nil
	}
	p := e.idPath(key.ID)
	if e.fileIO.Exists(ctx, p) {
		if err := e.fileIO.Remove(ctx, p); err != nil {
			return err
		}
	}
	e.present.clear(key.ID)
	return nil
}

// WriteSpecial is not supported by the sidecar tier; sentinels live in the
// inline sector directory only.
func (e *extRegion) WriteSpecial(ctx context.Context, key regiondb.EntryKey, marker string) error {
	return regiondb.Error{
		Code:     regiondb.UnsupportedData,
		Err:      fmt.Errorf("ext region %s cannot hold special entry %q", e.key, marker),
		UserData: marker,
	}
}

// Read returns the payload following the header columns, or nil when absent.
func (e *extRegion) Read(ctx context.Context, key regiondb.EntryKey) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := e.checkID(key.ID); err != nil {
		return nil, err
	}
	if !e.hasLocked(ctx, key.ID) {
		return nil, nil
	}
	p := e.idPath(key.ID)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			e.present.clear(key.ID)
			return nil, nil
		}
		return nil, err
	}
	if info.Size()-int64(e.headerSize) > math.MaxInt32 {
		return nil, regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("entry %v holds %d bytes, beyond the per-entry limit", key, info.Size()-int64(e.headerSize)),
			UserData: info.Size(),
		}
	}
	ba, err := e.fileIO.ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(ba) < e.headerSize {
		return nil, regiondb.Error{
			Code: regiondb.CorruptedData,
			Err:  fmt.Errorf("entry %v file is %d bytes, shorter than its %d byte header", key, len(ba), e.headerSize),
		}
	}
	return ba[e.headerSize:], nil
}

// Has consults the presence bitmap first; a stale set bit is verified
// against the filesystem and corrected.
func (e *extRegion) Has(ctx context.Context, key regiondb.EntryKey) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := e.checkID(key.ID); err != nil {
		return false, err
	}
	return e.hasLocked(ctx, key.ID), nil
}

func (e *extRegion) hasLocked(ctx context.Context, id int) bool {
	if !e.present.get(id) {
		return false
	}
	if !e.fileIO.Exists(ctx, e.idPath(id)) {
		log.Debug("stale presence bit corrected", "region", e.key, "id", id)
		e.present.clear(id)
		return false
	}
	return true
}

// ForEachKey iterates present ids in ascending order.
func (e *extRegion) ForEachKey(ctx context.Context, fn func(id int) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.present.forEach(fn)
}

// LastModified decodes the timestamp column of the id's file header, falling
// back to the file's modification time when the column is disabled.
func (e *extRegion) LastModified(ctx context.Context, key regiondb.EntryKey) (time.Time, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return time.Time{}, false, err
	}
	if err := e.checkID(key.ID); err != nil {
		return time.Time{}, false, err
	}
	if !e.hasLocked(ctx, key.ID) {
		return time.Time{}, false, nil
	}
	p := e.idPath(key.ID)
	if e.tstamps == nil {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}, false, err
		}
		return info.ModTime(), true, nil
	}
	f, err := os.Open(p)
	if err != nil {
		return time.Time{}, false, err
	}
	defer f.Close()
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return time.Time{}, false, err
	}
	v := binary.BigEndian.Uint32(buf[:])
	if v == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(v)*int64(e.tstamps.unit)), true, nil
}

// Flush is a no-op: every write already reached disk through the atomic
// temp-file replace.
func (e *extRegion) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkOpen()
}

// Close marks the handle closed. Closing twice is a no-op.
func (e *extRegion) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
