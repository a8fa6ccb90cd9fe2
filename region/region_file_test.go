package region

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sharedcode/regiondb"
)

func openTestRegion(t *testing.T, dir string, cfg Config, keyCount int) *regionFile {
	t.Helper()
	r, err := openRegionFile(context.Background(), filepath.Join(dir, "0.0.tst"), "0.0.tst", keyCount, cfg)
	if err != nil {
		t.Fatalf("openRegionFile: %v", err)
	}
	return r
}

func ek(id int) regiondb.EntryKey {
	return regiondb.EntryKey{Region: "0.0.tst", ID: id}
}

func TestRegionFileRoundtrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := openTestRegion(t, dir, Config{SectorSize: 512}, 16)
	defer r.Close()

	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := r.Write(ctx, ek(3), payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := r.Read(ctx, ek(3))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read=%v want %v", got, payload)
	}
	if has, _ := r.Has(ctx, ek(3)); !has {
		t.Fatalf("has must be true after write")
	}
	if got, _ := r.Read(ctx, ek(4)); got != nil {
		t.Fatalf("absent id must read nil, got %v", got)
	}
}

func TestRegionFileOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	r := openTestRegion(t, t.TempDir(), Config{SectorSize: 512}, 16)
	defer r.Close()

	if err := r.Write(ctx, ek(0), []byte("first")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Write(ctx, ek(0), []byte("second value")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ := r.Read(ctx, ek(0))
	if string(got) != "second value" {
		t.Fatalf("read=%q want the newer value", got)
	}
	if err := r.WriteNull(ctx, ek(0)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := r.Read(ctx, ek(0)); got != nil {
		t.Fatalf("deleted id must read nil")
	}
	if has, _ := r.Has(ctx, ek(0)); has {
		t.Fatalf("deleted id must not report present")
	}
}

// TestRegionFileReopenDurability writes through one handle, closes, reopens
// and expects the same bytes and directory state.
func TestRegionFileReopenDurability(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	payloads := map[int][]byte{
		1: bytes.Repeat([]byte{0xab}, 700),
		5: []byte("tiny"),
		9: bytes.Repeat([]byte{0x11}, 1500),
	}

	r := openTestRegion(t, dir, Config{SectorSize: 512}, 16)
	for id, p := range payloads {
		if err := r.Write(ctx, ek(id), p); err != nil {
			t.Fatalf("write %d: %v", id, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r2 := openTestRegion(t, dir, Config{SectorSize: 512}, 16)
	defer r2.Close()
	for id, p := range payloads {
		got, err := r2.Read(ctx, ek(id))
		if err != nil {
			t.Fatalf("read %d: %v", id, err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("id %d read back %d bytes, want %d", id, len(got), len(p))
		}
	}
	var ids []int
	r2.ForEachKey(ctx, func(id int) error {
		ids = append(ids, id)
		return nil
	})
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 5 || ids[2] != 9 {
		t.Fatalf("keys after reopen=%v", ids)
	}
}

// TestRegionFileHeaderFormat pins the on-disk header layout: 4 bytes
// big-endian packed word per id at the id's record offset.
func TestRegionFileHeaderFormat(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := openTestRegion(t, dir, Config{SectorSize: 512}, 16)
	if err := r.Write(ctx, ek(2), []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "0.0.tst"))
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	// Stride is 4 (sector-map column only); id 2's word sits at byte 8.
	word := binary.BigEndian.Uint32(raw[8:12])
	loc := unpackSectorLocation(word)
	if loc.Count != 1 || loc.Offset < 1 {
		t.Fatalf("packed word %#x decodes to %+v", word, loc)
	}
	// Payload: big-endian u32 length then bytes, at offset*sectorSize.
	base := loc.Offset * 512
	if binary.BigEndian.Uint32(raw[base:base+4]) != 3 {
		t.Fatalf("length prefix=%d want 3", binary.BigEndian.Uint32(raw[base:base+4]))
	}
	if string(raw[base+4:base+7]) != "abc" {
		t.Fatalf("payload bytes mismatch")
	}
	if len(raw)%512 != 0 {
		t.Fatalf("closed file size %d not sector aligned", len(raw))
	}
}

func TestRegionFileRejectsOversize(t *testing.T) {
	ctx := context.Background()
	r := openTestRegion(t, t.TempDir(), Config{SectorSize: 512}, 16)
	defer r.Close()

	if err := r.Write(ctx, ek(1), []byte("keep me")); err != nil {
		t.Fatalf("write: %v", err)
	}
	big := make([]byte, 255*512) // +4 length prefix pushes past capacity
	err := r.Write(ctx, ek(1), big)
	if regiondb.CodeOf(err) != regiondb.UnsupportedData {
		t.Fatalf("expected UnsupportedData, got %v", err)
	}
	// Prior state untouched.
	got, _ := r.Read(ctx, ek(1))
	if string(got) != "keep me" {
		t.Fatalf("failed write must leave the prior value, got %q", got)
	}
}

func TestRegionFileCorruptedLength(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := openTestRegion(t, dir, Config{SectorSize: 512}, 16)
	if err := r.Write(ctx, ek(0), []byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	r.Close()

	// Corrupt the length prefix of the entry to claim more than its run holds.
	path := filepath.Join(dir, "0.0.tst")
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var huge [4]byte
	binary.BigEndian.PutUint32(huge[:], 1<<20)
	if _, err := f.WriteAt(huge[:], 512); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	r2 := openTestRegion(t, dir, Config{SectorSize: 512}, 16)
	defer r2.Close()
	if _, err := r2.Read(ctx, ek(0)); regiondb.CodeOf(err) != regiondb.CorruptedData {
		t.Fatalf("expected CorruptedData, got %v", err)
	}
	// The region stays usable for other ids.
	if err := r2.Write(ctx, ek(1), []byte("ok")); err != nil {
		t.Fatalf("region must survive a corrupted read: %v", err)
	}
}

func TestRegionFileSpecialEntries(t *testing.T) {
	ctx := context.Background()
	synthetic := []byte("the void")
	cfg := Config{
		SectorSize: 512,
		Specials: []SpecialEntry{{
			Raw:    0xffffff01,
			Marker: "void",
			Read:   func() []byte { return synthetic },
		}},
	}
	r := openTestRegion(t, t.TempDir(), cfg, 16)
	defer r.Close()

	if err := r.WriteSpecial(ctx, ek(7), "void"); err != nil {
		t.Fatalf("write special: %v", err)
	}
	got, err := r.Read(ctx, ek(7))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, synthetic) {
		t.Fatalf("read=%q want synthetic payload", got)
	}
	if has, _ := r.Has(ctx, ek(7)); !has {
		t.Fatalf("special entry must report present")
	}
	if err := r.WriteSpecial(ctx, ek(7), "unknown"); regiondb.CodeOf(err) != regiondb.InvalidKey {
		t.Fatalf("unregistered marker must fail, got %v", err)
	}
}

// TestRegionFileSentinelConflict registers sentinels colliding with the
// first allocations the tracker will produce. A handler transforming the
// payload keeps the write inline; a reroute (nil) surfaces UnsupportedData.
func TestRegionFileSentinelConflict(t *testing.T) {
	ctx := context.Background()
	transformed := []byte("transformed")
	// Header occupies sector 0; the first 1-sector allocation is (1,1),
	// packed 0x00000101. The next lands at (2,1), packed 0x00000201.
	cfg := Config{
		SectorSize: 512,
		Specials: []SpecialEntry{
			{
				Raw:        0x00000101,
				Marker:     "mutate",
				Read:       func() []byte { return []byte("m") },
				OnConflict: func(payload []byte) []byte { return transformed },
			},
			{
				Raw:    0x00000201,
				Marker: "reroute",
				Read:   func() []byte { return []byte("r") },
			},
		},
	}
	r := openTestRegion(t, t.TempDir(), cfg, 16)
	defer r.Close()

	if err := r.Write(ctx, ek(0), []byte("original")); err != nil {
		t.Fatalf("write with mutating handler: %v", err)
	}
	got, _ := r.Read(ctx, ek(0))
	// The directory word now equals the sentinel, so reads surface the
	// sentinel's synthetic payload; the transformed bytes are what hit disk.
	if string(got) != "m" {
		t.Fatalf("read=%q want sentinel payload", got)
	}

	err := r.Write(ctx, ek(1), []byte("bounce"))
	if regiondb.CodeOf(err) != regiondb.UnsupportedData {
		t.Fatalf("reroute sentinel must surface UnsupportedData, got %v", err)
	}
	if has, _ := r.Has(ctx, ek(1)); has {
		t.Fatalf("rerouted write must leave no directory entry")
	}
}

func TestRegionFileTimestamps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{SectorSize: 512, Timestamps: true}
	r := openTestRegion(t, dir, cfg, 16)
	if _, ok, _ := r.LastModified(ctx, ek(2)); ok {
		t.Fatalf("unstamped id must report no timestamp")
	}
	if err := r.Write(ctx, ek(2), []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ts, ok, err := r.LastModified(ctx, ek(2))
	if err != nil || !ok || ts.IsZero() {
		t.Fatalf("timestamp after write: ts=%v ok=%v err=%v", ts, ok, err)
	}
	r.Close()

	// Column survives reopen.
	r2 := openTestRegion(t, dir, cfg, 16)
	defer r2.Close()
	ts2, ok, err := r2.LastModified(ctx, ek(2))
	if err != nil || !ok {
		t.Fatalf("timestamp after reopen: ok=%v err=%v", ok, err)
	}
	if ts2.Unix() != ts.Unix() {
		t.Fatalf("timestamp changed across reopen: %v vs %v", ts2, ts)
	}
}

func TestRegionFileUserColumns(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{SectorSize: 512, UserColumns: []int{8}}
	r := openTestRegion(t, dir, cfg, 16)
	if err := r.WriteHeaderValue(ctx, ek(5), 0, []byte("meta")); err != nil {
		t.Fatalf("write header value: %v", err)
	}
	if err := r.WriteHeaderValue(ctx, ek(5), 0, bytes.Repeat([]byte{1}, 9)); regiondb.CodeOf(err) != regiondb.UnsupportedData {
		t.Fatalf("over-wide value must fail")
	}
	r.Close()

	r2 := openTestRegion(t, dir, cfg, 16)
	defer r2.Close()
	got, err := r2.ReadHeaderValue(ctx, ek(5), 0)
	if err != nil {
		t.Fatalf("read header value: %v", err)
	}
	want := append([]byte("meta"), 0, 0, 0, 0)
	if !bytes.Equal(got, want) {
		t.Fatalf("header value=%v want %v", got, want)
	}
}

// TestRegionFileGrowWithoutMove verifies the in-place growth path through
// the full write surface: same offset, bigger run, old bits still covered.
func TestRegionFileGrowWithoutMove(t *testing.T) {
	ctx := context.Background()
	r := openTestRegion(t, t.TempDir(), Config{SectorSize: 512}, 16)
	defer r.Close()

	if err := r.Write(ctx, ek(0), bytes.Repeat([]byte{7}, 100)); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, _ := r.smap.get(0)
	if first.Count != 1 {
		t.Fatalf("seed entry=%+v want one sector", first)
	}
	grown := bytes.Repeat([]byte{8}, 1200)
	if err := r.Write(ctx, ek(0), grown); err != nil {
		t.Fatalf("grow: %v", err)
	}
	second, _ := r.smap.get(0)
	if second.Offset != first.Offset || second.Count != 3 {
		t.Fatalf("grow must stay at %d with 3 sectors, got %+v", first.Offset, second)
	}
	for i := second.Offset; i < second.Offset+second.Count; i++ {
		if !r.tracker.isUsed(i) {
			t.Fatalf("sector %d of grown run must be used", i)
		}
	}
	got, _ := r.Read(ctx, ek(0))
	if !bytes.Equal(got, grown) {
		t.Fatalf("grown payload mismatch")
	}
}

func TestRegionFileAlreadyClosed(t *testing.T) {
	ctx := context.Background()
	r := openTestRegion(t, t.TempDir(), Config{SectorSize: 512}, 16)
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
	if err := r.Write(ctx, ek(0), []byte("x")); regiondb.CodeOf(err) != regiondb.AlreadyClosed {
		t.Fatalf("expected AlreadyClosed, got %v", err)
	}
	if _, err := r.Read(ctx, ek(0)); regiondb.CodeOf(err) != regiondb.AlreadyClosed {
		t.Fatalf("expected AlreadyClosed on read, got %v", err)
	}
}
