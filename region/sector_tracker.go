package region

import (
	"fmt"

	"github.com/sharedcode/regiondb"
)

// sectorTracker is the free-sector allocator: one bit per sector, set while
// the sector is referenced by the header area or by a directory entry.
// Sectors beyond the tracked length are implicitly free; the bitmap grows as
// allocations reach them.
type sectorTracker struct {
	words         []uint64
	headerSectors int
}

// newSectorTracker marks the header sectors permanently used. Callers then
// replay the sector map to mark every referenced run.
func newSectorTracker(headerSectors int) *sectorTracker {
	t := &sectorTracker{headerSectors: headerSectors}
	t.markUsed(0, headerSectors)
	return t
}

func (t *sectorTracker) ensure(sector int) {
	need := sector>>6 + 1
	for len(t.words) < need {
		t.words = append(t.words, 0)
	}
}

func (t *sectorTracker) isUsed(sector int) bool {
	w := sector >> 6
	if w >= len(t.words) {
		return false
	}
	return t.words[w]&(1<<(uint(sector)&63)) != 0
}

func (t *sectorTracker) markUsed(offset, count int) {
	if count <= 0 {
		return
	}
	t.ensure(offset + count - 1)
	for i := offset; i < offset+count; i++ {
		t.words[i>>6] |= 1 << (uint(i) & 63)
	}
}

func (t *sectorTracker) markFree(offset, count int) {
	for i := offset; i < offset+count; i++ {
		if i>>6 >= len(t.words) {
			return
		}
		t.words[i>>6] &^= 1 << (uint(i) & 63)
	}
}

// runFree reports whether every sector in [offset, offset+count) is free.
func (t *sectorTracker) runFree(offset, count int) bool {
	for i := offset; i < offset+count; i++ {
		if t.isUsed(i) {
			return false
		}
	}
	return true
}

// firstFit scans from sector 1 upward for the first run of want consecutive
// free sectors. Sector 0 belongs to the header area and its bit is always set.
func (t *sectorTracker) firstFit(want int) int {
	start := t.headerSectors
	if start < 1 {
		start = 1
	}
	run := 0
	i := start
	for {
		if t.isUsed(i) {
			run = 0
		} else {
			run++
			if run == want {
				return i - want + 1
			}
		}
		i++
	}
}

// reserveFor allocates want sectors for id per the placement policy:
// in-place shrink when the entry fits its old run, in-place grow when the
// sectors just past the old run are free, first-fit otherwise. On success the
// old run's bits are cleared, the new run's bits set, and the directory entry
// updated; a registered special-sentinel collision is surfaced to the caller.
func (t *sectorTracker) reserveFor(m *sectorMap, id, want int) (SectorLocation, *SpecialEntry, error) {
	if want <= 0 {
		return SectorLocation{}, nil, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("sector reservation of %d sectors", want)}
	}
	old, hasOld := m.get(id)
	var loc SectorLocation
	switch {
	case hasOld && want <= old.Count:
		// Shrink in place; never move a fitting entry.
		loc = SectorLocation{Offset: old.Offset, Count: want}
	case hasOld && t.runFree(old.Offset+old.Count, want-old.Count):
		// Grow in place over the free tail.
		loc = SectorLocation{Offset: old.Offset, Count: want}
	default:
		loc = SectorLocation{Offset: t.firstFit(want), Count: want}
	}

	if hasOld {
		t.markFree(old.Offset, old.Count)
	}
	t.markUsed(loc.Offset, loc.Count)
	conflict, err := m.set(id, loc)
	if err != nil {
		// Directory rejected the location (offset/count overflow): restore the bitmap.
		t.markFree(loc.Offset, loc.Count)
		t.markUsed(0, t.headerSectors)
		if hasOld {
			t.markUsed(old.Offset, old.Count)
		}
		return SectorLocation{}, nil, err
	}
	return loc, conflict, nil
}
