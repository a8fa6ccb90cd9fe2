package region

import (
	"fmt"

	"github.com/sharedcode/regiondb"
)

const (
	// maxSectorOffset is the largest sector a packed directory word can address (24 bits).
	maxSectorOffset = 1<<24 - 1
	// maxSectorCount is the largest run length a packed directory word can carry (8 bits).
	maxSectorCount = 255
)

// SectorLocation addresses a run of sectors inside a region file: Offset is
// the starting sector, Count the number of sectors. The zero value encodes
// "absent".
type SectorLocation struct {
	Offset int
	Count  int
}

// IsZero reports whether the location is the "absent" sentinel.
func (l SectorLocation) IsZero() bool {
	return l.Offset == 0 && l.Count == 0
}

// pack encodes the location into the directory word: low 8 bits hold the
// count, upper 24 bits the offset. The layout is fixed across platforms.
func (l SectorLocation) pack() uint32 {
	return uint32(l.Offset)<<8 | uint32(l.Count)
}

func unpackSectorLocation(w uint32) SectorLocation {
	return SectorLocation{
		Offset: int(w >> 8),
		Count:  int(w & 0xff),
	}
}

// SpecialEntry registers a reserved raw directory word. An id mapped to the
// word reads back as the synthetic payload instead of file data. When a
// normal allocation happens to produce the same raw word, OnConflict runs
// before the payload is written: it returns a deterministic replacement
// payload, or nil to reroute the write to the next storage tier.
type SpecialEntry struct {
	Raw        uint32
	Marker     string
	Read       func() []byte
	OnConflict func(payload []byte) []byte
}

// sectorMap is the in-memory mirror of the packed sector-location header
// column: one 32-bit word per id, plus the registered special entries.
type sectorMap struct {
	words            []uint32
	specialsByRaw    map[uint32]*SpecialEntry
	specialsByMarker map[string]*SpecialEntry
}

func newSectorMap(keyCount int, specials []SpecialEntry) (*sectorMap, error) {
	m := &sectorMap{
		words:            make([]uint32, keyCount),
		specialsByRaw:    make(map[uint32]*SpecialEntry, len(specials)),
		specialsByMarker: make(map[string]*SpecialEntry, len(specials)),
	}
	for i := range specials {
		s := specials[i]
		if s.Raw == 0 {
			return nil, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("special entry %q reserves the zero word", s.Marker)}
		}
		if _, ok := m.specialsByRaw[s.Raw]; ok {
			return nil, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("special raw value %#x registered twice", s.Raw)}
		}
		if _, ok := m.specialsByMarker[s.Marker]; ok {
			return nil, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("special marker %q registered twice", s.Marker)}
		}
		m.specialsByRaw[s.Raw] = &s
		m.specialsByMarker[s.Marker] = &s
	}
	return m, nil
}

// get returns the id's location. ok is false for absent ids and for ids
// holding a special sentinel.
func (m *sectorMap) get(id int) (SectorLocation, bool) {
	w := m.words[id]
	if w == 0 || m.isSpecial(w) {
		return SectorLocation{}, false
	}
	return unpackSectorLocation(w), true
}

// has reports presence of any directory entry, normal or special.
func (m *sectorMap) has(id int) bool {
	return m.words[id] != 0
}

// set validates and stores a location. When the packed word collides with a
// registered special sentinel the entry is returned so the caller can run
// its conflict handler before writing payload bytes.
func (m *sectorMap) set(id int, loc SectorLocation) (*SpecialEntry, error) {
	if loc.Count > maxSectorCount {
		return nil, regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("sector count %d exceeds the directory maximum %d", loc.Count, maxSectorCount),
			UserData: loc.Count,
		}
	}
	if loc.Offset > maxSectorOffset {
		return nil, regiondb.Error{
			Code:     regiondb.UnsupportedData,
			Err:      fmt.Errorf("sector offset %d exceeds the directory maximum %d", loc.Offset, maxSectorOffset),
			UserData: loc.Offset,
		}
	}
	w := loc.pack()
	m.words[id] = w
	return m.specialsByRaw[w], nil
}

// setSpecial maps the id to the registered marker's raw word.
func (m *sectorMap) setSpecial(id int, marker string) error {
	s, ok := m.specialsByMarker[marker]
	if !ok {
		return regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("special marker %q is not registered", marker), UserData: marker}
	}
	m.words[id] = s.Raw
	return nil
}

// clear resets the id to the absent sentinel.
func (m *sectorMap) clear(id int) {
	m.words[id] = 0
}

func (m *sectorMap) isSpecial(w uint32) bool {
	if w == 0 {
		return false
	}
	_, ok := m.specialsByRaw[w]
	return ok
}

// specialReader returns the synthetic payload reader when the id holds a
// registered sentinel, nil otherwise.
func (m *sectorMap) specialReader(id int) func() []byte {
	if s, ok := m.specialsByRaw[m.words[id]]; ok && m.words[id] != 0 {
		return s.Read
	}
	return nil
}

// word/setWord expose the raw directory word for header encode/decode.
func (m *sectorMap) word(id int) uint32 {
	return m.words[id]
}

func (m *sectorMap) setWord(id int, w uint32) {
	m.words[id] = w
}

// forEach walks non-zero entries in id order; fn returning an error stops the walk.
func (m *sectorMap) forEach(fn func(id int, w uint32) error) error {
	for id, w := range m.words {
		if w == 0 {
			continue
		}
		if err := fn(id, w); err != nil {
			return err
		}
	}
	return nil
}
