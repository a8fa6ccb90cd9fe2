package region

import (
	"testing"

	"github.com/sharedcode/regiondb"
)

func TestSectorLocationPacking(t *testing.T) {
	cases := []struct {
		name string
		loc  SectorLocation
		word uint32
	}{
		{name: "small", loc: SectorLocation{Offset: 2, Count: 1}, word: 0x00000201},
		{name: "max_count", loc: SectorLocation{Offset: 1, Count: 255}, word: 0x000001ff},
		{name: "max_offset", loc: SectorLocation{Offset: 1<<24 - 1, Count: 7}, word: 0xffffff07},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.loc.pack(); got != c.word {
				t.Fatalf("pack=%#x want %#x", got, c.word)
			}
			if got := unpackSectorLocation(c.word); got != c.loc {
				t.Fatalf("unpack=%+v want %+v", got, c.loc)
			}
		})
	}
}

func TestSectorMapBounds(t *testing.T) {
	m, err := newSectorMap(8, nil)
	if err != nil {
		t.Fatalf("newSectorMap: %v", err)
	}
	if _, err := m.set(0, SectorLocation{Offset: 1, Count: 256}); regiondb.CodeOf(err) != regiondb.UnsupportedData {
		t.Fatalf("expected UnsupportedData for count>255, got %v", err)
	}
	if _, err := m.set(0, SectorLocation{Offset: 1 << 24, Count: 1}); regiondb.CodeOf(err) != regiondb.UnsupportedData {
		t.Fatalf("expected UnsupportedData for offset>2^24-1, got %v", err)
	}
	if _, err := m.set(0, SectorLocation{Offset: 3, Count: 2}); err != nil {
		t.Fatalf("valid set failed: %v", err)
	}
	loc, ok := m.get(0)
	if !ok || loc != (SectorLocation{Offset: 3, Count: 2}) {
		t.Fatalf("get=%+v ok=%v", loc, ok)
	}
}

func TestSectorMapSpecials(t *testing.T) {
	payload := []byte("synthetic")
	specials := []SpecialEntry{{
		Raw:    0xfffffffe,
		Marker: "void",
		Read:   func() []byte { return payload },
	}}
	m, err := newSectorMap(4, specials)
	if err != nil {
		t.Fatalf("newSectorMap: %v", err)
	}
	if err := m.setSpecial(1, "void"); err != nil {
		t.Fatalf("setSpecial: %v", err)
	}
	if !m.has(1) {
		t.Fatalf("special entry should report present")
	}
	if _, ok := m.get(1); ok {
		t.Fatalf("get must not surface a special entry as a location")
	}
	if read := m.specialReader(1); read == nil || string(read()) != string(payload) {
		t.Fatalf("special reader missing or wrong payload")
	}
	if err := m.setSpecial(2, "unregistered"); regiondb.CodeOf(err) != regiondb.InvalidKey {
		t.Fatalf("expected InvalidKey for unregistered marker, got %v", err)
	}
	// A normal set landing on the sentinel word surfaces the conflict entry.
	conflict, err := m.set(3, unpackSectorLocation(0xfffffffe))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if conflict == nil || conflict.Marker != "void" {
		t.Fatalf("expected sentinel conflict, got %+v", conflict)
	}
}

func TestSectorMapRejectsBadSpecials(t *testing.T) {
	if _, err := newSectorMap(4, []SpecialEntry{{Raw: 0, Marker: "zero"}}); err == nil {
		t.Fatalf("zero raw word must be rejected")
	}
	dup := []SpecialEntry{
		{Raw: 0xff000001, Marker: "a"},
		{Raw: 0xff000001, Marker: "b"},
	}
	if _, err := newSectorMap(4, dup); err == nil {
		t.Fatalf("duplicate raw word must be rejected")
	}
}

func TestSectorMapForEachOrder(t *testing.T) {
	m, _ := newSectorMap(6, nil)
	m.set(4, SectorLocation{Offset: 9, Count: 1})
	m.set(1, SectorLocation{Offset: 5, Count: 2})
	var ids []int
	m.forEach(func(id int, w uint32) error {
		ids = append(ids, id)
		return nil
	})
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 4 {
		t.Fatalf("forEach order=%v want [1 4]", ids)
	}
}
