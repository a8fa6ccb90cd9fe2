package world

import (
	"fmt"

	"github.com/sharedcode/regiondb"
)

// MinecraftSectorSize is the sector size of the archetypal chunk format.
const MinecraftSectorSize = 4096

// MinecraftKeyModel is the Minecraft region naming variant: regions of 32x32
// entries named r.X.Z<ext>. The id packing is reversed relative to the
// generic 2D family and pinned here: (z&31)<<5 | (x&31).
type MinecraftKeyModel struct {
	ext string
}

// NewMinecraftKeyModel builds the family for one file extension, ".mca" or
// ".mcr". The zero extension defaults to ".mca".
func NewMinecraftKeyModel(ext string) MinecraftKeyModel {
	if ext == "" {
		ext = ".mca"
	}
	return MinecraftKeyModel{ext: ext}
}

func (MinecraftKeyModel) KeyCount(regiondb.RegionKey) int {
	return regionEdge * regionEdge
}

func (m MinecraftKeyModel) IsValid(rk regiondb.RegionKey) bool {
	_, ok := parseCoords(string(rk), "r.", m.ext, 2)
	return ok
}

func (m MinecraftKeyModel) FromRegionAndID(rk regiondb.RegionKey, id int) (regiondb.EntryKey, error) {
	if !m.IsValid(rk) {
		return regiondb.EntryKey{}, regiondb.Error{Code: regiondb.InvalidRegionName, Err: fmt.Errorf("%q is not an %s region name", rk, m.ext), UserData: rk}
	}
	if id < 0 || id >= m.KeyCount(rk) {
		return regiondb.EntryKey{}, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("id %d out of range for region %s", id, rk)}
	}
	return regiondb.EntryKey{Region: rk, ID: id}, nil
}

// KeyOf maps absolute chunk coordinates to their entry key.
func (m MinecraftKeyModel) KeyOf(ex, ez int) regiondb.EntryKey {
	rk := regiondb.RegionKey(fmt.Sprintf("r.%d.%d%s", regionCoord(ex), regionCoord(ez), m.ext))
	id := localCoord(ez)<<5 | localCoord(ex)
	return regiondb.EntryKey{Region: rk, ID: id}
}
