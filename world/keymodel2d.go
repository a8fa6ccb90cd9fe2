package world

import (
	"fmt"

	"github.com/sharedcode/regiondb"
)

// ext2d is the region file extension of the 2D family: X.Z.2dr.
const ext2d = ".2dr"

// KeyModel2D is the 2D chunk grid family: regions of 32x32 entries named
// X.Z.2dr, id packed as (x&31)<<5 | (z&31).
type KeyModel2D struct{}

func (KeyModel2D) KeyCount(regiondb.RegionKey) int {
	return regionEdge * regionEdge
}

func (KeyModel2D) IsValid(rk regiondb.RegionKey) bool {
	_, ok := parseCoords(string(rk), "", ext2d, 2)
	return ok
}

func (m KeyModel2D) FromRegionAndID(rk regiondb.RegionKey, id int) (regiondb.EntryKey, error) {
	if !m.IsValid(rk) {
		return regiondb.EntryKey{}, regiondb.Error{Code: regiondb.InvalidRegionName, Err: fmt.Errorf("%q is not a 2D region name", rk), UserData: rk}
	}
	if id < 0 || id >= m.KeyCount(rk) {
		return regiondb.EntryKey{}, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("id %d out of range for 2D region %s", id, rk)}
	}
	return regiondb.EntryKey{Region: rk, ID: id}, nil
}

// KeyOf maps absolute entry coordinates to their entry key.
func (KeyModel2D) KeyOf(ex, ez int) regiondb.EntryKey {
	rk := regiondb.RegionKey(fmt.Sprintf("%d.%d%s", regionCoord(ex), regionCoord(ez), ext2d))
	id := localCoord(ex)<<5 | localCoord(ez)
	return regiondb.EntryKey{Region: rk, ID: id}
}
