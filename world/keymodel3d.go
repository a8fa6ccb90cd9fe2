package world

import (
	"fmt"

	"github.com/sharedcode/regiondb"
)

// ext3d is the region file extension of the 3D family: X.Y.Z.3dr.
const ext3d = ".3dr"

// KeyModel3D is the 3D chunk grid family: regions of 32x32x32 entries named
// X.Y.Z.3dr, id packed as (x&31)<<10 | (y&31)<<5 | (z&31).
type KeyModel3D struct{}

func (KeyModel3D) KeyCount(regiondb.RegionKey) int {
	return regionEdge * regionEdge * regionEdge
}

func (KeyModel3D) IsValid(rk regiondb.RegionKey) bool {
	_, ok := parseCoords(string(rk), "", ext3d, 3)
	return ok
}

func (m KeyModel3D) FromRegionAndID(rk regiondb.RegionKey, id int) (regiondb.EntryKey, error) {
	if !m.IsValid(rk) {
		return regiondb.EntryKey{}, regiondb.Error{Code: regiondb.InvalidRegionName, Err: fmt.Errorf("%q is not a 3D region name", rk), UserData: rk}
	}
	if id < 0 || id >= m.KeyCount(rk) {
		return regiondb.EntryKey{}, regiondb.Error{Code: regiondb.InvalidKey, Err: fmt.Errorf("id %d out of range for 3D region %s", id, rk)}
	}
	return regiondb.EntryKey{Region: rk, ID: id}, nil
}

// KeyOf maps absolute entry coordinates to their entry key.
func (KeyModel3D) KeyOf(ex, ey, ez int) regiondb.EntryKey {
	rk := regiondb.RegionKey(fmt.Sprintf("%d.%d.%d%s", regionCoord(ex), regionCoord(ey), regionCoord(ez), ext3d))
	id := localCoord(ex)<<10 | localCoord(ey)<<5 | localCoord(ez)
	return regiondb.EntryKey{Region: rk, ID: id}
}
