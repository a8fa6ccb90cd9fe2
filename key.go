package regiondb

import "fmt"

// RegionKey names one region. It is an opaque lowercase string usable as a
// filesystem name; equality and hashing are by string value.
type RegionKey string

// String returns the region key's textual form.
func (rk RegionKey) String() string {
	return string(rk)
}

// IsValidRegionName reports whether s matches the region name alphabet:
// one or more of [a-z0-9._-].
func IsValidRegionName(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '.' || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// EntryKey addresses one entry: a region plus the entry's integer id within
// that region. Valid ids are 0 <= ID < KeyModel.KeyCount(Region).
type EntryKey struct {
	Region RegionKey
	ID     int
}

// String formats the key as "<region>[id]".
func (k EntryKey) String() string {
	return fmt.Sprintf("%s[%d]", k.Region, k.ID)
}

// KeyModel is the capability describing a region family: how many ids a
// region holds, which region names belong to the family, and how to build
// entry keys. Region storage is parameterized by a KeyModel, not by any
// particular coordinate scheme.
type KeyModel interface {
	// KeyCount returns the number of addressable ids per region. The value
	// is constant for every region of the family.
	KeyCount(rk RegionKey) int
	// FromRegionAndID builds an entry key, validating the region name and
	// the id range.
	FromRegionAndID(rk RegionKey, id int) (EntryKey, error)
	// IsValid reports whether rk names a region of this family. Providers
	// use it as the filename predicate when enumerating existing regions.
	IsValid(rk RegionKey) bool
}

// ValidateEntryKey checks k against m and returns an InvalidKey or
// InvalidRegionName Error on violation.
func ValidateEntryKey(m KeyModel, k EntryKey) error {
	if !IsValidRegionName(string(k.Region)) || !m.IsValid(k.Region) {
		return Error{Code: InvalidRegionName, Err: fmt.Errorf("invalid region name %q", k.Region), UserData: k.Region}
	}
	if k.ID < 0 || k.ID >= m.KeyCount(k.Region) {
		return Error{Code: InvalidKey, Err: fmt.Errorf("id %d out of range for region %s", k.ID, k.Region), UserData: k}
	}
	return nil
}
