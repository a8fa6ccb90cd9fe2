// Package regiondb is an embeddable key-value storage engine for values
// addressed by spatially clustered keys, e.g. chunk coordinates of a voxel
// world. Keys group into fixed-capacity buckets called regions; each region
// persists as a single file with a packed sector directory, amortizing seek
// cost for clustered access. Oversized values spill into a sidecar directory
// next to the region file.
//
// The root package holds the shared value types (RegionKey, EntryKey, the
// KeyModel capability, error codes) and small concurrency helpers. The
// on-disk format and its runtime live in the region package, the bounded
// region caches in the cache package, the fallback-chain front in the store
// package, and the archetypal coordinate key models plus the bundled save
// facade in the world package.
package regiondb
