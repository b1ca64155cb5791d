// Package registry maps logical service names to backends.
//
// Readers never lock: the map behind a Registry is immutable and published
// through an atomic pointer. Replace builds a fresh map and swaps it in, so a
// request that already resolved a backend keeps using it.
package registry
