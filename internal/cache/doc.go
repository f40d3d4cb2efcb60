// Package cache holds synthesized audio for the life of the process.
//
// Entries are addressed by speed, then base identity, then gender, and are
// written exactly once. Oversized text arrives as a cluster of chunks; a
// cluster must be registered before any of its chunks are stored, and the
// returned ClusterHandle is what fills its slots. Held audio is compressed
// with zstd.
package cache
