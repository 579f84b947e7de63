// Package persistence implements the on-disk snapshot format of vector index collections.
//
// A snapshot file is a fixed 64-byte little-endian FileHeader followed by the
// (optionally compressed) payload:
//
//	+--------+---------+------+--------+-------+-----+-------+---------+-------+----------+
//	| magic  | version | coll | metric | codec | dim | count | payload | raw   | checksum |
//	| "VGX1" | uint32  | u8   | u8     | u8    | u32 | u64   | u64     | u64   | CRC32    |
//	+--------+---------+------+--------+-------+-----+-------+---------+-------+----------+
//
// The checksum covers the stored payload bytes. Unknown magic numbers and
// format versions are rejected with errs.ErrIncompatibleFormat instead of
// being decoded.
package persistence
