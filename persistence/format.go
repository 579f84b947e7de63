package persistence

import "errors"

const (
	// MagicNumber identifies vecgraph index snapshots (ASCII: "VGX1").
	MagicNumber = 0x56475831
	// Version is the current file format version (v1.0.0).
	Version = 0x00010000

	// HeaderSize is the encoded size of FileHeader in bytes.
	HeaderSize = 64

	// maxPayloadSize guards against allocating absurd buffers for damaged headers.
	maxPayloadSize = 1 << 40
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrTruncated      = errors.New("truncated snapshot")
)

// FileHeader is the 64-byte header at the start of every snapshot file.
type FileHeader struct {
	Magic       uint32 // 0x56475831 ("VGX1")
	Version     uint32 // File format version
	Collection  uint8  // model.Collection
	Metric      uint8  // distance.Metric
	Compression uint8  // Compression
	Padding1    uint8
	Dimension   uint32 // Vector dimensionality
	Count       uint64 // Number of nodes, including tombstoned ones
	PayloadSize uint64 // Stored (compressed) payload length
	RawSize     uint64 // Uncompressed payload length
	Checksum    uint32 // CRC32 of the stored payload
	Padding2    [4]byte
	Reserved    [16]byte
}
