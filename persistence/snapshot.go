package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/vecgraph/errs"
)

// SnapshotInfo describes the contents of a snapshot payload.
type SnapshotInfo struct {
	Collection  uint8
	Metric      uint8
	Compression Compression
	Dimension   uint32
	Count       uint64
}

// WriteSnapshot writes a header followed by the payload produced by body.
func WriteSnapshot(w io.Writer, info SnapshotInfo, body func(io.Writer) error) (int64, error) {
	var raw bytes.Buffer
	if err := body(&raw); err != nil {
		return 0, err
	}

	payload, err := Compress(info.Compression, raw.Bytes())
	if err != nil {
		return 0, fmt.Errorf("compress snapshot: %w", err)
	}

	header := FileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Collection:  info.Collection,
		Metric:      info.Metric,
		Compression: uint8(info.Compression),
		Dimension:   info.Dimension,
		Count:       info.Count,
		PayloadSize: uint64(len(payload)),
		RawSize:     uint64(raw.Len()),
		Checksum:    CalculateChecksum(payload),
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return 0, err
	}
	return int64(HeaderSize + len(payload)), nil
}

// ReadHeader reads and validates a snapshot header.
// Unknown magic numbers and versions match errs.ErrIncompatibleFormat.
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: %w: got 0x%08x", errs.ErrIncompatibleFormat, ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: %w: got 0x%08x", errs.ErrIncompatibleFormat, ErrInvalidVersion, header.Version)
	}
	return &header, nil
}

// ReadSnapshot reads a snapshot and returns its header and the verified,
// decompressed payload.
func ReadSnapshot(r io.Reader) (*FileHeader, []byte, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	if header.PayloadSize > maxPayloadSize || header.RawSize > maxPayloadSize {
		return nil, nil, fmt.Errorf("%w: payload size %d", ErrTruncated, header.PayloadSize)
	}

	payload := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, ErrTruncated
	}
	if err := Verify(payload, header.Checksum); err != nil {
		return nil, nil, err
	}

	raw, err := Decompress(Compression(header.Compression), payload, int(header.RawSize))
	if err != nil {
		return nil, nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	if uint64(len(raw)) != header.RawSize {
		return nil, nil, fmt.Errorf("%w: raw size %d, header says %d", ErrTruncated, len(raw), header.RawSize)
	}
	return header, raw, nil
}
