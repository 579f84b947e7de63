package persistence

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the payload compression of snapshots and backups.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", c)
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress returns src compressed with c.
func Compress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return src, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(src); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

// Decompress reverses Compress. rawSize is a capacity hint.
func Decompress(c Compression, src []byte, rawSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return src, nil
	case CompressionLZ4:
		out := bytes.NewBuffer(make([]byte, 0, rawSize))
		if _, err := io.Copy(out, lz4.NewReader(bytes.NewReader(src))); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	case CompressionZstd:
		return zstdDecoder.DecodeAll(src, make([]byte, 0, rawSize))
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

// NewCompressWriter returns a streaming writer compressing into w.
// Closing it flushes the compressor but not w.
func NewCompressWriter(c Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

// NewDecompressReader returns a streaming reader decompressing r.
func NewDecompressReader(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
