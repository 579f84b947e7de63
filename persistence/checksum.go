package persistence

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/vecgraph/errs"
)

// Checksums are CRC32 (IEEE). They catch torn writes and bit rot in
// snapshots and backup archives, not tampering.
var crcTable = crc32.MakeTable(crc32.IEEE)

// CalculateChecksum returns the CRC32 of data.
func CalculateChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// ChecksumWriter counts and hashes every byte that reaches the underlying writer.
type ChecksumWriter struct {
	w   io.Writer
	crc uint32
	n   int64
}

func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w}
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.crc = crc32.Update(cw.crc, crcTable, p[:n])
	cw.n += int64(n)
	return n, err
}

func (cw *ChecksumWriter) Sum() uint32  { return cw.crc }
func (cw *ChecksumWriter) Count() int64 { return cw.n }

// ChecksumReader hashes everything read through it. Call Verify after the
// stream has been drained.
type ChecksumReader struct {
	r   io.Reader
	crc uint32
	n   int64
}

func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{r: r}
}

func (cr *ChecksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.crc = crc32.Update(cr.crc, crcTable, p[:n])
	cr.n += int64(n)
	return n, err
}

func (cr *ChecksumReader) Sum() uint32  { return cr.crc }
func (cr *ChecksumReader) Count() int64 { return cr.n }

// Verify compares what was read against the recorded size and checksum.
// A short or long stream matches errs.ErrIndexCorruption; a hash
// difference is a ChecksumMismatchError.
func (cr *ChecksumReader) Verify(size int64, expected uint32) error {
	if cr.n != size {
		return fmt.Errorf("%w: read %d bytes, expected %d", errs.ErrIndexCorruption, cr.n, size)
	}
	if cr.crc != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: cr.crc}
	}
	return nil
}

// ChecksumMismatchError reports a payload whose CRC32 differs from the
// recorded one. It matches errs.ErrIndexCorruption.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool { return target == errs.ErrIndexCorruption }

// Verify returns a ChecksumMismatchError if data does not hash to expected.
func Verify(data []byte, expected uint32) error {
	if actual := CalculateChecksum(data); actual != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
