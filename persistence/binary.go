package persistence

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
)

// BinaryWriter writes little-endian primitives and keeps the first error.
type BinaryWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{w: w}
}

// Err returns the first write error, if any.
func (bw *BinaryWriter) Err() error { return bw.err }

func (bw *BinaryWriter) write(p []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(p)
}

// WriteUint8 writes a byte.
func (bw *BinaryWriter) WriteUint8(v uint8) {
	bw.buf[0] = v
	bw.write(bw.buf[:1])
}

// WriteUint32 writes a uint32.
func (bw *BinaryWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(bw.buf[:4], v)
	bw.write(bw.buf[:4])
}

// WriteUint64 writes a uint64.
func (bw *BinaryWriter) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(bw.buf[:8], v)
	bw.write(bw.buf[:8])
}

// WriteFloat32Slice writes the raw components of vec.
func (bw *BinaryWriter) WriteFloat32Slice(vec []float32) {
	for _, f := range vec {
		bw.WriteUint32(math.Float32bits(f))
	}
}

// WriteUint32Slice writes a length-prefixed uint32 slice.
func (bw *BinaryWriter) WriteUint32Slice(s []uint32) {
	bw.WriteUint32(uint32(len(s)))
	for _, v := range s {
		bw.WriteUint32(v)
	}
}

// WriteBytes writes a length-prefixed byte slice.
func (bw *BinaryWriter) WriteBytes(p []byte) {
	bw.WriteUint64(uint64(len(p)))
	bw.write(p)
}

// BinaryReader reads little-endian primitives and keeps the first error.
type BinaryReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{r: r}
}

// Err returns the first read error, if any. A short read reports ErrTruncated.
func (br *BinaryReader) Err() error { return br.err }

func (br *BinaryReader) read(p []byte) bool {
	if br.err != nil {
		return false
	}
	if _, err := io.ReadFull(br.r, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = ErrTruncated
		}
		br.err = err
		return false
	}
	return true
}

// ReadUint8 reads a byte.
func (br *BinaryReader) ReadUint8() uint8 {
	if !br.read(br.buf[:1]) {
		return 0
	}
	return br.buf[0]
}

// ReadUint32 reads a uint32.
func (br *BinaryReader) ReadUint32() uint32 {
	if !br.read(br.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(br.buf[:4])
}

// ReadUint64 reads a uint64.
func (br *BinaryReader) ReadUint64() uint64 {
	if !br.read(br.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(br.buf[:8])
}

// ReadFloat32Slice reads count float32 values.
func (br *BinaryReader) ReadFloat32Slice(count int) []float32 {
	vec := make([]float32, count)
	for i := range vec {
		vec[i] = math.Float32frombits(br.ReadUint32())
	}
	return vec
}

// ReadUint32Slice reads a length-prefixed uint32 slice of at most limit entries.
func (br *BinaryReader) ReadUint32Slice(limit int) []uint32 {
	n := int(br.ReadUint32())
	if br.err != nil {
		return nil
	}
	if n > limit {
		br.err = ErrTruncated
		return nil
	}
	s := make([]uint32, n)
	for i := range s {
		s[i] = br.ReadUint32()
	}
	return s
}

// ReadBytes reads a length-prefixed byte slice of at most limit bytes.
func (br *BinaryReader) ReadBytes(limit int) []byte {
	n := br.ReadUint64()
	if br.err != nil {
		return nil
	}
	if n > uint64(limit) {
		br.err = ErrTruncated
		return nil
	}
	p := make([]byte, n)
	br.read(p)
	return p
}

// SaveToFile atomically replaces filename with the output of writeFunc.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write to a temp file in the same directory to ensure rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""
	return nil
}

// LoadFromFile opens filename and passes a buffered reader to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return readFunc(bufio.NewReaderSize(f, 256*1024))
}
