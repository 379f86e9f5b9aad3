package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/google/uuid"
)

const (
	// MaxStringLen bounds a single length-prefixed string or blob.
	MaxStringLen = 1 << 28
)

var ErrTooLarge = errors.New("protocol: length prefix exceeds limit")

// Writer appends the primitive encodings to a byte slice. All integers are
// little-endian; strings carry a uvarint byte length (7 bits per byte, low
// group first) followed by UTF-8 bytes.
type Writer struct {
	buf []byte
}

func NewWriter(into []byte) *Writer {
	return &Writer{buf: into}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteInt(v int) {
	w.WriteInt32(int32(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteString(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBlob writes an int32 length followed by the raw bytes.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteGUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

func (w *Writer) WriteStrings(list []string) {
	w.WriteInt(len(list))
	for _, s := range list {
		w.WriteString(s)
	}
}

// WriteOptionalString writes a presence flag and, if present, the string.
func (w *Writer) WriteOptionalString(s *string) {
	w.WriteBool(s != nil)
	if s != nil {
		w.WriteString(*s)
	}
}

// Reader decodes primitives from a stream. The first failure is sticky:
// every later read returns a zero value and Err reports the original cause.
// A stream that ends in the middle of a value yields io.ErrUnexpectedEOF.
type Reader struct {
	r   io.Reader
	br  io.ByteReader
	err error
}

type byteReadReader interface {
	io.Reader
	io.ByteReader
}

// NewReader wraps r. Streams without ReadByte get a bufio layer, so the
// Reader must stay the only consumer of r afterwards.
func NewReader(r io.Reader) *Reader {
	brr, ok := r.(byteReadReader)
	if !ok {
		brr = bufio.NewReader(r)
	}
	return &Reader{r: brr, br: brr}
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err != nil {
		return
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	r.err = err
}

// Fail records an externally detected decode error.
func (r *Reader) Fail(err error) {
	r.fail(err)
}

func (r *Reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *Reader) ReadInt32() int32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (r *Reader) ReadInt() int {
	return int(r.ReadInt32())
}

func (r *Reader) ReadInt64() int64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (r *Reader) ReadFloat64() float64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (r *Reader) ReadBool() bool {
	b := r.read(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

func (r *Reader) readLength() int {
	if r.err != nil {
		return 0
	}
	n, err := binary.ReadUvarint(r.br)
	if err != nil {
		r.fail(err)
		return 0
	}
	if n > MaxStringLen {
		r.fail(ErrTooLarge)
		return 0
	}
	return int(n)
}

func (r *Reader) ReadString() string {
	n := r.readLength()
	if n == 0 {
		return ""
	}
	return string(r.read(n))
}

// NextString reads the string that starts the next record of a stream.
// A stream that ends cleanly before it yields io.EOF.
func (r *Reader) NextString() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	n, err := binary.ReadUvarint(r.br)
	if err == io.EOF {
		return "", io.EOF
	} else if err != nil {
		r.fail(err)
		return "", r.err
	}
	if n > MaxStringLen {
		r.fail(ErrTooLarge)
		return "", r.err
	}
	s := string(r.read(int(n)))
	return s, r.err
}

func (r *Reader) ReadBlob() []byte {
	n := r.ReadInt32()
	if n < 0 || n > MaxStringLen {
		r.fail(ErrTooLarge)
		return nil
	}
	if r.err != nil || n == 0 {
		return nil
	}
	return r.read(int(n))
}

func (r *Reader) ReadGUID() (id uuid.UUID) {
	b := r.read(16)
	if b != nil {
		copy(id[:], b)
	}
	return
}

// ReadCount reads an int32 element count, rejecting negative values.
func (r *Reader) ReadCount() int {
	n := r.ReadInt32()
	if n < 0 {
		r.fail(ErrBadRecord)
		return 0
	}
	return int(n)
}

func (r *Reader) ReadStrings() []string {
	n := r.ReadCount()
	if n == 0 {
		return nil
	}
	list := make([]string, 0, min(n, 1024))
	for i := 0; i < n && r.err == nil; i++ {
		list = append(list, r.ReadString())
	}
	return list
}

func (r *Reader) ReadOptionalString() *string {
	if !r.ReadBool() {
		return nil
	}
	s := r.ReadString()
	return &s
}
