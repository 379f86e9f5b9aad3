package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Message is anything with a stable type tag and a payload encoding.
// Each concrete type also has a package-level ReadX(*Reader) function;
// read(write(m)) must reproduce m exactly.
type Message interface {
	MessageType() string
	WriteDataTo(w *Writer)
}

// Envelope is a message whose payload has not been decoded. Envelopes are
// what travels through streams and the cache; subscribers decode only the
// types they understand.
type Envelope struct {
	Type string
	Data []byte
}

func (e Envelope) MessageType() string {
	return e.Type
}

func (e Envelope) WriteDataTo(w *Writer) {
	w.buf = append(w.buf, e.Data...)
}

// Size is the encoded frame size.
func (e Envelope) Size() int {
	return uvarintLen(uint64(len(e.Type))) + len(e.Type) + 4 + len(e.Data)
}

// Encode turns a typed message into an envelope. Envelopes pass through.
func Encode(m Message) Envelope {
	if env, ok := m.(Envelope); ok {
		return env
	}
	w := NewWriter(nil)
	m.WriteDataTo(w)
	return Envelope{Type: m.MessageType(), Data: w.Bytes()}
}

// WriteMessage writes a nested frame: [string type][int32 len][payload].
func (w *Writer) WriteMessage(m Message) {
	w.WriteString(m.MessageType())
	at := len(w.buf)
	w.WriteInt32(0)
	m.WriteDataTo(w)
	putLength(w.buf[at:at+4], len(w.buf)-at-4)
}

// ReadMessage reads a nested frame written by WriteMessage.
func (r *Reader) ReadMessage() Envelope {
	typ := r.ReadString()
	n := r.ReadInt32()
	if n < 0 || n > MaxPayloadLen {
		r.fail(ErrBadRecord)
		return Envelope{}
	}
	var data []byte
	if n > 0 {
		data = r.read(int(n))
	}
	return Envelope{Type: typ, Data: data}
}

// ReadEnvelope reads the next top-level frame. A stream that ends cleanly
// before the frame starts yields io.EOF; one that ends inside a frame
// yields io.ErrUnexpectedEOF.
func (r *Reader) ReadEnvelope() (Envelope, error) {
	if r.err != nil {
		return Envelope{}, r.err
	}
	tlen, err := binary.ReadUvarint(r.br)
	if err == io.EOF {
		return Envelope{}, io.EOF
	} else if err != nil {
		r.fail(err)
		return Envelope{}, r.err
	}
	if tlen > MaxTypeLen {
		r.fail(ErrBadRecord)
		return Envelope{}, r.err
	}
	env := Envelope{Type: string(r.read(int(tlen)))}
	n := r.ReadInt32()
	if n < 0 || n > MaxPayloadLen {
		r.fail(ErrBadRecord)
	} else if n > 0 {
		env.Data = r.read(int(n))
	}
	if r.err != nil {
		return Envelope{}, r.err
	}
	return env, nil
}

// AppendMessage appends one top-level frame of m to buf.
func AppendMessage(buf []byte, m Message) []byte {
	w := NewWriter(buf)
	w.WriteMessage(m)
	return w.Bytes()
}

// Frame returns the top-level frame bytes of m.
func Frame(m Message) []byte {
	w := NewWriter(nil)
	w.WriteMessage(m)
	return w.Bytes()
}

// Decode runs a payload reader over the envelope data.
func Decode[T any](env Envelope, read func(*Reader) T) (T, error) {
	r := NewReader(bytes.NewReader(env.Data))
	msg := read(r)
	if err := r.Err(); err != nil {
		var zero T
		return zero, err
	}
	return msg, nil
}

// TryParse decodes env only if it carries messageType. Envelopes of other
// types are reported as not matching and left untouched, so a mixed stream
// can be split among several independent consumers.
func TryParse[T any](env Envelope, messageType string, read func(*Reader) T) (msg T, ok bool, err error) {
	if env.Type != messageType {
		return msg, false, nil
	}
	msg, err = Decode(env, read)
	if err != nil {
		return msg, false, err
	}
	return msg, true, nil
}
