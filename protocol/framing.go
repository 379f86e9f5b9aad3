// Stream framing follows the record splitting of ToyTLV (MIT licence)
// written by Victor Grishchenko in 2024.
// Original project: https://github.com/learn-decentralized-systems/toytlv

/*
Package protocol implements the tagged binary message format shared by the
preview host, the spawned preview process and runtime clients.

# Frame format

Every top-level message is one frame:

	[uvarint typeLen][type bytes][int32 payloadLen LE][payload]

The type is the message tag (for example "BytecodeGenerated"). The payload
is produced by the message's WriteDataTo. The explicit payload length lets a
reader skip types it does not understand, so one stream can carry any mix of
messages.

# Primitives

	int32, int64, float64   little-endian, fixed width
	bool                    one byte, 0 or 1
	string                  uvarint byte length + UTF-8
	blob                    int32 length + bytes
	GUID                    16 bytes, RFC 4122 order
	list                    int32 count + items
	optional                bool + value

# Tagged values

Values whose type is not known to the reader ahead of time are written as
[string tag][payload]. The empty tag is null; "T[]" is an array of T followed
by an int32 count. See WriteValue and ReadValue.

# Streaming

Split cuts a byte buffer into whole frames and leaves a partial tail in
place, which is what the network read loop needs:

	recs, err := Split(buf)          // ErrIncomplete if a tail is pending
	env, err := ParseRecord(recs[0]) // decode one frame
*/
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MaxTypeLen    = 1 << 10
	MaxPayloadLen = 1 << 30
)

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad message frame")
)

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func putLength(into []byte, n int) {
	binary.LittleEndian.PutUint32(into, uint32(n))
}

// ProbeHeader inspects the start of a frame.
//
// Returns:
//   - hdrlen: header length (type prefix, type, payload length), 0 if incomplete
//   - bodylen: payload length
//   - err: ErrBadRecord for a header no writer could have produced
func ProbeHeader(data []byte) (hdrlen, bodylen int, err error) {
	tlen, k := binary.Uvarint(data)
	if k == 0 {
		return 0, 0, nil
	}
	if k < 0 || tlen > MaxTypeLen {
		return 0, 0, ErrBadRecord
	}
	hdrlen = k + int(tlen) + 4
	if len(data) < hdrlen {
		return 0, 0, nil
	}
	bl := int32(binary.LittleEndian.Uint32(data[hdrlen-4 : hdrlen]))
	if bl < 0 || bl > MaxPayloadLen {
		return 0, 0, ErrBadRecord
	}
	return hdrlen, int(bl), nil
}

// Split parses a buffer containing multiple frames.
// Modifies the buffer by consuming successfully parsed frames.
//
// Returns:
//   - recs: slice of complete frames (header + payload)
//   - err: ErrBadRecord or ErrIncomplete
func Split(data *bytes.Buffer) (recs Records, err error) {
	for data.Len() > 0 {
		hlen, blen, perr := ProbeHeader(data.Bytes())
		if perr != nil {
			if len(recs) == 0 {
				err = perr
			}
			return
		}
		if hlen == 0 { // incomplete header
			return recs, ErrIncomplete
		}
		if hlen+blen > data.Len() { // incomplete package received
			err = errors.Join(ErrIncomplete, fmt.Errorf("packet size %d, len %d", hlen+blen, data.Len()))
			return
		}

		record := make([]byte, hlen+blen)
		if n, err := data.Read(record); err != nil {
			return recs, err
		} else if n != hlen+blen {
			panic("impossible buffer reading")
		}

		recs = append(recs, record)
	}

	return
}

// ParseRecord decodes one whole frame produced by Split or Frame.
func ParseRecord(rec []byte) (Envelope, error) {
	hlen, blen, err := ProbeHeader(rec)
	if err != nil {
		return Envelope{}, err
	}
	if hlen == 0 || hlen+blen > len(rec) {
		return Envelope{}, ErrIncomplete
	}
	tlen, k := binary.Uvarint(rec)
	env := Envelope{Type: string(rec[k : k+int(tlen)])}
	if blen > 0 {
		env.Data = rec[hlen : hlen+blen]
	}
	return env, nil
}

// Concat efficiently concatenates multiple byte slices with pre-allocation.
func Concat(msg ...[]byte) []byte {
	total := 0
	for _, b := range msg {
		total += len(b)
	}
	ret := make([]byte, 0, total)
	for _, b := range msg {
		ret = append(ret, b...)
	}
	return ret
}
