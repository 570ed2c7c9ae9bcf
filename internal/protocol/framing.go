// Frame reading and writing for the control channel. A frame is the fixed
// header plus the raw body bytes; typed decoding happens in messages.go.
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/samber/oops"
)

// ErrFraming reports a header whose declared length cannot be honored. The
// stream cannot be resynchronized reliably after this, so callers treat it as
// best-effort garbage: drop the header bytes and try again at the next
// boundary.
var ErrFraming = errors.New("protocol: declared frame length out of range")

// Frame is one message envelope read off the control channel.
type Frame struct {
	Kind      Kind
	Timestamp uint32
	Body      []byte
}

// ReadFrame reads exactly one frame from r. It validates the declared length
// against MaxFrameSize before reading the body. I/O errors (including EOF)
// pass through untouched so callers can distinguish a dead peer from garbage.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	kind := Kind(binary.BigEndian.Uint16(hdr[0:2]))
	length := int(binary.BigEndian.Uint16(hdr[2:4]))
	timestamp := binary.BigEndian.Uint32(hdr[4:8])

	if length < HeaderSize || length > MaxFrameSize {
		return nil, ErrFraming
	}

	body := make([]byte, length-HeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Frame{Kind: kind, Timestamp: timestamp, Body: body}, nil
}

// Marshal builds a complete wire frame for m, stamped with the current time.
func Marshal(m Message) []byte {
	body := m.EncodeBody()
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.Kind()))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(time.Now().Unix()))
	copy(buf[HeaderSize:], body)
	return buf
}

// Write marshals m and writes the frame to w in a single call.
func Write(w io.Writer, m Message) error {
	frame := Marshal(m)
	if len(frame) > MaxFrameSize {
		return oops.Errorf("frame for %s exceeds maximum size: %d bytes", m.Kind(), len(frame))
	}
	if _, err := w.Write(frame); err != nil {
		return oops.Wrapf(err, "writing %s frame", m.Kind())
	}
	return nil
}
