// Package transport turns a raw byte stream into discrete message payloads.
// Every frame on the wire is a 4-byte little-endian length N followed by N
// bytes of payload. The simulation server writes the same framing on the
// snapshot channel and on the log channel.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length prefix size in bytes.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the declared payload length. A full snapshot of
// a large map is a few MiB; anything past this is a corrupt or hostile peer.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a header declares a payload above the
// configured maximum. The stream cannot be resynchronized after this.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameBuffer accumulates stream bytes and extracts complete frames.
// Incomplete data stays buffered until more bytes arrive.
type FrameBuffer struct {
	buf []byte
	off int // start of unconsumed data in buf
	max uint32
}

// NewFrameBuffer creates an accumulator that rejects frames above max bytes.
// max <= 0 selects DefaultMaxFrameSize.
func NewFrameBuffer(max int) *FrameBuffer {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return &FrameBuffer{max: uint32(max)}
}

// Write appends stream bytes to the accumulator, reclaiming consumed bytes at
// the front first.
func (b *FrameBuffer) Write(p []byte) {
	b.compact()
	b.buf = append(b.buf, p...)
}

func (b *FrameBuffer) compact() {
	if b.off == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.off:])
	b.buf = b.buf[:n]
	b.off = 0
}

// Next extracts the oldest complete frame. ok is false when fewer than
// HeaderSize+N bytes are buffered. The returned payload does not alias the
// internal buffer.
func (b *FrameBuffer) Next() (payload []byte, ok bool, err error) {
	data := b.buf[b.off:]
	if len(data) < HeaderSize {
		return nil, false, nil
	}
	n := binary.LittleEndian.Uint32(data[:HeaderSize])
	if n > b.max {
		return nil, false, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, n, b.max)
	}
	total := HeaderSize + int(n)
	if len(data) < total {
		return nil, false, nil
	}
	payload = make([]byte, n)
	copy(payload, data[HeaderSize:total])

	b.off += total
	if b.off == len(b.buf) {
		b.buf, b.off = b.buf[:0], 0
	}
	return payload, true, nil
}

// Drain extracts every complete frame currently buffered, in arrival order.
func (b *FrameBuffer) Drain() ([][]byte, error) {
	var frames [][]byte
	for {
		payload, ok, err := b.Next()
		if err != nil {
			return frames, err
		}
		if !ok {
			b.compact()
			return frames, nil
		}
		frames = append(frames, payload)
	}
}

// Buffered returns the number of bytes waiting for a complete frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf) - b.off
}

// Reset discards any buffered partial data.
func (b *FrameBuffer) Reset() {
	b.buf, b.off = b.buf[:0], 0
}

// AppendFrame appends the framed form of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes one length-prefixed frame to w in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload))
	return err
}
