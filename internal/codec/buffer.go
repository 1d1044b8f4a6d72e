// Package codec implements the pvAccess message framing: the fixed 8-byte
// header and a position/limit byte buffer with per-message endianness.
package codec

import "encoding/binary"

// Buffer is a fixed-capacity byte buffer with a read/write cursor, a limit and
// a byte order, in the style of a NIO buffer. Writes fill [position, limit);
// Flip converts a filled buffer into one readable from the start.
//
// Typed reads and writes do not bounds-check beyond the natural slice bounds;
// receive-side callers guard with Remaining (see Transport.EnsureData).
type Buffer struct {
	data  []byte
	pos   int
	limit int
	order binary.ByteOrder
}

// NewBuffer returns an empty buffer of the given capacity in little-endian
// order.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		data:  make([]byte, capacity),
		limit: capacity,
		order: binary.LittleEndian,
	}
}

// Clear resets the cursor to zero, the limit to the capacity and the order to
// little-endian, making the whole buffer writable again.
func (b *Buffer) Clear() {
	b.pos = 0
	b.limit = len(b.data)
	b.order = binary.LittleEndian
}

// Flip sets the limit to the current position and the position to zero,
// switching from filling to draining.
func (b *Buffer) Flip() {
	b.limit = b.pos
	b.pos = 0
}

func (b *Buffer) Position() int     { return b.pos }
func (b *Buffer) SetPosition(p int) { b.pos = p }
func (b *Buffer) Limit() int        { return b.limit }
func (b *Buffer) Remaining() int    { return b.limit - b.pos }
func (b *Buffer) Capacity() int     { return len(b.data) }

// SetOrder sets the byte order used by subsequent typed reads and writes.
func (b *Buffer) SetOrder(order binary.ByteOrder) { b.order = order }

// Order returns the current byte order.
func (b *Buffer) Order() binary.ByteOrder { return b.order }

// Data returns the full backing array, e.g. as a recvfrom target.
func (b *Buffer) Data() []byte { return b.data }

// Bytes returns the readable slice [position, limit).
func (b *Buffer) Bytes() []byte { return b.data[b.pos:b.limit] }

// Peek returns up to n bytes starting at the cursor without advancing it.
func (b *Buffer) Peek(n int) []byte {
	if n > b.Remaining() {
		n = b.Remaining()
	}
	return b.data[b.pos : b.pos+n]
}

func (b *Buffer) PutByte(v byte) {
	b.data[b.pos] = v
	b.pos++
}

func (b *Buffer) PutUint16(v uint16) {
	b.order.PutUint16(b.data[b.pos:b.pos+2], v)
	b.pos += 2
}

func (b *Buffer) PutUint32(v uint32) {
	b.order.PutUint32(b.data[b.pos:b.pos+4], v)
	b.pos += 4
}

func (b *Buffer) PutUint64(v uint64) {
	b.order.PutUint64(b.data[b.pos:b.pos+8], v)
	b.pos += 8
}

func (b *Buffer) PutBytes(p []byte) {
	copy(b.data[b.pos:b.pos+len(p)], p)
	b.pos += len(p)
}

// PutUint32At writes v at an absolute position without moving the cursor.
// Used to back-patch the payload-length field of an already written header.
func (b *Buffer) PutUint32At(pos int, v uint32) {
	b.order.PutUint32(b.data[pos:pos+4], v)
}

func (b *Buffer) Byte() byte {
	v := b.data[b.pos]
	b.pos++
	return v
}

func (b *Buffer) Uint16() uint16 {
	v := b.order.Uint16(b.data[b.pos : b.pos+2])
	b.pos += 2
	return v
}

func (b *Buffer) Uint32() uint32 {
	v := b.order.Uint32(b.data[b.pos : b.pos+4])
	b.pos += 4
	return v
}

func (b *Buffer) Uint64() uint64 {
	v := b.order.Uint64(b.data[b.pos : b.pos+8])
	b.pos += 8
	return v
}

func (b *Buffer) GetBytes(n int) []byte {
	v := make([]byte, n)
	copy(v, b.data[b.pos:b.pos+n])
	b.pos += n
	return v
}
