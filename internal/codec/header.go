package codec

import (
	"encoding/binary"
	"errors"
	"net"
)

// Protocol constants.
const (
	// Magic is the sentinel first byte of every valid frame.
	Magic byte = 0xCA

	// ProtocolVersion is the version byte written into outgoing headers.
	ProtocolVersion byte = 5

	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 8

	// FlagBigEndian marks a frame whose payload (and payload-length field)
	// is big-endian. Outgoing frames are little-endian, so the flag stays
	// clear; bits 0-6 are reserved and must be zero for UDP.
	FlagBigEndian byte = 0x80

	// MaxUDPRecv bounds the receive buffer; a datagram can never exceed it.
	MaxUDPRecv = 65535

	// MaxUDPSend is the largest unfragmented datagram payload worth sending.
	MaxUDPSend = 1440
)

// Command codes.
const (
	CmdBeacon               byte = 0
	CmdConnectionValidation byte = 1
	CmdEcho                 byte = 2
)

// Framing errors. Any of them discards the remainder of the datagram.
var (
	ErrShortHeader = errors.New("datagram shorter than frame header")
	ErrBadMagic    = errors.New("not a pvAccess frame")
	ErrTruncated   = errors.New("frame payload exceeds datagram")
)

// Header is one decoded frame header.
type Header struct {
	Version     byte
	Flags       byte
	Command     byte
	PayloadSize uint32
}

// DecodeHeader reads one frame header from b, advancing the cursor past it.
// The buffer's byte order is switched according to the flags byte, so the
// payload-length field and all subsequent payload reads use the sender's
// endianness. On return without error, PayloadSize bytes remain readable.
func DecodeHeader(b *Buffer) (Header, error) {
	if b.Remaining() < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if b.Byte() != Magic {
		return Header{}, ErrBadMagic
	}

	h := Header{
		Version: b.Byte(),
		Flags:   b.Byte(),
	}
	if h.Flags&FlagBigEndian != 0 {
		b.SetOrder(binary.BigEndian)
	} else {
		b.SetOrder(binary.LittleEndian)
	}
	h.Command = b.Byte()
	h.PayloadSize = b.Uint32()

	if b.Position()+int(h.PayloadSize) > b.Limit() {
		return Header{}, ErrTruncated
	}
	return h, nil
}

// EncodeHeader writes a frame header with a zero payload length at the
// buffer's cursor. The length slot at start+4 is back-patched later via
// PutUint32At once the payload has been written.
func EncodeHeader(b *Buffer, command byte) {
	b.SetOrder(binary.LittleEndian)
	b.PutByte(Magic)
	b.PutByte(ProtocolVersion)
	b.PutByte(0x00)
	b.PutByte(command)
	b.PutUint32(0)
}

// EncodeAsIPv6 writes ip as the canonical 16-byte IPv6 form, IPv4-mapped for
// v4 addresses. A nil or malformed address encodes as all zeros.
func EncodeAsIPv6(b *Buffer, ip net.IP) {
	v6 := ip.To16()
	if v6 == nil {
		v6 = make(net.IP, net.IPv6len)
	}
	b.PutBytes(v6)
}
