package codec

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	buf := NewBuffer(256)

	EncodeHeader(buf, CmdEcho)
	start := 0
	buf.PutUint32(0xDEADBEEF) // payload
	buf.PutUint32At(start+4, uint32(buf.Position()-start-HeaderSize))

	buf.Flip()
	hdr, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if hdr.Version != ProtocolVersion {
		t.Errorf("Version: got %d, want %d", hdr.Version, ProtocolVersion)
	}
	if hdr.Flags != 0 {
		t.Errorf("Flags: got 0x%02x, want 0x00", hdr.Flags)
	}
	if hdr.Command != CmdEcho {
		t.Errorf("Command: got %d, want %d", hdr.Command, CmdEcho)
	}
	if hdr.PayloadSize != 4 {
		t.Errorf("PayloadSize: got %d, want 4", hdr.PayloadSize)
	}
	if got := buf.Uint32(); got != 0xDEADBEEF {
		t.Errorf("payload: got 0x%08x, want 0xDEADBEEF", got)
	}
}

func TestDecodeHeader_BigEndian(t *testing.T) {
	raw := []byte{Magic, 1, FlagBigEndian, CmdConnectionValidation, 0, 0, 0, 2, 0xAB, 0xCD}
	buf := NewBuffer(len(raw))
	buf.PutBytes(raw)
	buf.Flip()

	hdr, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if hdr.PayloadSize != 2 {
		t.Errorf("PayloadSize: got %d, want 2", hdr.PayloadSize)
	}
	if buf.Order() != binary.BigEndian {
		t.Error("expected buffer switched to big-endian")
	}
	if got := buf.Uint16(); got != 0xABCD {
		t.Errorf("payload: got 0x%04x, want 0xABCD", got)
	}
}

func TestDecodeHeader_LittleEndian(t *testing.T) {
	raw := []byte{Magic, 1, 0x00, CmdConnectionValidation, 2, 0, 0, 0, 0xCD, 0xAB}
	buf := NewBuffer(len(raw))
	buf.PutBytes(raw)
	buf.Flip()

	hdr, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if hdr.PayloadSize != 2 {
		t.Errorf("PayloadSize: got %d, want 2", hdr.PayloadSize)
	}
	if got := buf.Uint16(); got != 0xABCD {
		t.Errorf("payload: got 0x%04x, want 0xABCD", got)
	}
}

func TestDecodeHeader_BadMagic(t *testing.T) {
	raw := []byte{0xFF, 0x01, 0x00, 0x01, 0, 0, 0, 0}
	buf := NewBuffer(len(raw))
	buf.PutBytes(raw)
	buf.Flip()

	if _, err := DecodeHeader(buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeHeader_ShortHeader(t *testing.T) {
	buf := NewBuffer(4)
	buf.PutBytes([]byte{Magic, 1, 0, 0})
	buf.Flip()

	if _, err := DecodeHeader(buf); err != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestDecodeHeader_TruncatedPayload(t *testing.T) {
	// header claims 100 payload bytes, datagram holds none
	raw := []byte{Magic, 1, 0x00, CmdEcho, 100, 0, 0, 0}
	buf := NewBuffer(len(raw))
	buf.PutBytes(raw)
	buf.Flip()

	if _, err := DecodeHeader(buf); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestBuffer_BackPatchReadsBack(t *testing.T) {
	buf := NewBuffer(64)
	start := buf.Position()
	EncodeHeader(buf, CmdBeacon)
	for i := 0; i < 13; i++ {
		buf.PutByte(byte(i))
	}
	buf.PutUint32At(start+4, uint32(buf.Position()-start-HeaderSize))

	buf.Flip()
	hdr, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if hdr.PayloadSize != 13 {
		t.Errorf("PayloadSize: got %d, want 13", hdr.PayloadSize)
	}
}

func TestBuffer_FlipClear(t *testing.T) {
	buf := NewBuffer(16)
	buf.PutUint32(42)
	if buf.Position() != 4 {
		t.Fatalf("position: got %d, want 4", buf.Position())
	}

	buf.Flip()
	if buf.Limit() != 4 || buf.Position() != 0 || buf.Remaining() != 4 {
		t.Errorf("after flip: pos=%d limit=%d remaining=%d", buf.Position(), buf.Limit(), buf.Remaining())
	}
	if got := buf.Uint32(); got != 42 {
		t.Errorf("readback: got %d, want 42", got)
	}

	buf.Clear()
	if buf.Position() != 0 || buf.Limit() != 16 {
		t.Errorf("after clear: pos=%d limit=%d", buf.Position(), buf.Limit())
	}
	if buf.Order() != binary.LittleEndian {
		t.Error("clear must reset order to little-endian")
	}
}

func TestEncodeAsIPv6_V4Mapped(t *testing.T) {
	buf := NewBuffer(16)
	EncodeAsIPv6(buf, net.IPv4(192, 168, 1, 10))
	buf.Flip()

	got := buf.GetBytes(16)
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 192, 168, 1, 10}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded: got %v, want %v", got, want)
	}
}

func TestEncodeAsIPv6_Nil(t *testing.T) {
	buf := NewBuffer(16)
	EncodeAsIPv6(buf, nil)
	buf.Flip()

	for i, b := range buf.GetBytes(16) {
		if b != 0 {
			t.Fatalf("byte %d: got 0x%02x, want 0x00", i, b)
		}
	}
}
