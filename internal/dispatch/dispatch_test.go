package dispatch

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pvanet/internal/codec"
	"pvanet/internal/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeTransport records handler effects without a socket.
type fakeTransport struct {
	remote *net.UDPAddr

	available int

	recvBufferSize   int
	socketBufferSize int
	minorRevision    byte

	enqueued []transport.TransportSender
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		remote:    &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5076},
		available: codec.MaxUDPRecv,
	}
}

func (f *fakeTransport) RemoteAddress() *net.UDPAddr { return f.remote }
func (f *fakeTransport) Priority() int16             { return 0 }

func (f *fakeTransport) EnqueueSendRequest(sender transport.TransportSender) {
	f.enqueued = append(f.enqueued, sender)
}

func (f *fakeTransport) EnsureData(n int) error {
	if f.available < n {
		return transport.ErrInsufficientData
	}
	return nil
}

func (f *fakeTransport) SetRemoteTransportReceiveBufferSize(size int)       { f.recvBufferSize = size }
func (f *fakeTransport) SetRemoteTransportSocketReceiveBufferSize(size int) { f.socketBufferSize = size }
func (f *fakeTransport) SetRemoteMinorRevision(revision byte)               { f.minorRevision = revision }
func (f *fakeTransport) Close(forced bool)                                  { f.closed = true }

// fakeSendControl frames messages into a buffer the way the UDP transport does.
type fakeSendControl struct {
	buf       *codec.Buffer
	start     int
	recipient *net.UDPAddr
	flushed   bool
	last      bool
}

func newFakeSendControl() *fakeSendControl {
	return &fakeSendControl{buf: codec.NewBuffer(codec.MaxUDPRecv)}
}

func (c *fakeSendControl) StartMessage(command byte, ensureCapacity int) {
	c.start = c.buf.Position()
	codec.EncodeHeader(c.buf, command)
}

func (c *fakeSendControl) EndMessage() {
	c.buf.PutUint32At(c.start+4, uint32(c.buf.Position()-c.start-codec.HeaderSize))
}

func (c *fakeSendControl) SetRecipient(addr *net.UDPAddr) { c.recipient = addr }

func (c *fakeSendControl) Flush(last bool) {
	c.flushed = true
	c.last = last
}

func payloadBuffer(payload []byte) *codec.Buffer {
	buf := codec.NewBuffer(codec.MaxUDPRecv)
	buf.PutBytes(payload)
	buf.Flip()
	return buf
}

func from() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 41000}
}

func TestNewServerResponseHandler_TableFullyPopulated(t *testing.T) {
	h := NewServerResponseHandler(testLogger())

	if len(h.table) != 28 {
		t.Fatalf("table length: got %d, want 28", len(h.table))
	}
	for i, entry := range h.table {
		if entry == nil {
			t.Errorf("slot %d is nil", i)
		}
	}

	if _, ok := h.table[codec.CmdBeacon].(*noopResponse); !ok {
		t.Errorf("slot 0: got %T, want *noopResponse", h.table[codec.CmdBeacon])
	}
	if _, ok := h.table[codec.CmdConnectionValidation].(*connectionValidationHandler); !ok {
		t.Errorf("slot 1: got %T, want *connectionValidationHandler", h.table[codec.CmdConnectionValidation])
	}
	if _, ok := h.table[codec.CmdEcho].(*echoHandler); !ok {
		t.Errorf("slot 2: got %T, want *echoHandler", h.table[codec.CmdEcho])
	}

	// slots 3..27 share one bad-response handler
	shared := h.table[3]
	for i := 4; i < 28; i++ {
		if h.table[i] != shared {
			t.Errorf("slot %d does not share the bad-response handler", i)
		}
	}
}

func TestHandleResponse_OutOfRangeCommand(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr := newFakeTransport()

	buf := payloadBuffer([]byte{1, 2, 3})
	h.HandleResponse(from(), tr, 1, 99, 3, buf)

	if buf.Position() != 0 {
		t.Errorf("dispatcher must not reposition the buffer, position moved to %d", buf.Position())
	}
	if len(tr.enqueued) != 0 || tr.recvBufferSize != 0 {
		t.Error("out-of-range command must not change state")
	}
}

func TestHandleResponse_BadResponseNoStateChange(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr := newFakeTransport()

	h.HandleResponse(from(), tr, 1, 17, 0, payloadBuffer(nil))

	if len(tr.enqueued) != 0 {
		t.Error("bad-response handler must not enqueue a reply")
	}
}

func TestConnectionValidation_UpdatesTransport(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr := newFakeTransport()

	payload := make([]byte, 10)
	binary.LittleEndian.PutUint32(payload[0:4], 0x00010000)  // 65536
	binary.LittleEndian.PutUint32(payload[4:8], 0x00020000)  // 131072
	binary.LittleEndian.PutUint16(payload[8:10], 0x0001)     // priority, ignored

	h.HandleResponse(from(), tr, 9, codec.CmdConnectionValidation, 10, payloadBuffer(payload))

	if tr.recvBufferSize != 65536 {
		t.Errorf("receive buffer size: got %d, want 65536", tr.recvBufferSize)
	}
	if tr.socketBufferSize != 131072 {
		t.Errorf("socket buffer size: got %d, want 131072", tr.socketBufferSize)
	}
	if tr.minorRevision != 9 {
		t.Errorf("minor revision: got %d, want 9", tr.minorRevision)
	}
}

func TestConnectionValidation_ShortPayload(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr := newFakeTransport()
	tr.available = 4 // less than the 10 required bytes

	h.HandleResponse(from(), tr, 9, codec.CmdConnectionValidation, 4, payloadBuffer([]byte{1, 2, 3, 4}))

	if tr.recvBufferSize != 0 || tr.socketBufferSize != 0 || tr.minorRevision != 0 {
		t.Error("short validation frame must not change state")
	}
}

func TestEcho_EnqueuesOneReplyToSource(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr := newFakeTransport()
	src := from()

	h.HandleResponse(src, tr, 1, codec.CmdEcho, 0, payloadBuffer(nil))

	if len(tr.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued sender, got %d", len(tr.enqueued))
	}

	// drive the one-shot sender and inspect the produced frame
	control := newFakeSendControl()
	sender := tr.enqueued[0]
	sender.Lock()
	sender.Send(control.buf, control)
	sender.Unlock()
	control.EndMessage()

	if control.recipient == nil {
		t.Fatal("echo reply must be unicast to the source")
	}
	if !control.recipient.IP.Equal(src.IP) || control.recipient.Port != src.Port {
		t.Errorf("recipient: got %v, want %v", control.recipient, src)
	}

	control.buf.Flip()
	hdr, err := codec.DecodeHeader(control.buf)
	if err != nil {
		t.Fatalf("decoding echo reply: %v", err)
	}
	if hdr.Command != codec.CmdEcho {
		t.Errorf("reply command: got %d, want %d", hdr.Command, codec.CmdEcho)
	}
	if hdr.PayloadSize != 0 {
		t.Errorf("reply payload size: got %d, want 0", hdr.PayloadSize)
	}
}

// frameBytes builds one wire frame with a little-endian length field.
func frameBytes(command byte, payload []byte) []byte {
	out := make([]byte, codec.HeaderSize+len(payload))
	out[0] = codec.Magic
	out[1] = codec.ProtocolVersion
	out[2] = 0x00
	out[3] = command
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[codec.HeaderSize:], payload)
	return out
}

func TestEcho_EndToEndOverLoopback(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, h, testLogger())
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer tr.Close(true)
	tr.Start()

	client, err := net.DialUDP("udp", nil, tr.LocalAddr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	// two echo frames in one datagram yield two replies
	datagram := append(frameBytes(codec.CmdEcho, nil), frameBytes(codec.CmdEcho, nil)...)
	if _, err := client.Write(datagram); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		client.SetReadDeadline(time.Now().Add(3 * time.Second))
		buf := make([]byte, codec.MaxUDPRecv)
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("reply %d not received: %v", i, err)
		}
		if n != codec.HeaderSize {
			t.Errorf("reply %d: length got %d, want %d", i, n, codec.HeaderSize)
		}
		if buf[0] != codec.Magic || buf[3] != codec.CmdEcho {
			t.Errorf("reply %d: unexpected header %v", i, buf[:4])
		}
	}
}

func TestConnectionValidation_EndToEndBigEndian(t *testing.T) {
	h := NewServerResponseHandler(testLogger())
	tr, err := transport.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, h, testLogger())
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer tr.Close(true)
	tr.Start()

	client, err := net.DialUDP("udp", nil, tr.LocalAddr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	// big-endian frame: flags bit 7 set, length and payload big-endian
	datagram := make([]byte, codec.HeaderSize+10)
	datagram[0] = codec.Magic
	datagram[1] = 3
	datagram[2] = codec.FlagBigEndian
	datagram[3] = codec.CmdConnectionValidation
	binary.BigEndian.PutUint32(datagram[4:8], 10)
	binary.BigEndian.PutUint32(datagram[8:12], 65536)
	binary.BigEndian.PutUint32(datagram[12:16], 131072)
	binary.BigEndian.PutUint16(datagram[16:18], 1)

	if _, err := client.Write(datagram); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if tr.RemoteTransportReceiveBufferSize() == 65536 &&
			tr.RemoteTransportSocketReceiveBufferSize() == 131072 &&
			tr.RemoteMinorRevision() == 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("transport state not updated: recv=%d sock=%d rev=%d",
				tr.RemoteTransportReceiveBufferSize(),
				tr.RemoteTransportSocketReceiveBufferSize(),
				tr.RemoteMinorRevision())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
