package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"pvanet/internal/codec"
	"pvanet/internal/metrics"
)

const (
	// readTimeout bounds each recvfrom so the receive goroutine observes
	// the closed flag between iterations.
	readTimeout = 1 * time.Second

	// closeTimeout bounds how long Close waits for the receive goroutine.
	closeTimeout = 5 * time.Second
)

// ErrInsufficientData is reported by EnsureData when a handler asks for more
// payload than the current datagram holds.
var ErrInsufficientData = errors.New("insufficient data in receive buffer")

// UDPTransport owns a bound datagram socket, its receive goroutine and the
// send/receive framing buffers. It implements Transport and acts as the
// TransportSendControl for senders scheduled on it.
type UDPTransport struct {
	handler ResponseHandler
	conn    *net.UDPConn
	bind    *net.UDPAddr
	log     zerolog.Logger

	closed   atomic.Bool
	started  atomic.Bool
	shutdown chan struct{}
	closeMu  sync.Mutex

	// recvBuf is touched only by the receive goroutine.
	recvBuf *codec.Buffer

	// ignored is read by the receive goroutine without a lock; it must be
	// configured before Start.
	ignored []net.IP

	sendMu           sync.Mutex
	sendBuf          *codec.Buffer
	lastMessageStart int
	sendAddresses    []*net.UDPAddr
	sendTo           *net.UDPAddr
	sendToEnabled    bool

	priority int16

	remoteRecvBufferSize   atomic.Int64
	remoteSocketBufferSize atomic.Int64
	remoteMinorRevision    atomic.Uint32
}

// Listen binds a UDP socket on bindAddr and returns a transport delivering
// received frames to handler. The transport is idle until Start.
func Listen(bindAddr *net.UDPAddr, handler ResponseHandler, log zerolog.Logger) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", bindAddr, err)
	}

	t := &UDPTransport{
		handler:  handler,
		conn:     conn,
		bind:     conn.LocalAddr().(*net.UDPAddr),
		log:      log,
		shutdown: make(chan struct{}),
		recvBuf:  codec.NewBuffer(codec.MaxUDPRecv),
		sendBuf:  codec.NewBuffer(codec.MaxUDPRecv),
	}
	return t, nil
}

// LocalAddr returns the actual bound address.
func (t *UDPTransport) LocalAddr() *net.UDPAddr { return t.bind }

// RemoteAddress returns the address this transport is registered under. A UDP
// endpoint serves a peer group rather than a single peer, so it is identified
// by its bound address.
func (t *UDPTransport) RemoteAddress() *net.UDPAddr { return t.bind }

func (t *UDPTransport) Priority() int16 { return t.priority }

// SetSendAddresses configures the broadcast destinations used when a sender
// does not pick an explicit recipient. Must be called before Start or while
// the transport is idle.
func (t *UDPTransport) SetSendAddresses(addrs []*net.UDPAddr) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.sendAddresses = addrs
}

// SetIgnoreAddresses configures the receive-side source filter. Must be
// called before Start.
func (t *UDPTransport) SetIgnoreAddresses(ips []net.IP) {
	t.ignored = ips
}

// ConfigureMulticast selects the outgoing interface and TTL for multicast
// send addresses. An unknown interface name is returned as an error; failures
// to apply the interface or TTL to the socket are logged but not fatal.
func (t *UDPTransport) ConfigureMulticast(ifaceName string, ttl int) error {
	pc := ipv4.NewPacketConn(t.conn)

	if ifaceName != "" {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return fmt.Errorf("finding interface %s: %w", ifaceName, err)
		}
		if err := pc.SetMulticastInterface(iface); err != nil {
			t.log.Warn().Err(err).Msg("Failed to set multicast interface")
		}
	}
	if ttl > 0 {
		if err := pc.SetMulticastTTL(ttl); err != nil {
			t.log.Warn().Err(err).Msg("Failed to set multicast TTL")
		}
	}
	return nil
}

// Start spawns the receive goroutine. Subsequent calls are no-ops.
func (t *UDPTransport) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	t.log.Debug().Str("bind", t.bind.String()).Msg("Starting UDP receive goroutine")
	go t.receiveLoop()
}

// Close shuts the transport down and waits up to 5 seconds for the receive
// goroutine to exit. Idempotent.
func (t *UDPTransport) Close(forced bool) {
	t.close(forced, true)
}

func (t *UDPTransport) close(forced, waitForLoop bool) {
	t.closeMu.Lock()
	if t.closed.Load() {
		t.closeMu.Unlock()
		return
	}
	t.closed.Store(true)
	t.log.Debug().Str("bind", t.bind.String()).Bool("forced", forced).Msg("UDP socket closed")
	// Closing the socket also unblocks a recvfrom in flight.
	t.conn.Close()
	t.closeMu.Unlock()

	if waitForLoop && t.started.Load() {
		select {
		case <-t.shutdown:
		case <-time.After(closeTimeout):
			t.log.Error().Str("bind", t.bind.String()).Msg("Receive goroutine for UDP socket has not exited")
		}
	}
}

func (t *UDPTransport) receiveLoop() {
	defer close(t.shutdown)

	buf := t.recvBuf
	for !t.closed.Load() {
		buf.Clear()

		if err := t.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			if t.closed.Load() {
				break
			}
			t.log.Error().Err(err).Msg("Failed to set read deadline")
			t.close(true, false)
			break
		}

		n, from, err := t.conn.ReadFromUDP(buf.Data())
		if err != nil {
			if isTransientError(err) {
				continue
			}
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			t.log.Error().Err(err).Msg("Socket recvfrom error")
			// Forced close without rejoining this goroutine.
			t.close(true, false)
			break
		}
		if n <= 0 {
			continue
		}

		metrics.DatagramsReceived.Inc()
		if t.isIgnored(from.IP) {
			metrics.DatagramsIgnored.Inc()
			continue
		}

		buf.SetPosition(n)
		buf.Flip()
		t.processBuffer(from, buf)
	}

	t.log.Debug().Str("bind", t.bind.String()).Msg("UDP receive goroutine exiting")
}

// isTransientError reports whether a socket error should be silently retried.
func isTransientError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.EINTR,
		syscall.EAGAIN,
		syscall.EWOULDBLOCK,
		syscall.ETIMEDOUT,
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func (t *UDPTransport) isIgnored(ip net.IP) bool {
	for _, ignored := range t.ignored {
		if ignored.Equal(ip) {
			return true
		}
	}
	return false
}

// processBuffer walks the frames of one datagram in wire order. After each
// dispatch the cursor is forced to headerEnd+payloadSize, so a handler that
// under-reads cannot desynchronize the following frames. A framing error
// aborts the entire datagram.
func (t *UDPTransport) processBuffer(from *net.UDPAddr, buf *codec.Buffer) {
	for buf.Remaining() >= codec.HeaderSize {
		hdr, err := codec.DecodeHeader(buf)
		if err != nil {
			metrics.FramingErrors.Inc()
			t.log.Debug().Err(err).Str("from", from.String()).Msg("Dropping datagram")
			return
		}

		next := buf.Position() + int(hdr.PayloadSize)
		t.dispatch(from, hdr, buf)
		buf.SetPosition(next)
	}
}

func (t *UDPTransport) dispatch(from *net.UDPAddr, hdr codec.Header, buf *codec.Buffer) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			t.log.Error().
				Interface("panic", r).
				Uint8("command", hdr.Command).
				Str("from", from.String()).
				Msg("Response handler panicked")
		}
	}()

	metrics.FramesDispatched.Inc()
	t.handler.HandleResponse(from, t, hdr.Version, hdr.Command, hdr.PayloadSize, buf)
}

// EnsureData reports an error unless n bytes of the current datagram remain.
func (t *UDPTransport) EnsureData(n int) error {
	if remaining := t.recvBuf.Remaining(); remaining < n {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientData, n, remaining)
	}
	return nil
}

func (t *UDPTransport) SetRemoteTransportReceiveBufferSize(size int) {
	t.remoteRecvBufferSize.Store(int64(size))
}

func (t *UDPTransport) SetRemoteTransportSocketReceiveBufferSize(size int) {
	t.remoteSocketBufferSize.Store(int64(size))
}

func (t *UDPTransport) SetRemoteMinorRevision(revision byte) {
	t.remoteMinorRevision.Store(uint32(revision))
}

// RemoteTransportReceiveBufferSize returns the peer's advertised receive
// buffer size, or zero before a connection-validation frame arrives.
func (t *UDPTransport) RemoteTransportReceiveBufferSize() int {
	return int(t.remoteRecvBufferSize.Load())
}

func (t *UDPTransport) RemoteTransportSocketReceiveBufferSize() int {
	return int(t.remoteSocketBufferSize.Load())
}

func (t *UDPTransport) RemoteMinorRevision() byte {
	return byte(t.remoteMinorRevision.Load())
}

// SocketReceiveBufferSize returns the OS-level SO_RCVBUF of the bound socket,
// or -1 when it cannot be read.
func (t *UDPTransport) SocketReceiveBufferSize() int {
	raw, err := t.conn.SyscallConn()
	if err != nil {
		t.log.Error().Err(err).Msg("Socket getsockopt SO_RCVBUF error")
		return -1
	}

	size := -1
	ctlErr := raw.Control(func(fd uintptr) {
		size, err = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF)
	})
	if ctlErr != nil || err != nil {
		t.log.Error().AnErr("ctl", ctlErr).AnErr("getsockopt", err).Msg("Socket getsockopt SO_RCVBUF error")
		return -1
	}
	return size
}
