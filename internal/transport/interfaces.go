// Package transport implements the UDP datagram transport: a bound socket
// with a single receive goroutine, a serialized send path and the frame walk
// that feeds decoded messages to a response handler.
package transport

import (
	"net"

	"pvanet/internal/codec"
)

// Transport is the endpoint surface seen by response handlers.
type Transport interface {
	// RemoteAddress identifies the peer (or peer group) this transport
	// serves; together with Priority it keys the transport registry.
	RemoteAddress() *net.UDPAddr
	Priority() int16

	// EnqueueSendRequest runs one serialized send through the sender.
	EnqueueSendRequest(sender TransportSender)

	// EnsureData reports an error unless at least n bytes of the current
	// datagram remain unread.
	EnsureData(n int) error

	SetRemoteTransportReceiveBufferSize(size int)
	SetRemoteTransportSocketReceiveBufferSize(size int)
	SetRemoteMinorRevision(revision byte)

	// Close shuts the transport down; idempotent.
	Close(forced bool)
}

// TransportSender produces one outgoing message when scheduled on a
// transport's send path. Lock and Unlock bracket the Send call; Unlock runs
// even when Send panics.
type TransportSender interface {
	Lock()
	Send(buf *codec.Buffer, control TransportSendControl)
	Unlock()
}

// TransportSendControl is handed to a sender during Send to frame the message
// and steer its destination.
type TransportSendControl interface {
	// StartMessage writes a placeholder header for command, reserving
	// ensureCapacity payload bytes.
	StartMessage(command byte, ensureCapacity int)

	// EndMessage back-patches the payload length of the open message.
	EndMessage()

	// SetRecipient switches the pending send from the broadcast send-list
	// to a single destination.
	SetRecipient(addr *net.UDPAddr)

	// Flush marks batch boundaries. Datagrams go out whole, so this is a
	// no-op for UDP.
	Flush(last bool)
}

// ResponseHandler interprets one decoded frame. The buffer cursor sits at the
// start of the payload; the transport repositions it after the call, so a
// handler that under-reads cannot desynchronize the frame walk.
type ResponseHandler interface {
	HandleResponse(from *net.UDPAddr, tr Transport, version byte, command byte, payloadSize uint32, buf *codec.Buffer)
}
