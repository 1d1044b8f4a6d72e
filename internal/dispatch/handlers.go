package dispatch

import (
	"net"

	"github.com/rs/zerolog"

	"pvanet/internal/codec"
	"pvanet/internal/transport"
)

// connectionValidationPayloadSize is the required payload of a validation
// frame: two 32-bit buffer sizes and a 16-bit priority.
const connectionValidationPayloadSize = 2*4 + 2

// responseHandler carries the shared description and logger of a concrete
// handler, plus debug tracing of received frames.
type responseHandler struct {
	description string
	log         zerolog.Logger
}

func (h *responseHandler) logFrame(from *net.UDPAddr, version, command byte, payloadSize uint32, buf *codec.Buffer) {
	if e := h.log.Debug(); e.Enabled() {
		e.Str("handler", h.description).
			Uint8("command", command).
			Uint8("version", version).
			Uint32("payload_size", payloadSize).
			Str("from", from.String()).
			Hex("payload", buf.Peek(int(payloadSize))).
			Msg("Frame received")
	}
}

// noopResponse consumes a frame without acting on it. The server ignores peer
// beacons at this layer.
type noopResponse struct {
	responseHandler
}

func (h *noopResponse) HandleResponse(from *net.UDPAddr, tr transport.Transport, version byte, command byte, payloadSize uint32, buf *codec.Buffer) {
	h.logFrame(from, version, command, payloadSize, buf)
}

// badResponse services every command code without a real handler.
type badResponse struct {
	responseHandler
}

func (h *badResponse) HandleResponse(from *net.UDPAddr, tr transport.Transport, version byte, command byte, payloadSize uint32, buf *codec.Buffer) {
	h.logFrame(from, version, command, payloadSize, buf)
	h.log.Info().
		Uint8("command", command).
		Str("from", from.String()).
		Msg("Undecipherable message (bad response type)")
}

// connectionValidationHandler records the peer's transport parameters.
type connectionValidationHandler struct {
	responseHandler
}

func (h *connectionValidationHandler) HandleResponse(from *net.UDPAddr, tr transport.Transport, version byte, command byte, payloadSize uint32, buf *codec.Buffer) {
	h.logFrame(from, version, command, payloadSize, buf)

	if err := tr.EnsureData(connectionValidationPayloadSize); err != nil {
		h.log.Warn().Err(err).Str("from", from.String()).Msg("Short connection validation frame")
		return
	}

	tr.SetRemoteTransportReceiveBufferSize(int(int32(buf.Uint32())))
	tr.SetRemoteTransportSocketReceiveBufferSize(int(int32(buf.Uint32())))
	buf.Uint16() // peer priority: read off the wire but not applied
	tr.SetRemoteMinorRevision(version)
}

// echoHandler replies to an echo request with an empty echo message unicast
// back to the source.
type echoHandler struct {
	responseHandler
}

func (h *echoHandler) HandleResponse(from *net.UDPAddr, tr transport.Transport, version byte, command byte, payloadSize uint32, buf *codec.Buffer) {
	h.logFrame(from, version, command, payloadSize, buf)

	// one-shot sender; ownership transfers to the enqueue call
	tr.EnqueueSendRequest(&echoSender{to: cloneUDPAddr(from)})
}

// echoSender is a single-use TransportSender producing one empty echo frame.
type echoSender struct {
	to *net.UDPAddr
}

func (s *echoSender) Lock() {}

func (s *echoSender) Send(buf *codec.Buffer, control transport.TransportSendControl) {
	control.StartMessage(codec.CmdEcho, 0)
	control.SetRecipient(s.to)
}

func (s *echoSender) Unlock() {}

func cloneUDPAddr(addr *net.UDPAddr) *net.UDPAddr {
	clone := *addr
	clone.IP = append(net.IP(nil), addr.IP...)
	return &clone
}
