package transport

import (
	"net"

	"pvanet/internal/codec"
	"pvanet/internal/metrics"
)

// EnqueueSendRequest serializes one send through the sender. The send buffer
// is cleared, the sender framed via the TransportSendControl methods below,
// and the finished datagram goes either to the broadcast send-list or to the
// recipient picked with SetRecipient. A panicking sender is unlocked and the
// send aborted; the transport stays usable.
func (t *UDPTransport) EnqueueSendRequest(sender TransportSender) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.sendToEnabled = false
	t.sendBuf.Clear()

	sender.Lock()
	ok := t.runSender(sender)
	if !ok {
		return
	}

	t.EndMessage()
	if t.sendBuf.Position() < codec.HeaderSize {
		// sender produced no message
		return
	}

	if t.sendToEnabled {
		t.send(t.sendTo)
	} else {
		t.broadcast()
	}
}

// runSender invokes sender.Send, guaranteeing Unlock and containing panics.
func (t *UDPTransport) runSender(sender TransportSender) (ok bool) {
	defer func() {
		sender.Unlock()
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("Transport sender panicked")
			ok = false
		}
	}()

	sender.Send(t.sendBuf, t)
	return true
}

// StartMessage records the message start and writes the placeholder header.
// ensureCapacity is the payload space the sender intends to use; an oversized
// request is logged since a UDP message can never outgrow the send buffer.
func (t *UDPTransport) StartMessage(command byte, ensureCapacity int) {
	if codec.HeaderSize+ensureCapacity > t.sendBuf.Remaining() {
		t.log.Warn().
			Int("capacity", ensureCapacity).
			Int("remaining", t.sendBuf.Remaining()).
			Msg("Message capacity exceeds send buffer")
	}
	t.lastMessageStart = t.sendBuf.Position()
	codec.EncodeHeader(t.sendBuf, command)
}

// EndMessage back-patches the payload length of the open message.
func (t *UDPTransport) EndMessage() {
	t.sendBuf.PutUint32At(
		t.lastMessageStart+4,
		uint32(t.sendBuf.Position()-t.lastMessageStart-codec.HeaderSize),
	)
}

// SetRecipient switches the pending send from broadcast to unicast.
func (t *UDPTransport) SetRecipient(addr *net.UDPAddr) {
	t.sendTo = addr
	t.sendToEnabled = true
}

// Flush is a no-op: a UDP message leaves as one datagram when the enqueued
// send completes.
func (t *UDPTransport) Flush(last bool) {}

func (t *UDPTransport) send(addr *net.UDPAddr) bool {
	t.sendBuf.Flip()
	if _, err := t.conn.WriteToUDP(t.sendBuf.Bytes(), addr); err != nil {
		metrics.SendErrors.Inc()
		t.log.Debug().Err(err).Str("to", addr.String()).Msg("Socket sendto error")
		return false
	}
	metrics.DatagramsSent.Inc()
	return true
}

func (t *UDPTransport) broadcast() bool {
	if len(t.sendAddresses) == 0 {
		return false
	}

	t.sendBuf.Flip()
	allOK := true
	for _, addr := range t.sendAddresses {
		if _, err := t.conn.WriteToUDP(t.sendBuf.Bytes(), addr); err != nil {
			metrics.SendErrors.Inc()
			t.log.Debug().Err(err).Str("to", addr.String()).Msg("Socket sendto error")
			allOK = false
			continue
		}
		metrics.DatagramsSent.Inc()
	}
	return allOK
}
