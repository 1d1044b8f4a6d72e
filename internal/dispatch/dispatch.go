// Package dispatch routes decoded frames to per-command response handlers.
package dispatch

import (
	"net"

	"github.com/rs/zerolog"

	"pvanet/internal/codec"
	"pvanet/internal/transport"
)

// handlerTableLength is the fixed size of the command table. Commands at or
// beyond it are rejected before indexing.
const handlerTableLength = 28

// ServerResponseHandler is the command-indexed dispatcher installed on the
// server's UDP transport. The table is built once and never mutated; unused
// slots share one bad-response handler.
type ServerResponseHandler struct {
	table [handlerTableLength]transport.ResponseHandler
	log   zerolog.Logger
}

// NewServerResponseHandler builds the dispatcher table: beacon frames are
// ignored at this layer, connection validation and echo are serviced, and
// every other command logs an undecipherable-message notice.
func NewServerResponseHandler(log zerolog.Logger) *ServerResponseHandler {
	h := &ServerResponseHandler{log: log}

	h.table[codec.CmdBeacon] = &noopResponse{responseHandler{"Beacon", log}}
	h.table[codec.CmdConnectionValidation] = &connectionValidationHandler{responseHandler{"Connection validation", log}}
	h.table[codec.CmdEcho] = &echoHandler{responseHandler{"Echo request", log}}

	bad := &badResponse{responseHandler{"Bad response", log}}
	for i := range h.table {
		if h.table[i] == nil {
			h.table[i] = bad
		}
	}
	return h
}

// HandleResponse delegates to the handler registered for command. An
// out-of-range command is logged and dropped without touching the buffer
// cursor; the transport owns repositioning.
func (h *ServerResponseHandler) HandleResponse(from *net.UDPAddr, tr transport.Transport, version byte, command byte, payloadSize uint32, buf *codec.Buffer) {
	if int(command) >= handlerTableLength {
		h.log.Warn().
			Uint8("command", command).
			Str("from", from.String()).
			Msg("Invalid (or unsupported) command")
		return
	}

	h.table[command].HandleResponse(from, tr, version, command, payloadSize, buf)
}
