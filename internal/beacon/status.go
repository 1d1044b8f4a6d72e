package beacon

import (
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"pvanet/internal/codec"
)

// Status descriptor codes terminating the fixed beacon fields. A beacon
// without status carries only the null descriptor.
const (
	nullDescriptor byte = 0xFF
	fullDescriptor byte = 0xFD
)

// writeStatus appends the status block: the null descriptor, or the full
// descriptor followed by a length-prefixed msgpack encoding of status. A
// value that fails to marshal degrades to a status-less beacon.
func writeStatus(buf *codec.Buffer, status interface{}, log zerolog.Logger) {
	if status == nil {
		buf.PutByte(nullDescriptor)
		return
	}

	data, err := msgpack.Marshal(status)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal server status")
		buf.PutByte(nullDescriptor)
		return
	}

	buf.PutByte(fullDescriptor)
	buf.PutUint32(uint32(len(data)))
	buf.PutBytes(data)
}
