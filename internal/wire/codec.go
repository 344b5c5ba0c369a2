// Package wire encodes job channel messages as length-prefixed binary records.
//
// Layout (big-endian):
//
//	type      uint8
//	jobId     int64
//	row       int64
//	col       int64
//	innerDim  int64
//	count     uint32
//	payload   count x int64
package wire

import (
	"encoding/binary"
	"fmt"

	"distributed-matmul/internal/domain"
)

// HeaderSize is the fixed number of bytes preceding the payload.
const HeaderSize = 1 + 4*8 + 4

const valueSize = 8

// Codec bounds the payload length it will produce or accept.
type Codec struct {
	maxPayload int
}

// NewCodec returns a codec accepting payloads of at most 2*maxInnerDim values.
func NewCodec(maxInnerDim int) *Codec {
	if maxInnerDim <= 0 {
		maxInnerDim = domain.DefaultMaxInnerDim
	}
	return &Codec{maxPayload: 2 * maxInnerDim}
}

// MaxPayload returns the payload capacity in values.
func (c *Codec) MaxPayload() int {
	return c.maxPayload
}

// Size returns the transmitted size of msg in bytes.
func Size(msg *domain.Message) int {
	return HeaderSize + valueSize*len(msg.Payload)
}

// Encode serializes msg. Payloads beyond capacity are rejected, never truncated.
func (c *Codec) Encode(msg *domain.Message) ([]byte, error) {
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %d", domain.ErrInvalidMessage, msg.Type)
	}
	if len(msg.Payload) > c.maxPayload {
		return nil, fmt.Errorf("%w: %d values exceeds capacity %d", domain.ErrPayloadTooLarge, len(msg.Payload), c.maxPayload)
	}

	buf := make([]byte, Size(msg))
	buf[0] = byte(msg.Type)
	binary.BigEndian.PutUint64(buf[1:], uint64(int64(msg.JobID)))
	binary.BigEndian.PutUint64(buf[9:], uint64(int64(msg.Row)))
	binary.BigEndian.PutUint64(buf[17:], uint64(int64(msg.Col)))
	binary.BigEndian.PutUint64(buf[25:], uint64(int64(msg.InnerDim)))
	binary.BigEndian.PutUint32(buf[33:], uint32(len(msg.Payload)))
	off := HeaderSize
	for _, v := range msg.Payload {
		binary.BigEndian.PutUint64(buf[off:], uint64(int64(v)))
		off += valueSize
	}
	return buf, nil
}

// Decode parses a record produced by Encode.
func (c *Codec) Decode(b []byte) (*domain.Message, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", domain.ErrInvalidMessage, len(b))
	}
	msg := &domain.Message{
		Type:     domain.MessageType(b[0]),
		JobID:    int(int64(binary.BigEndian.Uint64(b[1:]))),
		Row:      int(int64(binary.BigEndian.Uint64(b[9:]))),
		Col:      int(int64(binary.BigEndian.Uint64(b[17:]))),
		InnerDim: int(int64(binary.BigEndian.Uint64(b[25:]))),
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %d", domain.ErrInvalidMessage, b[0])
	}

	count := int(binary.BigEndian.Uint32(b[33:]))
	if count > c.maxPayload {
		return nil, fmt.Errorf("%w: %d values exceeds capacity %d", domain.ErrPayloadTooLarge, count, c.maxPayload)
	}
	if want := HeaderSize + count*valueSize; len(b) != want {
		return nil, fmt.Errorf("%w: record is %d bytes, expected %d", domain.ErrInvalidMessage, len(b), want)
	}

	msg.Payload = make([]int, count)
	off := HeaderSize
	for i := range msg.Payload {
		msg.Payload[i] = int(int64(binary.BigEndian.Uint64(b[off:])))
		off += valueSize
	}
	return msg, nil
}
