// internal/domain/message.go
package domain

import (
	"errors"
	"fmt"
)

// MessageType discriminates requests from responses on the job channel.
type MessageType uint8

const (
	MessageTypeRequest  MessageType = 1
	MessageTypeResponse MessageType = 2
)

// DefaultMaxInnerDim matches a 100-slot payload holding interleaved pairs.
const DefaultMaxInnerDim = 50

var (
	// ErrInnerDimTooLarge is returned when 2*innerDim would exceed the payload capacity.
	ErrInnerDimTooLarge = errors.New("inner dimension exceeds payload capacity")
	// ErrInvalidMessage is returned for structurally malformed messages.
	ErrInvalidMessage = errors.New("invalid message")
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeRequest || t == MessageTypeResponse
}

// Message is the record exchanged over a JobChannel. A request carries the
// interleaved operand pairs (a0, b0, a1, b1, ...); a response carries [sum].
// Row and Col of a response are authoritative for where the sum belongs.
type Message struct {
	Type     MessageType `json:"type"`
	JobID    int         `json:"job_id"`
	Row      int         `json:"row"`
	Col      int         `json:"col"`
	InnerDim int         `json:"inner_dim"`
	Payload  []int       `json:"payload"`
}

// NewRequest builds a request for cell (row, col) from a row of A and a column of B.
func NewRequest(jobID, row, col int, a, b []int, maxInnerDim int) (*Message, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: operand lengths differ (%d != %d)", ErrInvalidMessage, len(a), len(b))
	}
	if len(a) == 0 {
		return nil, fmt.Errorf("%w: inner dimension must be positive", ErrInvalidMessage)
	}
	if len(a) > maxInnerDim {
		return nil, fmt.Errorf("%w: %d > %d", ErrInnerDimTooLarge, len(a), maxInnerDim)
	}

	payload := make([]int, 0, 2*len(a))
	for k := range a {
		payload = append(payload, a[k], b[k])
	}
	return &Message{
		Type:     MessageTypeRequest,
		JobID:    jobID,
		Row:      row,
		Col:      col,
		InnerDim: len(a),
		Payload:  payload,
	}, nil
}

// NewResponse answers req with sum, echoing its job id and coordinates.
func NewResponse(req *Message, sum int) *Message {
	return &Message{
		Type:     MessageTypeResponse,
		JobID:    req.JobID,
		Row:      req.Row,
		Col:      req.Col,
		InnerDim: req.InnerDim,
		Payload:  []int{sum},
	}
}

// Cell returns the destination cell carried by the message.
func (m *Message) Cell() Cell {
	return Cell{Row: m.Row, Col: m.Col}
}

// Terms returns the request's (a_k, b_k) operand pairs.
func (m *Message) Terms() [][2]int {
	n := min(m.InnerDim, len(m.Payload)/2)
	terms := make([][2]int, 0, max(n, 0))
	for k := 0; k < n; k++ {
		terms = append(terms, [2]int{m.Payload[2*k], m.Payload[2*k+1]})
	}
	return terms
}

// DotProduct sums a_k*b_k over the request's terms. Overflow wraps.
func (m *Message) DotProduct() int {
	sum := 0
	for _, t := range m.Terms() {
		sum += t[0] * t[1]
	}
	return sum
}

// Sum returns the value carried by a response.
func (m *Message) Sum() int {
	if len(m.Payload) == 0 {
		return 0
	}
	return m.Payload[0]
}

// Validate checks the message shape against maxInnerDim.
func (m *Message) Validate(maxInnerDim int) error {
	switch m.Type {
	case MessageTypeRequest:
		if m.InnerDim <= 0 {
			return fmt.Errorf("%w: job %d has inner dimension %d", ErrInvalidMessage, m.JobID, m.InnerDim)
		}
		if m.InnerDim > maxInnerDim {
			return fmt.Errorf("%w: job %d has inner dimension %d > %d", ErrInnerDimTooLarge, m.JobID, m.InnerDim, maxInnerDim)
		}
		if len(m.Payload) != 2*m.InnerDim {
			return fmt.Errorf("%w: job %d payload has %d values, expected %d", ErrInvalidMessage, m.JobID, len(m.Payload), 2*m.InnerDim)
		}
	case MessageTypeResponse:
		if len(m.Payload) != 1 {
			return fmt.Errorf("%w: response %d payload has %d values, expected 1", ErrInvalidMessage, m.JobID, len(m.Payload))
		}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidMessage, m.Type)
	}
	if m.Row < 0 || m.Col < 0 {
		return fmt.Errorf("%w: negative cell %s", ErrInvalidMessage, m.Cell())
	}
	return nil
}
