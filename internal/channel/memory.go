// internal/channel/memory.go
package channel

import (
	"context"
	"fmt"
	"sync"

	"distributed-matmul/internal/domain"
)

// DefaultCapacity is the per-type queue depth used when none is configured.
const DefaultCapacity = 1024

// Channel is an in-process JobChannel holding one bounded FIFO per message type.
// Send blocks while the target queue is full.
type Channel struct {
	queues      map[domain.MessageType]chan *domain.Message
	maxInnerDim int
	done        chan struct{}
	closeOnce   sync.Once
}

// New creates a channel with the given per-type capacity.
func New(capacity, maxInnerDim int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxInnerDim <= 0 {
		maxInnerDim = domain.DefaultMaxInnerDim
	}
	return &Channel{
		queues: map[domain.MessageType]chan *domain.Message{
			domain.MessageTypeRequest:  make(chan *domain.Message, capacity),
			domain.MessageTypeResponse: make(chan *domain.Message, capacity),
		},
		maxInnerDim: maxInnerDim,
		done:        make(chan struct{}),
	}
}

// Send enqueues a copy of msg on the queue for its type.
func (c *Channel) Send(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(c.maxInnerDim); err != nil {
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: err}
	}
	select {
	case <-c.done:
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: domain.ErrChannelClosed}
	default:
	}

	q := c.queues[msg.Type]
	select {
	case q <- clone(msg):
		return nil
	case <-c.done:
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: domain.ErrChannelClosed}
	case <-ctx.Done():
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: fmt.Errorf("queue full: %w", ctx.Err())}
	}
}

// Receive dequeues the oldest message of type t, blocking until one arrives.
func (c *Channel) Receive(ctx context.Context, t domain.MessageType) (*domain.Message, error) {
	q, ok := c.queues[t]
	if !ok {
		return nil, &domain.ReceiveError{Type: t, Err: fmt.Errorf("%w: unknown type %d", domain.ErrInvalidMessage, t)}
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.ReceiveFailure(t, err)
	}
	select {
	case msg := <-q:
		return msg, nil
	case <-c.done:
		return nil, &domain.ReceiveError{Type: t, Err: domain.ErrChannelClosed}
	case <-ctx.Done():
		return nil, domain.ReceiveFailure(t, ctx.Err())
	}
}

// Len returns the number of queued messages of type t.
func (c *Channel) Len(t domain.MessageType) int {
	return len(c.queues[t])
}

// Close wakes all blocked callers; subsequent operations fail with ErrChannelClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func clone(msg *domain.Message) *domain.Message {
	cp := *msg
	cp.Payload = append([]int(nil), msg.Payload...)
	return &cp
}
