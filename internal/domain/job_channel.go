// internal/domain/job_channel.go
package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned by a channel that refuses a message because of its size.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrChannelClosed is returned once a channel has been closed.
	ErrChannelClosed = errors.New("job channel closed")
	// ErrUnexpectedResponse is returned when a response targets a cell outside the grid or one already written.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrNoWorkers is returned when no worker has registered for a channel key.
	ErrNoWorkers = errors.New("no workers registered")
)

// JobChannel is a typed FIFO transport shared by the producer and the worker pool.
type JobChannel interface {
	// Send enqueues msg. It returns a *SendError if the message is rejected.
	Send(ctx context.Context, msg *Message) error
	// Receive blocks until a message of type t is available. It returns a
	// *TimeoutError when ctx's deadline passes and a *ReceiveError otherwise.
	Receive(ctx context.Context, t MessageType) (*Message, error)
	Close() error
}

// SendError reports a message the channel refused.
type SendError struct {
	Type  MessageType
	JobID int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("could not send %s for job %d: %v", e.Type, e.JobID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports a failed receive.
type ReceiveError struct {
	Type MessageType
	Err  error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("could not receive %s: %v", e.Type, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// TimeoutError reports a receive that outlived its deadline.
type TimeoutError struct {
	Type MessageType
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s: %v", e.Type, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ReceiveFailure converts a context or transport error into the matching receive error.
func ReceiveFailure(t MessageType, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Type: t, Err: err}
	}
	return &ReceiveError{Type: t, Err: err}
}
