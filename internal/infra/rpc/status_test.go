package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"distributed-matmul/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("queue full: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{&domain.SendError{Err: domain.ErrPayloadTooLarge}, codes.ResourceExhausted},
		{&domain.SendError{Err: domain.ErrInnerDimTooLarge}, codes.ResourceExhausted},
		{domain.ErrInvalidMessage, codes.InvalidArgument},
		{&domain.ReceiveError{Err: domain.ErrChannelClosed}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			st := ToStatus(tt.err)
			if got := status.Code(st); got != tt.code {
				t.Fatalf("expected %v, got %v", tt.code, got)
			}
			back := FromStatus(st)
			if back == nil {
				t.Fatal("expected an error back")
			}
		})
	}
}

func TestFromStatusKeepsDeadline(t *testing.T) {
	err := FromStatus(status.Error(codes.DeadlineExceeded, "slow"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	var timeout *domain.TimeoutError
	if !errors.As(domain.ReceiveFailure(domain.MessageTypeResponse, err), &timeout) {
		t.Errorf("expected a TimeoutError")
	}
}

func TestToStatusNil(t *testing.T) {
	if ToStatus(nil) != nil {
		t.Error("nil should map to nil")
	}
}
