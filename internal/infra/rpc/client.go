// internal/infra/rpc/client.go
package rpc

import (
	"context"
	"fmt"

	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/wire"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a domain.JobChannel backed by a remote broker.
type Client struct {
	conn  *grpc.ClientConn
	codec *wire.Codec
}

// Dial connects to the broker at addr.
func Dial(addr string, maxInnerDim int, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to job channel at %s: %w", addr, err)
	}
	return &Client{conn: conn, codec: wire.NewCodec(maxInnerDim)}, nil
}

// WaitReady connects and blocks until the broker is reachable or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("job channel at %s not ready (last state %s): %w", c.conn.Target(), state, ctx.Err())
		}
	}
}

// Send encodes msg and hands it to the broker.
func (c *Client) Send(ctx context.Context, msg *domain.Message) error {
	b, err := c.codec.Encode(msg)
	if err != nil {
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: err}
	}
	if err := c.conn.Invoke(ctx, sendMethod, wrapperspb.Bytes(b), new(emptypb.Empty)); err != nil {
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: FromStatus(err)}
	}
	return nil
}

// Receive blocks on the broker until a message of type t is available.
func (c *Client) Receive(ctx context.Context, t domain.MessageType) (*domain.Message, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, receiveMethod, wrapperspb.UInt32(uint32(t)), out); err != nil {
		return nil, domain.ReceiveFailure(t, FromStatus(err))
	}
	msg, err := c.codec.Decode(out.GetValue())
	if err != nil {
		return nil, &domain.ReceiveError{Type: t, Err: err}
	}
	if msg.Type != t {
		return nil, &domain.ReceiveError{Type: t, Err: fmt.Errorf("%w: broker returned %s", domain.ErrInvalidMessage, msg.Type)}
	}
	return msg, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
