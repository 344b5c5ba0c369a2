// internal/worker/server.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/infra/rpc"
	"distributed-matmul/internal/wire"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exposes a local job channel to remote producers over gRPC.
type Server struct {
	channel domain.JobChannel
	codec   *wire.Codec
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ rpc.JobChannelServer = (*Server)(nil)

// NewServer creates a broker serving ch.
func NewServer(ch domain.JobChannel, maxInnerDim int, logger *slog.Logger) *Server {
	return &Server{
		channel: ch,
		codec:   wire.NewCodec(maxInnerDim),
		logger:  logger.With("component", "grpc-server"),
		tracer:  otel.Tracer("distributed-matmul-broker"),
	}
}

// Send decodes a message and enqueues it on the local channel.
func (s *Server) Send(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	ctx, span := s.tracer.Start(ctx, "broker.Send")
	defer span.End()

	msg, err := s.codec.Decode(in.GetValue())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid message")
		s.logger.Warn("rejected undecodable message", "size", len(in.GetValue()), "error", err)
		return nil, rpc.ToStatus(err)
	}
	span.SetAttributes(attribute.Int("job.id", msg.JobID), attribute.String("message.type", msg.Type.String()))

	if err := s.channel.Send(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, rpc.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Receive blocks until a message of the requested type is available. A
// message dequeued after the caller went away is put back on the queue.
func (s *Server) Receive(ctx context.Context, in *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	if in.GetValue() > math.MaxUint8 {
		return nil, rpc.ToStatus(fmt.Errorf("%w: unknown type %d", domain.ErrInvalidMessage, in.GetValue()))
	}
	t := domain.MessageType(in.GetValue())
	ctx, span := s.tracer.Start(ctx, "broker.Receive", trace.WithAttributes(attribute.String("message.type", t.String())))
	defer span.End()

	if !t.Valid() {
		err := fmt.Errorf("%w: unknown type %d", domain.ErrInvalidMessage, in.GetValue())
		span.RecordError(err)
		return nil, rpc.ToStatus(err)
	}

	msg, err := s.channel.Receive(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "receive failed")
		return nil, rpc.ToStatus(err)
	}
	span.SetAttributes(attribute.Int("job.id", msg.JobID))

	if ctx.Err() != nil {
		s.requeue(span, msg)
		return nil, rpc.ToStatus(ctx.Err())
	}

	b, err := s.codec.Encode(msg)
	if err != nil {
		s.logger.Error("dropping message that cannot be encoded", "job_id", msg.JobID, "error", err)
		span.RecordError(err)
		return nil, rpc.ToStatus(err)
	}
	return wrapperspb.Bytes(b), nil
}

// requeue returns a message whose receiver is gone to the tail of its queue.
func (s *Server) requeue(span trace.Span, msg *domain.Message) {
	if err := s.channel.Send(context.Background(), msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "requeue failed")
		s.logger.Error("lost message after canceled receive", "job_id", msg.JobID, "type", msg.Type.String(), "error", err)
		return
	}
	s.logger.Warn("receiver canceled, message requeued", "job_id", msg.JobID, "type", msg.Type.String())
}
