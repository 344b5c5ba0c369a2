// internal/infra/etcd/etcd_job_channel.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"

	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/wire"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobChannel is a domain.JobChannel stored in etcd, with one queue per
// message type under the channel key. Messages are ordered by create
// revision and a receive claims the oldest one with a transaction, so each
// message is consumed exactly once.
type JobChannel struct {
	client      *clientv3.Client
	channelKey  string
	maxInnerDim int
	codec       *wire.Codec
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewJobChannel returns a job channel stored in etcd under channelKey.
// The client is owned by the caller.
func NewJobChannel(client *clientv3.Client, channelKey string, maxInnerDim int, logger *slog.Logger) *JobChannel {
	return &JobChannel{
		client:      client,
		channelKey:  channelKey,
		maxInnerDim: maxInnerDim,
		codec:       wire.NewCodec(maxInnerDim),
		logger:      logger.With("component", "etcd-job-channel", "channel_key", channelKey),
		tracer:      otel.Tracer("distributed-matmul-etcd-channel"),
	}
}

// Send stores msg under a fresh key in its type's queue.
func (c *JobChannel) Send(ctx context.Context, msg *domain.Message) error {
	ctx, span := c.tracer.Start(ctx, "channel.etcd.Send", trace.WithAttributes(
		attribute.Int("job.id", msg.JobID),
		attribute.String("message.type", msg.Type.String()),
	))
	defer span.End()

	if err := msg.Validate(c.maxInnerDim); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid message")
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: err}
	}
	b, err := c.codec.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode message")
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: err}
	}

	key := QueuePrefix(c.channelKey, msg.Type) + uuid.NewString()
	span.SetAttributes(attribute.String("etcd.key", key))
	if _, err := c.client.Put(ctx, key, string(b)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put message to etcd")
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: fmt.Errorf("failed to put message to etcd: %w", err)}
	}
	return nil
}

// Receive claims the oldest message of type t, watching for new ones while the queue is empty.
func (c *JobChannel) Receive(ctx context.Context, t domain.MessageType) (*domain.Message, error) {
	prefix := QueuePrefix(c.channelKey, t)

	for {
		resp, err := c.client.Get(ctx, prefix,
			clientv3.WithPrefix(),
			clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
			clientv3.WithLimit(1),
		)
		if err != nil {
			return nil, c.receiveFailure(ctx, t, fmt.Errorf("failed to read queue: %w", err))
		}

		if len(resp.Kvs) > 0 {
			kv := resp.Kvs[0]
			key := string(kv.Key)
			txn, err := c.client.Txn(ctx).
				If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
				Then(clientv3.OpDelete(key)).
				Commit()
			if err != nil {
				return nil, c.receiveFailure(ctx, t, fmt.Errorf("failed to claim %s: %w", key, err))
			}
			if !txn.Succeeded {
				// Another consumer claimed it first.
				continue
			}

			msg, err := c.codec.Decode(kv.Value)
			if err != nil {
				c.logger.Warn("discarding undecodable message", "key", key, "error", err)
				continue
			}
			return msg, nil
		}

		if err := c.waitForPut(ctx, prefix, resp.Header.Revision+1); err != nil {
			return nil, c.receiveFailure(ctx, t, err)
		}
	}
}

// waitForPut returns once a key is created under prefix at or after rev.
func (c *JobChannel) waitForPut(ctx context.Context, prefix string, rev int64) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wch := c.client.Watch(wctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(rev), clientv3.WithFilterDelete())
	for {
		select {
		case wresp, ok := <-wch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return domain.ErrChannelClosed
			}
			if wresp.CompactRevision != 0 {
				// History compacted past rev; re-read the queue.
				return nil
			}
			if err := wresp.Err(); err != nil {
				return fmt.Errorf("watch failed: %w", err)
			}
			if len(wresp.Events) > 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *JobChannel) receiveFailure(ctx context.Context, t domain.MessageType, err error) error {
	if ctx.Err() != nil {
		return domain.ReceiveFailure(t, ctx.Err())
	}
	return domain.ReceiveFailure(t, err)
}

// Purge removes every queued message of type t.
func (c *JobChannel) Purge(ctx context.Context, t domain.MessageType) (int64, error) {
	resp, err := c.client.Delete(ctx, QueuePrefix(c.channelKey, t), clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s queue: %w", t, err)
	}
	return resp.Deleted, nil
}

// Close is a no-op; the etcd client belongs to the caller.
func (c *JobChannel) Close() error {
	return nil
}
