// internal/worker/registry.go
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"distributed-matmul/internal/infra/etcd"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Registry announces a worker node under its channel key so the producer
// can tell that the request queue is being served.
type Registry struct {
	client *clientv3.Client
	logger *slog.Logger
	key    string

	leaseID       clientv3.LeaseID
	stopKeepAlive context.CancelFunc
}

// NewRegistry creates a registry entry for nodeID among the workers of channelKey.
func NewRegistry(client *clientv3.Client, channelKey, nodeID string, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		key:    etcd.WorkersPrefix(channelKey) + nodeID,
		logger: logger.With("component", "worker-registry"),
	}
}

// Key is the etcd key this node registers under.
func (r *Registry) Key() string {
	return r.key
}

// Register writes the node key bound to a lease of ttl seconds and keeps the
// lease alive until Deregister. value is what discoverers see, the pool size.
func (r *Registry) Register(ctx context.Context, value string, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	if _, err := r.client.Put(ctx, r.key, value, clientv3.WithLease(lease.ID)); err != nil {
		_, _ = r.client.Revoke(context.Background(), lease.ID)
		return fmt.Errorf("failed to put worker registration key: %w", err)
	}

	kaCtx, stop := context.WithCancel(context.Background())
	responses, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		stop()
		_, _ = r.client.Revoke(context.Background(), lease.ID)
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}
	r.leaseID = lease.ID
	r.stopKeepAlive = stop

	go r.drainKeepAlive(kaCtx, responses)

	r.logger.Info("worker registered", "key", r.key, "value", value, "ttl", ttl)
	return nil
}

// drainKeepAlive consumes lease refreshes. A closed channel before kaCtx ends
// means the lease is gone and producers no longer see this node.
func (r *Registry) drainKeepAlive(kaCtx context.Context, responses <-chan *clientv3.LeaseKeepAliveResponse) {
	for ka := range responses {
		r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
	}
	if kaCtx.Err() == nil {
		r.logger.Warn("lease keep-alive stopped, registration expired", "key", r.key)
	}
}

// Deregister stops the keep-alive and revokes the lease, deleting the key.
func (r *Registry) Deregister(ctx context.Context) error {
	if r.stopKeepAlive == nil {
		return nil
	}
	r.stopKeepAlive()
	r.logger.Info("deregistering worker", "key", r.key)
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
