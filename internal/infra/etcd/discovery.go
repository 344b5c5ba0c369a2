// internal/infra/etcd/discovery.go
package etcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"distributed-matmul/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// WorkerDiscovery tracks the worker nodes registered for a channel key.
type WorkerDiscovery struct {
	client *clientv3.Client
	prefix string
	logger *slog.Logger

	mu      sync.RWMutex
	workers map[string]string // node key -> advertised value
	changed chan struct{}
}

// NewWorkerDiscovery creates a discovery for the workers of channelKey.
func NewWorkerDiscovery(client *clientv3.Client, channelKey string, logger *slog.Logger) *WorkerDiscovery {
	return &WorkerDiscovery{
		client:  client,
		prefix:  WorkersPrefix(channelKey),
		logger:  logger.With("component", "worker-discovery"),
		workers: make(map[string]string),
		changed: make(chan struct{}),
	}
}

// WatchWorkers loads the current registrations and then follows changes
// until ctx ends. It blocks and should be run in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) error {
	resp, err := d.client.Get(ctx, d.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	d.mu.Lock()
	for _, kv := range resp.Kvs {
		d.logger.Info("found existing worker", "key", string(kv.Key), "value", string(kv.Value))
		d.workers[string(kv.Key)] = string(kv.Value)
	}
	d.notifyLocked()
	d.mu.Unlock()

	watchChan := d.client.Watch(ctx, d.prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	for watchResp := range watchChan {
		if err := watchResp.Err(); err != nil {
			return fmt.Errorf("worker watch failed: %w", err)
		}
		d.mu.Lock()
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			switch event.Type {
			case clientv3.EventTypePut:
				if _, ok := d.workers[key]; !ok {
					d.logger.Info("new worker discovered", "key", key, "value", string(event.Kv.Value))
				}
				d.workers[key] = string(event.Kv.Value)
			case clientv3.EventTypeDelete:
				d.logger.Info("worker deregistered", "key", key)
				delete(d.workers, key)
			}
		}
		d.notifyLocked()
		d.mu.Unlock()
	}
	return ctx.Err()
}

func (d *WorkerDiscovery) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// Count returns the number of currently registered workers.
func (d *WorkerDiscovery) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.workers)
}

// WaitForWorkers blocks until at least one worker is registered. It returns
// domain.ErrNoWorkers if ctx ends first. WatchWorkers must be running.
func (d *WorkerDiscovery) WaitForWorkers(ctx context.Context) (int, error) {
	for {
		d.mu.RLock()
		n, changed := len(d.workers), d.changed
		d.mu.RUnlock()
		if n > 0 {
			return n, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, domain.ErrNoWorkers
			}
			return 0, ctx.Err()
		}
	}
}
