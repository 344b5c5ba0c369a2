// internal/infra/etcd/client.go
package etcd

import (
	"context"
	"fmt"
	"path"
	"time"

	"distributed-matmul/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// RootDir is the etcd prefix under which every channel key lives.
const RootDir = "/matmul/"

// NewClient connects to etcd and verifies that the cluster answers.
func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := cli.Get(ctx, RootDir, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd at %v is unreachable: %w", endpoints, err)
	}
	return cli, nil
}

// QueuePrefix is where messages of type t for channelKey are stored.
func QueuePrefix(channelKey string, t domain.MessageType) string {
	return path.Join(RootDir, channelKey, "queue", fmt.Sprintf("%d", t)) + "/"
}

// WorkersPrefix is where workers serving channelKey register.
func WorkersPrefix(channelKey string) string {
	return path.Join(RootDir, channelKey, "workers") + "/"
}

// ProducerLockKey is the mutex guarding the single producer of channelKey.
func ProducerLockKey(channelKey string) string {
	return path.Join(RootDir, channelKey, "producer")
}
