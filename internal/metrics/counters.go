// internal/metrics/counters.go
package metrics

import "sync"

const (
	RoleProducer = "producer"
	RoleWorker   = "worker"
)

// Snapshot is a point-in-time copy of a Counters value.
type Snapshot struct {
	Role     string `json:"role"`
	Sent     int64  `json:"sent"`
	Received int64  `json:"received"`
}

// Counters tracks messages crossing the job channel boundary for one role.
// It is diagnostic only and never gates correctness.
type Counters struct {
	role     string
	mu       sync.Mutex
	sent     int64
	received int64
}

// NewCounters creates counters labelled with role.
func NewCounters(role string) *Counters {
	return &Counters{role: role}
}

// IncSent records one sent message.
func (c *Counters) IncSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	MessagesSentTotal.WithLabelValues(c.role).Inc()
}

// IncReceived records one received message.
func (c *Counters) IncReceived() {
	c.mu.Lock()
	c.received++
	c.mu.Unlock()
	MessagesReceivedTotal.WithLabelValues(c.role).Inc()
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Role: c.role, Sent: c.sent, Received: c.received}
}
