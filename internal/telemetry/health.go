// Package telemetry ships correlated events off the device: media uploads to
// redundant object-storage backends, structured publishes to redundant
// message brokers, and the dispatcher loop that drives both.
package telemetry

import (
	"sync"
	"time"
)

// Endpoint pairs an identifier with its endpoint-specific configuration.
// The same shape serves brokers (config is the address) and storage
// backends.
type Endpoint[C any] struct {
	ID     string
	Config C
}

// Probe reports whether an endpoint is currently reachable. Probes run a
// lightweight connectivity check and must bound their own latency.
type Probe[C any] func(ep Endpoint[C]) bool

// Tracker implements round-robin selection with health filtering over a
// fixed, configured-order set of redundant endpoints. An endpoint marked
// failed is skipped until failoverTimeout has elapsed since the last
// failure, at which point it is reprobed and may recover.
type Tracker[C any] struct {
	failoverTimeout time.Duration
	probe           Probe[C]

	mu          sync.Mutex
	endpoints   []Endpoint[C]
	health      map[string]bool
	lastFailure time.Time
	// next is a wrapping counter, deliberately never reset: failover
	// continues the rotation rather than restarting preference at the
	// first endpoint. Wrap-around is unreachable on device lifetime.
	next uint64

	now func() time.Time
}

// NewTracker creates a tracker over endpoints in their configured order.
// All endpoints start healthy.
func NewTracker[C any](endpoints []Endpoint[C], failoverTimeout time.Duration, probe Probe[C]) *Tracker[C] {
	health := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		health[ep.ID] = true
	}
	return &Tracker[C]{
		failoverTimeout: failoverTimeout,
		probe:           probe,
		endpoints:       endpoints,
		health:          health,
		now:             time.Now,
	}
}

// Next returns the next healthy endpoint in rotation. When the failover
// timeout has elapsed since the last recorded failure, every unhealthy
// endpoint is reprobed first; this keeps a dead endpoint from being
// hammered on every call. ok is false when no endpoint is healthy.
func (t *Tracker[C]) Next() (Endpoint[C], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshLocked()

	healthy := make([]Endpoint[C], 0, len(t.endpoints))
	for _, ep := range t.endpoints {
		if t.health[ep.ID] {
			healthy = append(healthy, ep)
		}
	}
	if len(healthy) == 0 {
		var zero Endpoint[C]
		return zero, false
	}

	ep := healthy[t.next%uint64(len(healthy))]
	t.next++
	return ep, true
}

// refresh reprobes unhealthy endpoints when the failover timeout has
// elapsed since the last recorded failure. Callers that select endpoints
// without going through Next use it to give failed endpoints the same
// chance to recover.
func (t *Tracker[C]) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked()
}

func (t *Tracker[C]) refreshLocked() {
	if t.now().Sub(t.lastFailure) <= t.failoverTimeout {
		return
	}
	for _, ep := range t.endpoints {
		if !t.health[ep.ID] && t.probe != nil {
			t.health[ep.ID] = t.probe(ep)
		}
	}
}

// MarkFailed records an operation failure against an endpoint. The endpoint
// is skipped until the failover timeout elapses and a probe succeeds.
func (t *Tracker[C]) MarkFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.health[id] = false
	t.lastFailure = t.now()
}

// Healthy reports the current health flag for an endpoint without probing.
func (t *Tracker[C]) Healthy(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health[id]
}

// Endpoints returns the configured endpoint set in its original order.
func (t *Tracker[C]) Endpoints() []Endpoint[C] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Endpoint[C](nil), t.endpoints...)
}
