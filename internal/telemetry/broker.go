package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/velocity-edge/speedgate/internal/monitoring"
)

// ErrPublishFailed is returned when a publish fails on the current
// connection and again after rotating to the next healthy broker. The
// message is dropped; there is no local queue of unsent messages.
var ErrPublishFailed = errors.New("publish failed after broker failover")

// ErrNoHealthyBrokers is returned when no broker passes its health probe.
var ErrNoHealthyBrokers = errors.New("no healthy brokers available")

// producer is the slice of kafka.Writer the manager depends on, narrowed
// for test substitution.
type producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const dialTimeout = 5 * time.Second

// BrokerManager owns the single active broker connection. Connections are
// recreated wholesale on failure, rotating through the healthy brokers;
// there is no pool.
type BrokerManager struct {
	tracker *Tracker[string]

	mu   sync.Mutex
	conn producer

	// newProducer and probe are swappable for tests.
	newProducer func(addr string) producer
	probe       func(addr string) bool
}

// NewBrokerManager creates a manager over the configured broker addresses.
func NewBrokerManager(brokers []string, failoverTimeout time.Duration) *BrokerManager {
	m := &BrokerManager{
		newProducer: newKafkaProducer,
		probe:       probeBroker,
	}
	endpoints := make([]Endpoint[string], 0, len(brokers))
	for _, addr := range brokers {
		endpoints = append(endpoints, Endpoint[string]{ID: addr, Config: addr})
	}
	m.tracker = NewTracker(endpoints, failoverTimeout, func(ep Endpoint[string]) bool {
		return m.probe(ep.Config)
	})
	return m
}

// newKafkaProducer configures a writer for the latency/throughput balance
// this device wants: single-leader acks, bounded transport retries, gzip,
// capped batches, short timeouts, and a small linger so bursts batch.
func newKafkaProducer(addr string) producer {
	return &kafka.Writer{
		Addr:         kafka.TCP(addr),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		Compression:  kafka.Gzip,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// probeBroker dials the broker and asks for its broker list, confirming
// the endpoint speaks the protocol rather than merely accepting TCP.
func probeBroker(addr string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	dialer := &kafka.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()
	_, err = conn.Brokers()
	return err == nil
}

// Connect ensures a live producer exists, taking the next healthy broker
// from the rotation when there is none. The new connection is probed before
// being adopted; a probe failure marks that broker unhealthy and leaves the
// manager disconnected.
func (m *BrokerManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *BrokerManager) connectLocked(_ context.Context) error {
	if m.conn != nil {
		return nil
	}

	ep, ok := m.tracker.Next()
	if !ok {
		return ErrNoHealthyBrokers
	}

	if !m.probe(ep.Config) {
		m.tracker.MarkFailed(ep.ID)
		monitoring.Logf("broker %s failed liveness probe", ep.ID)
		return ErrNoHealthyBrokers
	}

	m.conn = m.newProducer(ep.Config)
	monitoring.Logf("connected to broker %s", ep.ID)
	return nil
}

// Connected reports whether a live producer is held.
func (m *BrokerManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Publish sends one message synchronously. On transport failure the current
// connection is discarded, the rotation provides the next healthy broker,
// and the publish is retried exactly once. A second failure drops the
// message and returns ErrPublishFailed.
func (m *BrokerManager) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(ctx); err != nil {
		return err
	}

	msg := kafka.Message{Topic: topic, Value: payload}
	err := m.conn.WriteMessages(ctx, msg)
	if err == nil {
		return nil
	}
	monitoring.Logf("publish to %s failed: %v", topic, err)

	m.dropConnLocked()
	if err := m.connectLocked(ctx); err != nil {
		return ErrPublishFailed
	}
	if err := m.conn.WriteMessages(ctx, msg); err != nil {
		monitoring.Logf("publish retry to %s failed, dropping message: %v", topic, err)
		return ErrPublishFailed
	}
	return nil
}

func (m *BrokerManager) dropConnLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// Close releases the active connection if any.
func (m *BrokerManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
