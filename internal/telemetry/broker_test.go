package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeProducer struct {
	addr     string
	failures int // number of writes to fail before succeeding
	writes   []kafka.Message
	closed   bool
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("broken pipe")
	}
	p.writes = append(p.writes, msgs...)
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

// newTestBrokerManager wires fakes so no network is touched. producers maps
// broker address to the fake handed out on connect.
func newTestBrokerManager(producers map[string]*fakeProducer, probeOK func(addr string) bool) *BrokerManager {
	m := NewBrokerManager([]string{"kafka-a:9092", "kafka-b:9092"}, 30*time.Second)
	m.newProducer = func(addr string) producer { return producers[addr] }
	if probeOK == nil {
		probeOK = func(string) bool { return true }
	}
	m.probe = probeOK
	return m
}

func TestConnectRotatesBrokers(t *testing.T) {
	producers := map[string]*fakeProducer{
		"kafka-a:9092": {addr: "a"},
		"kafka-b:9092": {addr: "b"},
	}
	m := newTestBrokerManager(producers, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !m.Connected() {
		t.Fatal("manager should be connected")
	}
	m.Close()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	// The rotation advanced; the second connection is to the other broker.
	m.mu.Lock()
	conn := m.conn.(*fakeProducer)
	m.mu.Unlock()
	if conn.addr != "b" {
		t.Errorf("second connection went to %q, want b", conn.addr)
	}
}

func TestConnectProbeFailureMarksBroker(t *testing.T) {
	m := newTestBrokerManager(nil, func(string) bool { return false })

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrNoHealthyBrokers) {
		t.Fatalf("Connect = %v, want ErrNoHealthyBrokers", err)
	}
	if m.tracker.Healthy("kafka-a:9092") {
		t.Error("probed broker should be marked unhealthy")
	}
	if m.Connected() {
		t.Error("manager must stay disconnected after probe failure")
	}
}

func TestPublishRetriesOnceAfterReconnect(t *testing.T) {
	flaky := &fakeProducer{addr: "a", failures: 1}
	healthy := &fakeProducer{addr: "b"}
	producers := map[string]*fakeProducer{
		"kafka-a:9092": flaky,
		"kafka-b:9092": healthy,
	}
	m := newTestBrokerManager(producers, nil)

	if err := m.Publish(context.Background(), "events", []byte(`{"speed":50}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !flaky.closed {
		t.Error("failed connection should be closed and discarded")
	}
	if len(healthy.writes) != 1 {
		t.Fatalf("replacement broker saw %d writes, want 1", len(healthy.writes))
	}
	if healthy.writes[0].Topic != "events" {
		t.Errorf("message topic = %q, want events", healthy.writes[0].Topic)
	}
}

func TestPublishDropsAfterSecondFailure(t *testing.T) {
	producers := map[string]*fakeProducer{
		"kafka-a:9092": {addr: "a", failures: 10},
		"kafka-b:9092": {addr: "b", failures: 10},
	}
	m := newTestBrokerManager(producers, nil)

	err := m.Publish(context.Background(), "events", []byte("x"))
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Publish = %v, want ErrPublishFailed", err)
	}
	// Exactly two write attempts total: original plus one retry.
	attempts := (10 - producers["kafka-a:9092"].failures) + (10 - producers["kafka-b:9092"].failures)
	if attempts != 2 {
		t.Errorf("write attempts = %d, want exactly 2", attempts)
	}
}

func TestPublishNoHealthyBrokers(t *testing.T) {
	m := newTestBrokerManager(nil, func(string) bool { return false })

	err := m.Publish(context.Background(), "events", []byte("x"))
	if !errors.Is(err, ErrNoHealthyBrokers) {
		t.Fatalf("Publish = %v, want ErrNoHealthyBrokers", err)
	}
}
