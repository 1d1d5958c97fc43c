package insteon

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	publishErr    error
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns messages published to topic, in order.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
	return ok
}

// mockInterface implements Interface for testing.
type mockInterface struct {
	mu       sync.Mutex
	name     string
	priority int
	healthy  bool
	status   SendStatus
	sendErr  error
	sent     []Command
	sink     InboundSink
	onSend   func(Command)
}

func newMockInterface(name string, priority int, healthy bool) *mockInterface {
	return &mockInterface{name: name, priority: priority, healthy: healthy}
}

func (m *mockInterface) Name() string  { return m.name }
func (m *mockInterface) Priority() int { return m.priority }

func (m *mockInterface) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *mockInterface) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func (m *mockInterface) Send(_ context.Context, cmd Command) (SendStatus, error) {
	m.mu.Lock()
	m.sent = append(m.sent, cmd)
	status, err, hook := m.status, m.sendErr, m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return status, err
}

func (m *mockInterface) Attach(sink InboundSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *mockInterface) Sent() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.sent))
	copy(out, m.sent)
	return out
}

// mapDirectory implements DeviceDirectory over a fixed map.
type mapDirectory map[string]DeviceRef

func (d mapDirectory) LookupAddress(_ context.Context, address string) (DeviceRef, bool) {
	ref, ok := d[address]
	return ref, ok
}

// recorder captures collaborator callbacks.
type recorder struct {
	mu          sync.Mutex
	accepted    []Command
	finished    []Command
	updates     []StatusUpdate
	discoveries []Discovery
}

func (r *recorder) CommandAccepted(_ context.Context, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, cmd)
}

func (r *recorder) CommandFinished(_ context.Context, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, cmd)
}

func (r *recorder) PublishStatus(_ context.Context, u StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) DeviceDiscovered(_ context.Context, d Discovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoveries = append(r.discoveries, d)
}

func (r *recorder) Finished() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.finished...)
}

// FinishedCommand returns the last finalized command replied for id.
func (r *recorder) FinishedCommand(id string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.finished) - 1; i >= 0; i-- {
		if r.finished[i].RequestID == id {
			return r.finished[i], true
		}
	}
	return Command{}, false
}

func (r *recorder) Accepted() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.accepted...)
}

func (r *recorder) Updates() []StatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusUpdate(nil), r.updates...)
}

func (r *recorder) Discoveries() []Discovery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Discovery(nil), r.discoveries...)
}

// countingMetrics implements Metrics by counting calls.
type countingMetrics struct {
	mu         sync.Mutex
	submitted  map[string]int
	rejected   map[string]int
	finalized  map[string]int
	reconciled map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		submitted:  make(map[string]int),
		rejected:   make(map[string]int),
		finalized:  make(map[string]int),
		reconciled: make(map[string]int),
	}
}

func (m *countingMetrics) CommandSubmitted(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted[label]++
}

func (m *countingMetrics) CommandRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *countingMetrics) CommandFinalized(state string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized[state]++
}

func (m *countingMetrics) ObservationReconciled(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciled[result]++
}

func (m *countingMetrics) Rejected(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[reason]
}

func (m *countingMetrics) Reconciled(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconciled[result]
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errMockSend = errors.New("mock send failure")

func levelPtr(v float64) *float64 { return &v }
