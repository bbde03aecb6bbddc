package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []string
	bindings   [][3]string
	published  []published
	deliveries chan amqp.Delivery
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.queues = append(f.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, [3]string{name, key, exchange})
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) Published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

// acker records how a delivery was settled
type acker struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	done    chan struct{}
}

func newAcker() *acker { return &acker{done: make(chan struct{})} }

func (a *acker) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	close(a.done)
	return nil
}

func (a *acker) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked, a.requeue = true, requeue
	close(a.done)
	return nil
}

func (a *acker) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

var topology = Topology{
	Exchange:             "factory",
	AssignQueue:          "factory.assign",
	CompletionRoutingKey: "job.completed",
	ResultRoutingKey:     "assign.result",
}

func newTestService(t *testing.T) (*queueService, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	q, err := newQueueService(ch, topology, zaptest.NewLogger(t))
	require.NoError(t, err)
	return q, ch
}

func TestDeclaresTopology(t *testing.T) {
	_, ch := newTestService(t)

	assert.Equal(t, []string{"factory"}, ch.exchanges)
	assert.Equal(t, []string{"factory.assign"}, ch.queues)
	assert.Equal(t, [][3]string{{"factory.assign", "factory.assign", "factory"}}, ch.bindings)
}

func TestPublishCompletion(t *testing.T) {
	q, ch := newTestService(t)
	ev := domain.CompletionEvent{JobID: "job-9", Machine: "machine_a", OrderID: "ORD-001", Schedule: domain.Schedule{}}

	require.NoError(t, q.PublishCompletion(context.Background(), ev))

	msgs := ch.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "factory", msgs[0].exchange)
	assert.Equal(t, "job.completed", msgs[0].key)
	assert.Equal(t, "job-9", msgs[0].msg.MessageId)
	assert.Equal(t, amqp.Persistent, msgs[0].msg.DeliveryMode)

	var decoded domain.CompletionEvent
	require.NoError(t, json.Unmarshal(msgs[0].msg.Body, &decoded))
	assert.Equal(t, "ORD-001", decoded.OrderID)
}

func TestPublishErrorIsReturned(t *testing.T) {
	q, ch := newTestService(t)
	ch.publishErr = errors.New("channel closed")

	err := q.PublishAssignment(context.Background(), domain.AssignRequest{OrderID: "ORD-001"})
	assert.EqualError(t, err, "channel closed")
}

func deliver(t *testing.T, ch *fakeChannel, body []byte, redelivered bool) *acker {
	t.Helper()
	a := newAcker()
	ch.deliveries <- amqp.Delivery{Acknowledger: a, DeliveryTag: 1, Body: body, Redelivered: redelivered}
	return a
}

func waitSettled(t *testing.T, a *acker) {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was never settled")
	}
}

func TestConsumeAssignments(t *testing.T) {
	q, ch := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	handled := make(chan domain.AssignRequest, 4)
	handler := func(_ context.Context, req domain.AssignRequest) (*domain.AssignResult, error) {
		handled <- req
		if req.OrderID == "ORD-500" {
			return nil, errors.New("store unavailable")
		}
		return &domain.AssignResult{Success: true, OrderID: req.OrderID, Machine: "machine_a"}, nil
	}

	done := make(chan error, 1)
	go func() { done <- q.ConsumeAssignments(ctx, handler) }()

	t.Run("valid_command_is_acked_and_answered", func(t *testing.T) {
		body, _ := json.Marshal(domain.AssignRequest{Product: "Widget", Quantity: 3, Machine: "a", OrderID: "ORD-001"})
		a := deliver(t, ch, body, false)
		waitSettled(t, a)

		assert.True(t, a.acked)
		req := <-handled
		assert.Equal(t, "Widget", req.Product)
		msgs := ch.Published()
		require.NotEmpty(t, msgs)
		assert.Equal(t, "assign.result", msgs[len(msgs)-1].key)
	})

	t.Run("malformed_command_is_dropped", func(t *testing.T) {
		a := deliver(t, ch, []byte("{not json"), false)
		waitSettled(t, a)
		assert.True(t, a.nacked)
		assert.False(t, a.requeue)
	})

	t.Run("handler_error_requeues_once", func(t *testing.T) {
		body, _ := json.Marshal(domain.AssignRequest{OrderID: "ORD-500"})
		first := deliver(t, ch, body, false)
		waitSettled(t, first)
		assert.True(t, first.requeue)

		again := deliver(t, ch, body, true)
		waitSettled(t, again)
		assert.False(t, again.requeue)
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumeStopsWhenBrokerClosesChannel(t *testing.T) {
	q, ch := newTestService(t)
	close(ch.deliveries)

	err := q.ConsumeAssignments(context.Background(), func(context.Context, domain.AssignRequest) (*domain.AssignResult, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrDeliveriesClosed)
}
