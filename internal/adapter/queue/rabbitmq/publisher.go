package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Topology names the exchange, queue and routing keys the runtime uses
type Topology struct {
	Exchange             string
	AssignQueue          string
	CompletionRoutingKey string
	ResultRoutingKey     string
}

// channel is the part of *amqp.Channel the service drives
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type queueService struct {
	conn     *amqp.Connection
	ch       channel
	topology Topology
	log      *zap.Logger
}

const maxRetries = 10

// NewQueueService dials url, retrying with an incremental backoff, and
// declares the factory topology.
func NewQueueService(ctx context.Context, url string, topology Topology, log *zap.Logger) (port.QueueService, error) {
	var err error
	for i := 1; i <= maxRetries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			var ch *amqp.Channel
			ch, err = conn.Channel()
			if err == nil {
				q, derr := newQueueService(ch, topology, log)
				if derr != nil {
					conn.Close()
					return nil, derr
				}
				q.conn = conn
				return q, nil
			}
			conn.Close()
		}

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i*2) * time.Second):
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

func newQueueService(ch channel, topology Topology, log *zap.Logger) (*queueService, error) {
	q := &queueService{ch: ch, topology: topology, log: log}
	if err := q.declare(); err != nil {
		return nil, err
	}
	return q, nil
}

// declare sets up a durable topic exchange and the assignment work queue
func (q *queueService) declare() error {
	t := q.topology
	if err := q.ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := q.ch.QueueDeclare(t.AssignQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.AssignQueue, err)
	}
	if err := q.ch.QueueBind(t.AssignQueue, t.AssignQueue, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.AssignQueue, err)
	}
	return nil
}

func (q *queueService) publish(ctx context.Context, key, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	err = q.ch.PublishWithContext(ctx,
		q.topology.Exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		q.log.Error("Failed to publish message", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// PublishCompletion announces a finished job to the decision agents
func (q *queueService) PublishCompletion(ctx context.Context, event domain.CompletionEvent) error {
	if err := q.publish(ctx, q.topology.CompletionRoutingKey, event.JobID, event); err != nil {
		return err
	}
	q.log.Info("Published completion",
		zap.String("job_id", event.JobID),
		zap.String("machine", event.Machine),
		zap.String("order_id", event.OrderID))
	return nil
}

// PublishAssignment enqueues an assignment command for the runtime
func (q *queueService) PublishAssignment(ctx context.Context, req domain.AssignRequest) error {
	if err := q.publish(ctx, q.topology.AssignQueue, req.OrderID, req); err != nil {
		return err
	}
	q.log.Info("Published assignment", zap.String("order_id", req.OrderID), zap.String("machine", req.Machine))
	return nil
}

// PublishResult reports the outcome of a consumed assignment command
func (q *queueService) PublishResult(ctx context.Context, result *domain.AssignResult) error {
	return q.publish(ctx, q.topology.ResultRoutingKey, result.OrderID, result)
}

func (q *queueService) Close() error {
	if err := q.ch.Close(); err != nil {
		q.log.Warn("Failed to close channel", zap.Error(err))
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
