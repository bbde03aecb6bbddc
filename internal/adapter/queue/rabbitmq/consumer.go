package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed is returned when the broker closes the consumer
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// ConsumeAssignments runs handler for every command on the assignment queue
// and publishes its result. It blocks until ctx is cancelled.
func (q *queueService) ConsumeAssignments(ctx context.Context, handler port.AssignHandler) error {
	qName := q.topology.AssignQueue

	// one command at a time keeps assignments in arrival order
	if err := q.ch.Qos(1, 0, false); err != nil {
		return err
	}

	msgs, err := q.ch.Consume(
		qName, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return err
	}

	q.log.Info("Started consuming assignments", zap.String("queue", qName))

	for {
		select {
		case <-ctx.Done():
			q.log.Info("Stopped consuming assignments", zap.String("queue", qName))
			return nil
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			q.handleDelivery(ctx, d, handler)
		}
	}
}

func (q *queueService) handleDelivery(ctx context.Context, d amqp.Delivery, handler port.AssignHandler) {
	var req domain.AssignRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		q.log.Error("Failed to unmarshal assignment", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	q.log.Info("Received assignment", zap.String("order_id", req.OrderID), zap.String("machine", req.Machine))

	result, err := handler(ctx, req)
	if err != nil {
		// store failures are transient, let another attempt run
		q.log.Error("Assignment handling failed", zap.String("order_id", req.OrderID), zap.Error(err))
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	if err := q.PublishResult(ctx, result); err != nil {
		q.log.Warn("Result not published", zap.String("order_id", req.OrderID), zap.Error(err))
	}
	_ = d.Ack(false)
}
