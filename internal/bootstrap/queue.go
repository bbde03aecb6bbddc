package bootstrap

import (
	"context"
	"errors"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

// ErrNoBroker is returned when rabbitmq.url is not configured
var ErrNoBroker = errors.New("rabbitmq.url is not configured")

// Topology maps the rabbitmq config section onto the queue topology
func Topology(cfg *config.RabbitMQ) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchange:             cfg.Exchange,
		AssignQueue:          cfg.AssignQueue,
		CompletionRoutingKey: cfg.CompletionRoutingKey,
		ResultRoutingKey:     cfg.ResultRoutingKey,
	}
}

// OpenQueue dials the configured broker
func OpenQueue(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (port.QueueService, error) {
	if cfg.RabbitMQ == nil || cfg.RabbitMQ.URL == "" {
		return nil, ErrNoBroker
	}
	return rabbitmq.NewQueueService(ctx, cfg.RabbitMQ.URL, Topology(cfg.RabbitMQ), log.Named("rabbitmq"))
}
