// Package decision provides the decision callbacks the runtime can notify
// when a job completes.
package decision

import (
	"context"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

// NewLogCallback writes the completion prompt to the log. It is the
// fallback agent when no broker is configured.
func NewLogCallback(log *zap.Logger) port.DecisionCallback {
	return port.DecisionCallbackFunc(func(_ context.Context, ev domain.CompletionEvent) error {
		log.Info("Job completed",
			zap.String("job_id", ev.JobID),
			zap.String("machine", ev.Machine),
			zap.String("order_id", ev.OrderID),
			zap.Int("pending_orders", len(ev.Schedule)),
			zap.String("prompt", domain.CompletionPrompt(ev)))
		return nil
	})
}

// NewQueueCallback forwards completions to the broker for remote agents
func NewQueueCallback(queue port.QueueService) port.DecisionCallback {
	return port.DecisionCallbackFunc(queue.PublishCompletion)
}
