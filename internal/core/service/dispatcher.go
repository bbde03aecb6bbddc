package service

import (
	"context"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"go.uber.org/zap"
)

// DispatcherService assigns pending orders to idle machines in FIFO order
type DispatcherService struct {
	factory *FactoryService
	log     *zap.Logger
}

func NewDispatcherService(factory *FactoryService, log *zap.Logger) *DispatcherService {
	return &DispatcherService{
		factory: factory,
		log:     log,
	}
}

// StartDispatcher starts the polling loop
func (d *DispatcherService) StartDispatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Stopping dispatcher loop")
			return
		case <-ticker.C:
			if _, err := d.DispatchPending(ctx); err != nil {
				d.log.Error("Failed to dispatch orders", zap.Error(err))
			}
		}
	}
}

// DispatchPending walks the schedule from the front and gives each order the
// first idle machine. Orders that cannot be reserved stay in the schedule.
// It returns the number of orders started.
func (d *DispatcherService) DispatchPending(ctx context.Context) (int, error) {
	schedule, err := d.factory.Schedule(ctx)
	if err != nil {
		return 0, err
	}
	if len(schedule) == 0 {
		return 0, nil
	}

	idle, err := d.factory.IdleMachines(ctx)
	if err != nil {
		return 0, err
	}
	if len(idle) == 0 {
		d.log.Debug("No idle machines, pending orders wait", zap.Int("pending", len(schedule)))
		return 0, nil
	}

	started := 0
	for _, order := range schedule {
		if len(idle) == 0 {
			break
		}
		machine := idle[0]

		result, err := d.factory.Assign(ctx, domain.AssignRequest{
			Product:  order.Product,
			Quantity: order.Quantity,
			Machine:  machine,
			OrderID:  order.OrderID,
		})
		if err != nil {
			return started, err
		}
		if !result.Success {
			d.log.Warn("Could not dispatch order",
				zap.String("order_id", order.OrderID),
				zap.String("machine", machine),
				zap.String("reason", string(result.Reason)))
			if result.Reason == domain.ReasonMachineBusy {
				idle = idle[1:]
			}
			continue
		}

		idle = idle[1:]
		started++
	}

	if started > 0 {
		d.log.Info("Dispatched pending orders", zap.Int("started", started), zap.Int("pending", len(schedule)-started))
	}
	return started, nil
}
