// Package port provides behavior interfaces that connects service & storage & handler.
package port

import (
	"context"

	"github.com/crabzie/factory-runtime/internal/core/domain"
)

// ResourceStore defines how machine states, reference data, inventory and the
// schedule are persisted. Loads return copies the caller may mutate.
type ResourceStore interface {
	LoadMachineStates(ctx context.Context) (map[string]domain.MachineState, error)
	SaveMachineStates(ctx context.Context, states map[string]domain.MachineState) error
	UpdateMachineState(ctx context.Context, machine string, state domain.MachineState) error

	LoadProcessingTimes(ctx context.Context) (map[string]float64, error)
	SaveProcessingTimes(ctx context.Context, times map[string]float64) error
	LoadMaterialsUsage(ctx context.Context) (map[string]map[string]float64, error)
	SaveMaterialsUsage(ctx context.Context, usage map[string]map[string]float64) error

	LoadMaterialsAvailable(ctx context.Context) (domain.Inventory, error)
	SaveMaterialsAvailable(ctx context.Context, inventory domain.Inventory) error

	LoadSchedule(ctx context.Context) (domain.Schedule, error)
	SaveSchedule(ctx context.Context, schedule domain.Schedule) error
	// AppendOrder adds order at the end of the schedule. An empty OrderID is
	// replaced by domain.NextOrderID of the stored schedule; the stored order
	// is returned.
	AppendOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// CommitReservation marks the machine busy, deducts commit.Required and
	// removes the order as one conditional unit. A busy machine or short
	// inventory fails with a *domain.ReservationError and changes nothing.
	CommitReservation(ctx context.Context, commit domain.ReservationCommit) (domain.ReservationState, error)
}

// DecisionCallback receives one event per naturally completed job
type DecisionCallback interface {
	OnCompletion(ctx context.Context, event domain.CompletionEvent) error
}

// DecisionCallbackFunc adapts a function to DecisionCallback
type DecisionCallbackFunc func(ctx context.Context, event domain.CompletionEvent) error

func (f DecisionCallbackFunc) OnCompletion(ctx context.Context, event domain.CompletionEvent) error {
	return f(ctx, event)
}

// AssignHandler processes one assignment command
type AssignHandler func(ctx context.Context, req domain.AssignRequest) (*domain.AssignResult, error)

// QueueService defines how completion events and assignment commands travel (RabbitMQ)
type QueueService interface {
	PublishCompletion(ctx context.Context, event domain.CompletionEvent) error
	PublishAssignment(ctx context.Context, req domain.AssignRequest) error
	PublishResult(ctx context.Context, result *domain.AssignResult) error
	ConsumeAssignments(ctx context.Context, handler AssignHandler) error
	Close() error
}
