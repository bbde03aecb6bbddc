package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

const outcomeAssigned = "ASSIGNED"

// ReservationService is the single writer of inventory and schedule within
// one process. Assign validates under its lock and the store re-checks the
// machine and the materials when committing, so writers in other processes
// sharing the store can never double-book a machine or double-spend a
// material either.
type ReservationService struct {
	mu      sync.Mutex
	store   port.ResourceStore
	tracker *JobTracker
	metrics port.Metrics
	log     *zap.Logger
}

func NewReservationService(
	store port.ResourceStore,
	tracker *JobTracker,
	metrics port.Metrics,
	log *zap.Logger,
) *ReservationService {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &ReservationService{
		store:   store,
		tracker: tracker,
		metrics: metrics,
		log:     log,
	}
}

type reservationPlan struct {
	machine  string
	duration int
	required map[string]float64
	order    domain.Order
	found    bool
}

// Assign reserves machine and materials for one order and starts its job.
// Rejections are reported as a failed result with a nil error; the error is
// reserved for store failures.
func (s *ReservationService) Assign(ctx context.Context, req domain.AssignRequest) (*domain.AssignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.plan(ctx, req)
	if err != nil {
		return s.reject(req, err)
	}

	if !plan.found {
		s.log.Warn("Order not found in schedule, nothing removed",
			zap.String("order_id", req.OrderID),
			zap.String("reason", string(domain.ReasonUnknownOrderID)))
	}

	committed, err := s.store.CommitReservation(ctx, domain.ReservationCommit{
		Machine:  plan.machine,
		OrderID:  req.OrderID,
		Required: plan.required,
	})
	if err != nil {
		if _, ok := domain.AsReservationError(err); ok {
			// another writer on the same store got there first
			return s.reject(req, err)
		}
		return nil, fmt.Errorf("commit reservation for %s: %w", req.OrderID, err)
	}

	// The commit already marked the machine busy, so only the countdown is armed.
	s.tracker.track(plan.machine, plan.duration, domain.Job{
		OrderID:  req.OrderID,
		Product:  req.Product,
		Quantity: req.Quantity,
		Metadata: plan.order.Metadata,
	})

	s.metrics.ObserveReservation(outcomeAssigned)
	s.log.Info("Assignment committed",
		zap.String("order_id", req.OrderID),
		zap.String("machine", plan.machine),
		zap.String("product", req.Product),
		zap.Int("quantity", req.Quantity),
		zap.Int("duration", plan.duration))

	return &domain.AssignResult{
		Success:         true,
		Message:         fmt.Sprintf("Assigned %s to order %s. Duration %d seconds.", plan.machine, req.OrderID, plan.duration),
		OrderID:         req.OrderID,
		Machine:         plan.machine,
		DurationSeconds: plan.duration,
		Inventory:       committed.Inventory,
		Schedule:        committed.Schedule,
	}, nil
}

// reject turns a reservation error into a failed result; other errors pass through
func (s *ReservationService) reject(req domain.AssignRequest, err error) (*domain.AssignResult, error) {
	rerr, ok := domain.AsReservationError(err)
	if !ok {
		return nil, err
	}
	s.metrics.ObserveReservation(string(rerr.Reason))
	s.log.Info("Assignment rejected",
		zap.String("order_id", req.OrderID),
		zap.String("machine", req.Machine),
		zap.String("product", req.Product),
		zap.String("reason", string(rerr.Reason)),
		zap.String("message", rerr.Message))
	return domain.FailedAssignment(req.OrderID, rerr), nil
}

// plan runs every precondition in order and computes the post-reservation
// state without writing anything.
func (s *ReservationService) plan(ctx context.Context, req domain.AssignRequest) (*reservationPlan, error) {
	if req.Quantity < 0 {
		return nil, &domain.ReservationError{
			Reason:  domain.ReasonInvalidQuantity,
			Message: fmt.Sprintf("Invalid quantity %d for %s.", req.Quantity, req.Product),
		}
	}

	machine, err := domain.NormalizeMachine(req.Machine)
	if err != nil {
		return nil, err
	}

	states, err := s.store.LoadMachineStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load machine states: %w", err)
	}
	state, ok := states[machine]
	if !ok {
		return nil, &domain.ReservationError{
			Reason:  domain.ReasonUnknownMachine,
			Message: fmt.Sprintf("Unknown machine '%s'.", req.Machine),
		}
	}
	if state == domain.MachineBusy {
		return nil, domain.MachineBusyError(machine)
	}

	times, err := s.store.LoadProcessingTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processing times: %w", err)
	}
	processingTime, ok := times[req.Product]
	if !ok {
		return nil, &domain.ReservationError{
			Reason:  domain.ReasonUnknownProcessingTime,
			Message: fmt.Sprintf("No processing time found for %s.", req.Product),
		}
	}

	usage, err := s.store.LoadMaterialsUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("load materials usage: %w", err)
	}
	perUnit, ok := usage[req.Product]
	if !ok {
		return nil, &domain.ReservationError{
			Reason:  domain.ReasonUnknownMaterialsSpec,
			Message: fmt.Sprintf("No materials usage configured for %s.", req.Product),
		}
	}

	inventory, err := s.store.LoadMaterialsAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("load materials available: %w", err)
	}
	spec := domain.ProductSpec{Name: req.Product, ProcessingTime: &processingTime, Materials: perUnit}
	required := spec.Requirements(req.Quantity)
	if shortfalls := inventory.Shortfalls(required); len(shortfalls) > 0 {
		return nil, domain.NewInsufficientMaterials(shortfalls)
	}

	schedule, err := s.store.LoadSchedule(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	order, found := schedule.Find(req.OrderID)

	return &reservationPlan{
		machine:  machine,
		duration: domain.ComputeDuration(processingTime, req.Quantity),
		required: required,
		order:    order,
		found:    found,
	}, nil
}

// AddOrder appends an order to the schedule under the next free order id
func (s *ReservationService) AddOrder(ctx context.Context, product string, quantity int, metadata map[string]any) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 0 {
		return domain.Order{}, &domain.ReservationError{
			Reason:  domain.ReasonInvalidQuantity,
			Message: fmt.Sprintf("Invalid quantity %d for %s.", quantity, product),
		}
	}

	order, err := s.store.AppendOrder(ctx, domain.Order{
		Product:  product,
		Quantity: quantity,
		Metadata: metadata,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("append order: %w", err)
	}

	s.log.Info("Order added to schedule",
		zap.String("order_id", order.OrderID),
		zap.String("product", product),
		zap.Int("quantity", quantity))
	return order, nil
}
