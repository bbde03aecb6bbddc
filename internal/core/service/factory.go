package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

// FactoryConfig tunes the runtime
type FactoryConfig struct {
	// TimeUnit is the wall time of one duration unit, one second when zero
	TimeUnit time.Duration
	Metrics  port.Metrics
}

// FactoryService wires the reservation engine, job tracker and completion
// notifier around one resource store.
type FactoryService struct {
	store       port.ResourceStore
	notifier    *CompletionNotifier
	tracker     *JobTracker
	reservation *ReservationService
	log         *zap.Logger
}

func NewFactoryService(
	store port.ResourceStore,
	clock port.Clock,
	notifier *CompletionNotifier,
	cfg FactoryConfig,
	log *zap.Logger,
) *FactoryService {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = port.NopMetrics{}
	}

	notifier.bindClock(clock)
	tracker := NewJobTracker(store, clock, notifier, log.Named("tracker"),
		WithTimeUnit(cfg.TimeUnit),
		WithTrackerMetrics(metrics),
	)
	return &FactoryService{
		store:       store,
		notifier:    notifier,
		tracker:     tracker,
		reservation: NewReservationService(store, tracker, metrics, log.Named("reservation")),
		log:         log,
	}
}

// RegisterCallback sets the decision callbacks fired on every completion
func (f *FactoryService) RegisterCallback(callbacks ...port.DecisionCallback) {
	f.notifier.Register(callbacks...)
}

// Assign is the only externally invoked mutator of machines and inventory
func (f *FactoryService) Assign(ctx context.Context, req domain.AssignRequest) (*domain.AssignResult, error) {
	return f.reservation.Assign(ctx, req)
}

// AddOrder appends a new order to the schedule
func (f *FactoryService) AddOrder(ctx context.Context, product string, quantity int, metadata map[string]any) (domain.Order, error) {
	return f.reservation.AddOrder(ctx, product, quantity, metadata)
}

// Summarize returns the cumulative busy seconds of each machine
func (f *FactoryService) Summarize() map[string]float64 {
	return f.tracker.Summarize()
}

// ActiveJobs lists the jobs currently counting down
func (f *FactoryService) ActiveJobs() []domain.Job {
	return f.tracker.ActiveJobs()
}

func (f *FactoryService) Schedule(ctx context.Context) (domain.Schedule, error) {
	return f.store.LoadSchedule(ctx)
}

func (f *FactoryService) Inventory(ctx context.Context) (domain.Inventory, error) {
	return f.store.LoadMaterialsAvailable(ctx)
}

func (f *FactoryService) MachineStates(ctx context.Context) (map[string]domain.MachineState, error) {
	return f.store.LoadMachineStates(ctx)
}

// IdleMachines returns the idle machine names in sorted order
func (f *FactoryService) IdleMachines(ctx context.Context) ([]string, error) {
	states, err := f.store.LoadMachineStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load machine states: %w", err)
	}
	idle := make([]string, 0, len(states))
	for _, name := range slices.Sorted(maps.Keys(states)) {
		if states[name] == domain.MachineIdle {
			idle = append(idle, name)
		}
	}
	return idle, nil
}

// Resources reports idle machines and, per product, the materials needed
// per unit alongside the remaining stock.
func (f *FactoryService) Resources(ctx context.Context, products []string) (*domain.ResourceReport, error) {
	idle, err := f.IdleMachines(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := f.store.LoadMaterialsUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("load materials usage: %w", err)
	}
	inventory, err := f.store.LoadMaterialsAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("load materials available: %w", err)
	}

	report := &domain.ResourceReport{IdleMachines: idle}
	for _, product := range products {
		perUnit, ok := usage[product]
		if !ok || len(perUnit) == 0 {
			report.Products = append(report.Products, domain.ProductResources{
				Product: product,
				Error:   "Product not configured in materials usage",
			})
			continue
		}

		entry := domain.ProductResources{Product: product}
		for _, material := range slices.Sorted(maps.Keys(perUnit)) {
			entry.MaterialsNeeded = append(entry.MaterialsNeeded, domain.MaterialNeed{
				Material:        material,
				QuantityPerUnit: perUnit[material],
				StockRemaining:  inventory[material],
			})
		}
		report.Products = append(report.Products, entry)
	}
	return report, nil
}

// KnownProducts lists every product with a materials table
func (f *FactoryService) KnownProducts(ctx context.Context) ([]string, error) {
	usage, err := f.store.LoadMaterialsUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("load materials usage: %w", err)
	}
	return slices.Sorted(maps.Keys(usage)), nil
}

// ProductSpec assembles the reference data of one product
func (f *FactoryService) ProductSpec(ctx context.Context, product string) (domain.ProductSpec, error) {
	times, err := f.store.LoadProcessingTimes(ctx)
	if err != nil {
		return domain.ProductSpec{}, fmt.Errorf("load processing times: %w", err)
	}
	usage, err := f.store.LoadMaterialsUsage(ctx)
	if err != nil {
		return domain.ProductSpec{}, fmt.Errorf("load materials usage: %w", err)
	}

	spec := domain.ProductSpec{Name: product, Materials: usage[product]}
	if pt, ok := times[product]; ok {
		spec.ProcessingTime = &pt
	}
	return spec, nil
}

// ProductSummary renders the summaries of the given products separated by a blank line
func (f *FactoryService) ProductSummary(ctx context.Context, products ...string) (string, error) {
	summaries := make([]string, 0, len(products))
	for _, product := range products {
		spec, err := f.ProductSpec(ctx, product)
		if err != nil {
			return "", err
		}
		summaries = append(summaries, spec.Summary())
	}
	return strings.Join(summaries, "\n\n"), nil
}

// Shutdown cancels every countdown without emitting completions
func (f *FactoryService) Shutdown() {
	f.tracker.Stop()
	f.log.Info("Factory runtime stopped")
}
