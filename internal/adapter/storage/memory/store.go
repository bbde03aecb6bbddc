// Package memory provides a process local ResourceStore.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
)

type resourceStore struct {
	mu        sync.RWMutex
	machines  map[string]domain.MachineState
	times     map[string]float64
	usage     map[string]map[string]float64
	inventory domain.Inventory
	schedule  domain.Schedule
}

// NewResourceStore creates an empty in-memory store
func NewResourceStore() port.ResourceStore {
	return &resourceStore{
		machines:  make(map[string]domain.MachineState),
		times:     make(map[string]float64),
		usage:     make(map[string]map[string]float64),
		inventory: make(domain.Inventory),
		schedule:  domain.Schedule{},
	}
}

func cloneUsage(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for product, materials := range in {
		out[product] = maps.Clone(materials)
	}
	return out
}

func (s *resourceStore) LoadMachineStates(_ context.Context) (map[string]domain.MachineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.machines), nil
}

func (s *resourceStore) SaveMachineStates(_ context.Context, states map[string]domain.MachineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines = maps.Clone(states)
	if s.machines == nil {
		s.machines = make(map[string]domain.MachineState)
	}
	return nil
}

func (s *resourceStore) UpdateMachineState(_ context.Context, machine string, state domain.MachineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[machine]; !ok {
		return fmt.Errorf("update machine %q: %w", machine, domain.ErrUnknownMachine)
	}
	s.machines[machine] = state
	return nil
}

func (s *resourceStore) LoadProcessingTimes(_ context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.times), nil
}

func (s *resourceStore) SaveProcessingTimes(_ context.Context, times map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = maps.Clone(times)
	return nil
}

func (s *resourceStore) LoadMaterialsUsage(_ context.Context) (map[string]map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUsage(s.usage), nil
}

func (s *resourceStore) SaveMaterialsUsage(_ context.Context, usage map[string]map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = cloneUsage(usage)
	return nil
}

func (s *resourceStore) LoadMaterialsAvailable(_ context.Context) (domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory.Clone(), nil
}

func (s *resourceStore) SaveMaterialsAvailable(_ context.Context, inventory domain.Inventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory = inventory.Clone()
	return nil
}

func (s *resourceStore) LoadSchedule(_ context.Context) (domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule.Clone(), nil
}

func (s *resourceStore) SaveSchedule(_ context.Context, schedule domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule.Clone()
	return nil
}

func (s *resourceStore) AppendOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.OrderID == "" {
		order.OrderID = domain.NextOrderID(s.schedule)
	}
	order = order.Clone()
	s.schedule = append(s.schedule, order)
	return order.Clone(), nil
}

func (s *resourceStore) CommitReservation(_ context.Context, commit domain.ReservationCommit) (domain.ReservationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := commit.Apply(s.machines, s.inventory, s.schedule)
	if err != nil {
		return domain.ReservationState{}, err
	}
	s.inventory = next.Inventory
	s.schedule = next.Schedule
	s.machines[commit.Machine] = domain.MachineBusy
	return domain.ReservationState{
		Inventory: next.Inventory.Clone(),
		Schedule:  next.Schedule.Clone(),
	}, nil
}
