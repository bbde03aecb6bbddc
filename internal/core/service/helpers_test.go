package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/factory-runtime/internal/adapter/storage/memory"
	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/crabzie/factory-runtime/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// recorder is a DecisionCallback that keeps every event it receives
type recorder struct {
	mu     sync.Mutex
	events []domain.CompletionEvent
	calls  int
	fail   int // number of leading calls that return an error
}

func (r *recorder) OnCompletion(_ context.Context, ev domain.CompletionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.fail {
		return errors.New("decision agent unavailable")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Events() []domain.CompletionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CompletionEvent(nil), r.events...)
}

func (r *recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// flakyStore fails the leading machine state updates to the given state
type flakyStore struct {
	port.ResourceStore
	mu       sync.Mutex
	failIdle int
	failBusy int
	updates  []domain.MachineState
}

func (s *flakyStore) UpdateMachineState(ctx context.Context, machine string, state domain.MachineState) error {
	s.mu.Lock()
	s.updates = append(s.updates, state)
	fail := false
	switch {
	case state == domain.MachineIdle && s.failIdle > 0:
		s.failIdle--
		fail = true
	case state == domain.MachineBusy && s.failBusy > 0:
		s.failBusy--
		fail = true
	}
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.ResourceStore.UpdateMachineState(ctx, machine, state)
}

// staleMachinesStore reports every machine idle, like a read taken before
// another writer booked one.
type staleMachinesStore struct {
	port.ResourceStore
}

func (s *staleMachinesStore) LoadMachineStates(ctx context.Context) (map[string]domain.MachineState, error) {
	states, err := s.ResourceStore.LoadMachineStates(ctx)
	for name := range states {
		states[name] = domain.MachineIdle
	}
	return states, err
}

type fixture struct {
	ctx      context.Context
	store    port.ResourceStore
	clock    *testutil.FakeClock
	notifier *CompletionNotifier
	factory  *FactoryService
	events   *recorder
}

func seedStore(t *testing.T, store port.ResourceStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveMachineStates(ctx, map[string]domain.MachineState{
		"machine_a": domain.MachineIdle,
		"machine_b": domain.MachineIdle,
		"machine_c": domain.MachineIdle,
	}))
	require.NoError(t, store.SaveProcessingTimes(ctx, map[string]float64{
		"Widget": 2.5,
		"Gadget": 1,
		"Gizmo":  4,
	}))
	require.NoError(t, store.SaveMaterialsUsage(ctx, map[string]map[string]float64{
		"Widget": {"steel": 2},
		"Gadget": {"steel": 1, "bolts": 4},
	}))
	require.NoError(t, store.SaveMaterialsAvailable(ctx, domain.Inventory{
		"steel": 10,
		"bolts": 8,
	}))
	require.NoError(t, store.SaveSchedule(ctx, domain.Schedule{
		{OrderID: "ORD-001", Product: "Widget", Quantity: 3},
		{OrderID: "ORD-002", Product: "Gadget", Quantity: 1, Metadata: map[string]any{"customer": "acme"}},
	}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.NewResourceStore()
	seedStore(t, store)

	clock := testutil.NewFakeClock(epoch)
	notifier := NewCompletionNotifier(log, WithRetry(1, 0))
	events := &recorder{}
	notifier.Register(events)

	return &fixture{
		ctx:      context.Background(),
		store:    store,
		clock:    clock,
		notifier: notifier,
		factory:  NewFactoryService(store, clock, notifier, FactoryConfig{}, log),
		events:   events,
	}
}

func (f *fixture) machineState(t *testing.T, machine string) domain.MachineState {
	t.Helper()
	states, err := f.store.LoadMachineStates(f.ctx)
	require.NoError(t, err)
	return states[machine]
}

func (f *fixture) inventory(t *testing.T) domain.Inventory {
	t.Helper()
	inv, err := f.store.LoadMaterialsAvailable(f.ctx)
	require.NoError(t, err)
	return inv
}

func (f *fixture) schedule(t *testing.T) domain.Schedule {
	t.Helper()
	s, err := f.store.LoadSchedule(f.ctx)
	require.NoError(t, err)
	return s
}
