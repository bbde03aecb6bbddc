package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAssign_EndToEnd(t *testing.T) {
	f := newFixture(t)

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 3, Machine: "machine_a", OrderID: "ORD-001",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "machine_a", res.Machine)
	assert.Equal(t, 8, res.DurationSeconds, "round(2.5*3) = 8")
	assert.Equal(t, "Assigned machine_a to order ORD-001. Duration 8 seconds.", res.Message)
	assert.Equal(t, 4.0, res.Inventory["steel"])
	assert.Equal(t, 4.0, f.inventory(t)["steel"])
	assert.Equal(t, 8.0, f.inventory(t)["bolts"])
	assert.Equal(t, domain.MachineBusy, f.machineState(t, "machine_a"))

	_, stillQueued := f.schedule(t).Find("ORD-001")
	assert.False(t, stillQueued)
	require.Len(t, res.Schedule, 1)
	assert.Equal(t, "ORD-002", res.Schedule[0].OrderID)

	f.clock.Advance(7 * time.Second)
	assert.Empty(t, f.events.Events())
	assert.Equal(t, domain.MachineBusy, f.machineState(t, "machine_a"))

	f.clock.Advance(time.Second)
	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Widget", events[0].Product)
	assert.Equal(t, 3, events[0].Quantity)
	assert.Equal(t, "ORD-001", events[0].OrderID)
	assert.Equal(t, domain.MachineIdle, f.machineState(t, "machine_a"))
	assert.Equal(t, map[string]float64{"machine_a": 8}, f.factory.Summarize())
}

func TestAssign_CarriesOrderMetadataIntoEvent(t *testing.T) {
	f := newFixture(t)

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Gadget", Quantity: 1, Machine: "b", OrderID: "ORD-002",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "machine_b", res.Machine)

	f.clock.Advance(time.Second)
	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"customer": "acme"}, events[0].Metadata)
}

func TestAssign_InsufficientMaterials(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveMaterialsAvailable(f.ctx, domain.Inventory{"steel": 1, "bolts": 8}))

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 3, Machine: "machine_a", OrderID: "ORD-001",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonInsufficientMaterials, res.Reason)
	assert.Equal(t, []domain.Shortfall{{Material: "steel", Required: 6, Available: 1}}, res.Shortfalls)
	assert.Equal(t, "Insufficient materials: steel (required 6, available 1)", res.Message)

	assert.Equal(t, domain.Inventory{"steel": 1, "bolts": 8}, f.inventory(t))
	assert.Equal(t, domain.MachineIdle, f.machineState(t, "machine_a"))
	assert.Len(t, f.schedule(t), 2)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestAssign_InsufficientMaterialsNamesEveryShortfall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveMaterialsAvailable(f.ctx, domain.Inventory{"steel": 2}))

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Gadget", Quantity: 3, Machine: "machine_a", OrderID: "ORD-002",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []domain.Shortfall{
		{Material: "bolts", Required: 12, Available: 0},
		{Material: "steel", Required: 3, Available: 2},
	}, res.Shortfalls)
}

func TestAssign_BusyMachineLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)

	first, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 1, Machine: "machine_a", OrderID: "ORD-001",
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	invBefore := f.inventory(t)
	schedBefore := f.schedule(t)

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Gadget", Quantity: 1, Machine: "A", OrderID: "ORD-002",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonMachineBusy, res.Reason)
	assert.Equal(t, invBefore, f.inventory(t))
	assert.Equal(t, schedBefore, f.schedule(t))
	assert.Len(t, f.factory.ActiveJobs(), 1)
}

func TestAssign_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		req    domain.AssignRequest
		reason domain.ReservationReason
		target error
	}{
		{
			name:   "unsupported_identifier",
			req:    domain.AssignRequest{Product: "Widget", Quantity: 1, Machine: "lathe-7", OrderID: "ORD-001"},
			reason: domain.ReasonUnknownMachine,
			target: domain.ErrUnknownMachine,
		},
		{
			name:   "machine_not_in_store",
			req:    domain.AssignRequest{Product: "Widget", Quantity: 1, Machine: "z", OrderID: "ORD-001"},
			reason: domain.ReasonUnknownMachine,
			target: domain.ErrUnknownMachine,
		},
		{
			name:   "no_processing_time",
			req:    domain.AssignRequest{Product: "Sprocket", Quantity: 1, Machine: "machine_a", OrderID: "ORD-001"},
			reason: domain.ReasonUnknownProcessingTime,
			target: domain.ErrUnknownProcessingTime,
		},
		{
			name:   "no_materials_table",
			req:    domain.AssignRequest{Product: "Gizmo", Quantity: 1, Machine: "machine_a", OrderID: "ORD-001"},
			reason: domain.ReasonUnknownMaterialsSpec,
			target: domain.ErrUnknownMaterialsSpec,
		},
		{
			name:   "negative_quantity",
			req:    domain.AssignRequest{Product: "Widget", Quantity: -2, Machine: "machine_a", OrderID: "ORD-001"},
			reason: domain.ReasonInvalidQuantity,
			target: domain.ErrInvalidQuantity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			invBefore := f.inventory(t)

			res, err := f.factory.Assign(f.ctx, tc.req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.reason, res.Reason)
			assert.NotEmpty(t, res.Message)

			assert.Equal(t, invBefore, f.inventory(t))
			assert.Len(t, f.schedule(t), 2)
			assert.Equal(t, domain.MachineIdle, f.machineState(t, "machine_a"))
			assert.Equal(t, 0, f.clock.Pending())

			rerr := &domain.ReservationError{Reason: res.Reason, Message: res.Message}
			assert.True(t, errors.Is(rerr, tc.target))
		})
	}
}

func TestAssign_ZeroQuantityRunsOneUnit(t *testing.T) {
	f := newFixture(t)

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 0, Machine: "machine_c", OrderID: "ORD-001",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.DurationSeconds)
	assert.Equal(t, 10.0, f.inventory(t)["steel"])
}

func TestAssign_UnknownOrderIDIsNoOpRemoval(t *testing.T) {
	f := newFixture(t)

	res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 1, Machine: "machine_a", OrderID: "ORD-404",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Len(t, f.schedule(t), 2)
	assert.Equal(t, 8.0, f.inventory(t)["steel"])
}

func TestAssign_ConcurrentRequestsNeverDoubleSpend(t *testing.T) {
	f := newFixture(t)
	machines := map[string]domain.MachineState{}
	for i := 0; i < 8; i++ {
		machines[fmt.Sprintf("machine_%c", 'a'+i)] = domain.MachineIdle
	}
	require.NoError(t, f.store.SaveMachineStates(f.ctx, machines))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for name := range machines {
		wg.Add(1)
		go func(machine string) {
			defer wg.Done()
			res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
				Product: "Widget", Quantity: 3, Machine: machine, OrderID: "ORD-001",
			})
			if err != nil || !res.Success {
				return
			}
			mu.Lock()
			success++
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	// 10 steel covers exactly one order of 6
	assert.Equal(t, 1, success)
	assert.Equal(t, 4.0, f.inventory(t)["steel"])
	assert.Len(t, f.factory.ActiveJobs(), 1)
}

func TestAssign_SameMachineConcurrentlyBooksOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	results := make(chan *domain.AssignResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.factory.Assign(f.ctx, domain.AssignRequest{
				Product: "Gadget", Quantity: 1, Machine: "machine_b", OrderID: "ORD-002",
			})
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	var ok, busy int
	for res := range results {
		switch {
		case res.Success:
			ok++
		case res.Reason == domain.ReasonMachineBusy:
			busy++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, busy)
	assert.Equal(t, 9.0, f.inventory(t)["steel"])
}

// Two runtimes sharing one store, as the CLI and the server do, each hold
// their own lock. The store commit still lets only one of them book.
func TestAssign_SeparateFactoriesOverOneStoreBookOnce(t *testing.T) {
	f := newFixture(t)
	other := NewFactoryService(f.store, f.clock, NewCompletionNotifier(zaptest.NewLogger(t)), FactoryConfig{}, zaptest.NewLogger(t))
	req := domain.AssignRequest{Product: "Widget", Quantity: 3, Machine: "a", OrderID: "ORD-001"}

	first, err := f.factory.Assign(f.ctx, req)
	require.NoError(t, err)
	require.True(t, first.Success, first.Message)

	second, err := other.Assign(f.ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, domain.ReasonMachineBusy, second.Reason)

	assert.Equal(t, 4.0, f.inventory(t)["steel"])
	assert.Empty(t, other.ActiveJobs())
	assert.Len(t, f.factory.ActiveJobs(), 1)
}

// A writer that planned against a stale read is turned away by the commit
func TestAssign_StaleReadIsRejectedAtCommit(t *testing.T) {
	f := newFixture(t)
	stale := &staleMachinesStore{ResourceStore: f.store}
	factory := NewFactoryService(stale, f.clock, f.notifier, FactoryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, f.store.UpdateMachineState(f.ctx, "machine_a", domain.MachineBusy))

	res, err := factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 3, Machine: "machine_a", OrderID: "ORD-001",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonMachineBusy, res.Reason)
	assert.Equal(t, 10.0, f.inventory(t)["steel"])
	assert.Len(t, f.schedule(t), 2)
	assert.Equal(t, 0, f.clock.Pending())
}

// A committed reservation always starts its countdown, whatever later
// machine state writes do.
func TestAssign_CommittedReservationStartsWithoutFurtherWrites(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{ResourceStore: f.store, failBusy: 10}
	factory := NewFactoryService(flaky, f.clock, f.notifier, FactoryConfig{}, zaptest.NewLogger(t))

	res, err := factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 3, Machine: "machine_a", OrderID: "ORD-001",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, domain.MachineBusy, f.machineState(t, "machine_a"))
	require.Len(t, factory.ActiveJobs(), 1)

	f.clock.Advance(8 * time.Second)
	require.Len(t, f.events.Events(), 1)
	assert.Equal(t, domain.MachineIdle, f.machineState(t, "machine_a"))
	assert.Equal(t, []domain.MachineState{domain.MachineIdle}, flaky.updates)
}

func TestAssign_ReassignAfterFailedReleaseRecovers(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{ResourceStore: f.store, failIdle: 1}
	factory := NewFactoryService(flaky, f.clock, f.notifier, FactoryConfig{}, zaptest.NewLogger(t))
	req := domain.AssignRequest{Product: "Widget", Quantity: 3, Machine: "a", OrderID: "ORD-001"}

	res, err := factory.Assign(f.ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	f.clock.Advance(8 * time.Second)
	assert.Equal(t, domain.MachineBusy, f.machineState(t, "machine_a"))
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(time.Second)
	assert.Equal(t, domain.MachineIdle, f.machineState(t, "machine_a"))
	require.Len(t, f.events.Events(), 1)

	res, err = factory.Assign(f.ctx, domain.AssignRequest{Product: "Widget", Quantity: 1, Machine: "a", OrderID: "ORD-003"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
}
