// Package storetest holds the behaviour every ResourceStore backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) port.ResourceStore

// Seed writes a small two machine factory into store
func Seed(t *testing.T, store port.ResourceStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveMachineStates(ctx, map[string]domain.MachineState{
		"machine_a": domain.MachineIdle,
		"machine_b": domain.MachineBusy,
	}))
	require.NoError(t, store.SaveProcessingTimes(ctx, map[string]float64{"Widget": 2.5, "Gadget": 1}))
	require.NoError(t, store.SaveMaterialsUsage(ctx, map[string]map[string]float64{
		"Widget": {"steel": 2},
		"Gadget": {"steel": 1, "bolts": 4},
	}))
	require.NoError(t, store.SaveMaterialsAvailable(ctx, domain.Inventory{"steel": 10, "bolts": 8.5}))
	require.NoError(t, store.SaveSchedule(ctx, domain.Schedule{
		{OrderID: "ORD-001", Product: "Widget", Quantity: 3},
		{OrderID: "ORD-002", Product: "Gadget", Quantity: 1, Metadata: map[string]any{"customer": "acme"}},
	}))
}

// Run exercises the ResourceStore contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("round_trip", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		states, err := store.LoadMachineStates(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]domain.MachineState{
			"machine_a": domain.MachineIdle,
			"machine_b": domain.MachineBusy,
		}, states)

		times, err := store.LoadProcessingTimes(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"Widget": 2.5, "Gadget": 1}, times)

		usage, err := store.LoadMaterialsUsage(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"steel": 1, "bolts": 4}, usage["Gadget"])

		inv, err := store.LoadMaterialsAvailable(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.Inventory{"steel": 10, "bolts": 8.5}, inv)

		schedule, err := store.LoadSchedule(ctx)
		require.NoError(t, err)
		require.Len(t, schedule, 2)
		assert.Equal(t, "ORD-001", schedule[0].OrderID)
		assert.Equal(t, 3, schedule[0].Quantity)
		assert.Equal(t, "acme", schedule[1].Metadata["customer"])
	})

	t.Run("loads_are_copies", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		inv, err := store.LoadMaterialsAvailable(ctx)
		require.NoError(t, err)
		inv["steel"] = 0

		schedule, err := store.LoadSchedule(ctx)
		require.NoError(t, err)
		schedule[0].Quantity = 99

		inv, err = store.LoadMaterialsAvailable(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10.0, inv["steel"])
		schedule, err = store.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, schedule[0].Quantity)
	})

	t.Run("update_machine_state", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		require.NoError(t, store.UpdateMachineState(ctx, "machine_b", domain.MachineIdle))
		states, err := store.LoadMachineStates(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.MachineIdle, states["machine_b"])

		err = store.UpdateMachineState(ctx, "machine_z", domain.MachineBusy)
		assert.ErrorIs(t, err, domain.ErrUnknownMachine)
	})

	t.Run("commit_reservation", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		next, err := store.CommitReservation(ctx, domain.ReservationCommit{
			Machine:  "machine_a",
			OrderID:  "ORD-001",
			Required: map[string]float64{"steel": 6},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.Inventory{"steel": 4, "bolts": 8.5}, next.Inventory)
		require.Len(t, next.Schedule, 1)
		assert.Equal(t, "ORD-002", next.Schedule[0].OrderID)

		states, err := store.LoadMachineStates(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.MachineBusy, states["machine_a"])
		inv, err := store.LoadMaterialsAvailable(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4.0, inv["steel"])
		assert.Equal(t, 8.5, inv["bolts"])
		schedule, err := store.LoadSchedule(ctx)
		require.NoError(t, err)
		require.Len(t, schedule, 1)
		assert.Equal(t, "ORD-002", schedule[0].OrderID)
		assert.Equal(t, "acme", schedule[0].Metadata["customer"])
	})

	t.Run("commit_of_unscheduled_order_keeps_schedule", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		next, err := store.CommitReservation(ctx, domain.ReservationCommit{
			Machine:  "machine_a",
			OrderID:  "ORD-404",
			Required: map[string]float64{"steel": 1},
		})
		require.NoError(t, err)
		assert.Len(t, next.Schedule, 2)
		assert.Equal(t, 9.0, next.Inventory["steel"])
	})

	t.Run("commit_on_unknown_machine_changes_nothing", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		_, err := store.CommitReservation(ctx, domain.ReservationCommit{
			Machine:  "machine_z",
			OrderID:  "ORD-001",
			Required: map[string]float64{"steel": 6},
		})
		assert.ErrorIs(t, err, domain.ErrUnknownMachine)
		assertUnchanged(t, store)
	})

	t.Run("commit_on_busy_machine_changes_nothing", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		_, err := store.CommitReservation(ctx, domain.ReservationCommit{
			Machine:  "machine_b",
			OrderID:  "ORD-001",
			Required: map[string]float64{"steel": 6},
		})
		require.ErrorIs(t, err, domain.ErrMachineBusy)
		rerr, ok := domain.AsReservationError(err)
		require.True(t, ok)
		assert.Equal(t, domain.ReasonMachineBusy, rerr.Reason)
		assertUnchanged(t, store)
	})

	t.Run("second_commit_on_same_machine_is_rejected", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()
		commit := domain.ReservationCommit{
			Machine:  "machine_a",
			OrderID:  "ORD-001",
			Required: map[string]float64{"steel": 6},
		}

		_, err := store.CommitReservation(ctx, commit)
		require.NoError(t, err)
		_, err = store.CommitReservation(ctx, commit)
		assert.ErrorIs(t, err, domain.ErrMachineBusy)

		inv, err := store.LoadMaterialsAvailable(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4.0, inv["steel"])
	})

	t.Run("commit_with_insufficient_materials_changes_nothing", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		_, err := store.CommitReservation(ctx, domain.ReservationCommit{
			Machine:  "machine_a",
			OrderID:  "ORD-002",
			Required: map[string]float64{"steel": 2, "bolts": 9},
		})
		require.ErrorIs(t, err, domain.ErrInsufficientMaterials)
		rerr, ok := domain.AsReservationError(err)
		require.True(t, ok)
		assert.Equal(t, []domain.Shortfall{{Material: "bolts", Required: 9, Available: 8.5}}, rerr.Shortfalls)
		assertUnchanged(t, store)
	})

	t.Run("append_order", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store)
		ctx := context.Background()

		first, err := store.AppendOrder(ctx, domain.Order{Product: "Widget", Quantity: 2, Metadata: map[string]any{"due": "friday"}})
		require.NoError(t, err)
		assert.Equal(t, "ORD-003", first.OrderID)
		second, err := store.AppendOrder(ctx, domain.Order{Product: "Gadget", Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, "ORD-004", second.OrderID)

		schedule, err := store.LoadSchedule(ctx)
		require.NoError(t, err)
		require.Len(t, schedule, 4)
		assert.Equal(t, "ORD-003", schedule[2].OrderID)
		assert.Equal(t, "friday", schedule[2].Metadata["due"])
		assert.Equal(t, "ORD-004", schedule[3].OrderID)
	})

	t.Run("append_order_to_empty_schedule", func(t *testing.T) {
		store := newStore(t)
		order, err := store.AppendOrder(context.Background(), domain.Order{Product: "Widget", Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, "ORD-001", order.OrderID)
	})

	t.Run("empty_store_loads_empty", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		schedule, err := store.LoadSchedule(ctx)
		require.NoError(t, err)
		assert.NotNil(t, schedule)
		assert.Empty(t, schedule)

		states, err := store.LoadMachineStates(ctx)
		require.NoError(t, err)
		assert.Empty(t, states)
	})
}

// assertUnchanged checks that the seeded state survived a rejected write
func assertUnchanged(t *testing.T, store port.ResourceStore) {
	t.Helper()
	ctx := context.Background()

	states, err := store.LoadMachineStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MachineIdle, states["machine_a"])
	assert.Equal(t, domain.MachineBusy, states["machine_b"])
	inv, err := store.LoadMaterialsAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Inventory{"steel": 10, "bolts": 8.5}, inv)
	schedule, err := store.LoadSchedule(ctx)
	require.NoError(t, err)
	assert.Len(t, schedule, 2)
}
