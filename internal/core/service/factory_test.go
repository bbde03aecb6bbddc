package service

import (
	"testing"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_AddOrderContinuesNumbering(t *testing.T) {
	f := newFixture(t)

	order, err := f.factory.AddOrder(f.ctx, "Widget", 4, map[string]any{"priority": "high"})
	require.NoError(t, err)
	assert.Equal(t, "ORD-003", order.OrderID)

	next, err := f.factory.AddOrder(f.ctx, "Gadget", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "ORD-004", next.OrderID)

	schedule := f.schedule(t)
	require.Len(t, schedule, 4)
	assert.Equal(t, "high", schedule[2].Metadata["priority"])
}

func TestFactory_AddOrderToEmptySchedule(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSchedule(f.ctx, nil))

	order, err := f.factory.AddOrder(f.ctx, "Widget", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "ORD-001", order.OrderID)
}

func TestFactory_AddOrderRejectsNegativeQuantity(t *testing.T) {
	f := newFixture(t)

	_, err := f.factory.AddOrder(f.ctx, "Widget", -1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Len(t, f.schedule(t), 2)
}

func TestFactory_Resources(t *testing.T) {
	f := newFixture(t)
	_, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Widget", Quantity: 1, Machine: "machine_b", OrderID: "ORD-001",
	})
	require.NoError(t, err)

	report, err := f.factory.Resources(f.ctx, []string{"Gadget", "Gizmo"})
	require.NoError(t, err)

	assert.Equal(t, []string{"machine_a", "machine_c"}, report.IdleMachines)
	require.Len(t, report.Products, 2)
	assert.Equal(t, domain.ProductResources{
		Product: "Gadget",
		MaterialsNeeded: []domain.MaterialNeed{
			{Material: "bolts", QuantityPerUnit: 4, StockRemaining: 8},
			{Material: "steel", QuantityPerUnit: 1, StockRemaining: 8},
		},
	}, report.Products[0])
	assert.Equal(t, "Gizmo", report.Products[1].Product)
	assert.Equal(t, "Product not configured in materials usage", report.Products[1].Error)
}

func TestFactory_ProductSummary(t *testing.T) {
	f := newFixture(t)

	text, err := f.factory.ProductSummary(f.ctx, "Gadget", "Gizmo")
	require.NoError(t, err)
	assert.Equal(t, "Product: Gadget\n"+
		"- Process time per unit: 1 seconds\n"+
		"- Materials per unit:\n"+
		"  • bolts: 4\n"+
		"  • steel: 1\n"+
		"\n"+
		"Product: Gizmo\n"+
		"- Process time per unit: 4 seconds", text)
}

func TestFactory_KnownProducts(t *testing.T) {
	f := newFixture(t)

	products, err := f.factory.KnownProducts(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gadget", "Widget"}, products)
}

func TestFactory_ShutdownCancelsCountdowns(t *testing.T) {
	f := newFixture(t)
	_, err := f.factory.Assign(f.ctx, domain.AssignRequest{
		Product: "Gadget", Quantity: 1, Machine: "machine_a", OrderID: "ORD-002",
	})
	require.NoError(t, err)

	f.factory.Shutdown()
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.events.Events())
	assert.Empty(t, f.factory.ActiveJobs())
}
