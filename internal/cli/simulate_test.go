package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateInjectsAndDispatches(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "simulate",
		"--seed", fixture,
		"--duration", "60ms",
		"--interval", "5ms",
		"--time-unit", "1ms",
		"--format", "json")
	require.NoError(t, err)

	var report SimulationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Positive(t, report.OrdersInjected)
	assert.Positive(t, report.JobsStarted)
	assert.LessOrEqual(t, report.JobsCompleted, report.JobsStarted)
	assert.NotEmpty(t, report.BusySeconds)

	schedule, err := env.store.LoadSchedule(t.Context())
	require.NoError(t, err)
	assert.Len(t, schedule, report.PendingOrders)
}

func TestSimulateTextOutput(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "simulate", "--seed", fixture, "--duration", "20ms", "--interval", "5ms", "--time-unit", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Starting 20ms traffic simulation over 2 products")
	assert.Contains(t, out, "Simulation complete")
}

func TestSimulateNeedsProducts(t *testing.T) {
	_, err := newTestEnv(t).run(t, "simulate", "--duration", "10ms", "--interval", "5ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no products configured")
}
