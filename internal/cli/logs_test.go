package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runtimeLog = `{"level":"INFO","msg":"Order added to schedule","order_id":"ORD-003","product":"Gadget","quantity":2}
{"level":"INFO","msg":"Assignment committed","order_id":"ORD-001","machine":"machine_a","product":"Widget","quantity":3,"duration":8}
{"level":"INFO","msg":"Job started","machine":"machine_a","order_id":"ORD-001"}
not json at all
{"level":"DEBUG","msg":"Completion event delivered","machine":"machine_a"}
{"level":"INFO","msg":"Job completed","machine":"machine_a","order_id":"ORD-001","elapsed":8}
{"level":"INFO","msg":"Job completed","machine":"machine_a","order_id":"ORD-001","prompt":"..."}
factory.1.abc | {"level":"ERROR","msg":"Failed to release machine, retrying","machine":"machine_b"}
`

func TestLogsPrettifiesMachineEvents(t *testing.T) {
	var out strings.Builder
	require.NoError(t, prettifyLogs(strings.NewReader(runtimeLog), &out, false))

	assert.Equal(t, []string{
		"[schedule] + ORD-003: 2 x Gadget",
		"[machine_a] Assigned: ORD-001 (3 x Widget, 8s)",
		"[machine_a] Now running: ORD-001",
		"[machine_a] Finished: ORD-001",
		"[machine_b] ERROR: Failed to release machine, retrying",
	}, lines(out.String()))
}

func TestLogsAllIncludesOtherLines(t *testing.T) {
	env := newTestEnv(t)
	cmd := newRootCommand(env.options())
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(runtimeLog))
	cmd.SetArgs([]string{"logs", "--all"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "DEBUG Completion event delivered")
}
