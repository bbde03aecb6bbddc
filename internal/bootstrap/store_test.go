package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/jsonfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const seedYAML = `
machines:
  machine_a: 1
processing_time:
  Widget: 2.5
materials_usage:
  Widget:
    steel: 2
materials_available:
  steel: 10
schedule:
  - order_id: ORD-001
    product: Widget
    quantity: 3
`

func testConfig(backend, dir string) *config.AppConfig {
	return &config.AppConfig{Store: &config.Store{Backend: backend, DataDir: dir}}
}

func TestOpenStoreMemoryWithSeed(t *testing.T) {
	seedFile := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(seedYAML), 0o600))
	cfg := testConfig(config.BackendMemory, "")
	cfg.Store.SeedFile = seedFile

	store, err := OpenStore(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	schedule, err := store.LoadSchedule(context.Background())
	require.NoError(t, err)
	require.Len(t, schedule, 1)
	assert.Equal(t, "ORD-001", schedule[0].OrderID)
}

func TestOpenStoreJSONWritesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	seedFile := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(seedYAML), 0o600))
	cfg := testConfig(config.BackendJSON, dir)
	cfg.Store.SeedFile = seedFile

	store, err := OpenStore(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, filepath.Join(dir, jsonfile.MachinesFile))
	assert.FileExists(t, filepath.Join(dir, jsonfile.ScheduleFile))
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, err := OpenStore(context.Background(), testConfig("mongo", ""), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpenStoreFailsOnBadSeed(t *testing.T) {
	cfg := testConfig(config.BackendMemory, "")
	cfg.Store.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := OpenStore(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpenQueueRequiresURL(t *testing.T) {
	cfg := testConfig(config.BackendMemory, "")
	cfg.RabbitMQ = &config.RabbitMQ{Exchange: "factory"}

	_, err := OpenQueue(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoBroker)
}

func TestTopologyFromConfig(t *testing.T) {
	topo := Topology(&config.RabbitMQ{
		Exchange:             "plant",
		AssignQueue:          "plant.assign",
		CompletionRoutingKey: "job.completed",
		ResultRoutingKey:     "assign.result",
	})
	assert.Equal(t, "plant.assign", topo.AssignQueue)
	assert.Equal(t, "plant", topo.Exchange)
}
