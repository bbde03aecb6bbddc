package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func testLogger(t *testing.T, level string) (*zap.Logger, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	lvl, err := zap.ParseAtomicLevel(level)
	require.NoError(t, err)
	atomicLevel = lvl

	cfg := &config.Logger{Level: level, Encoding: "json", EncoderConfig: zap.NewProductionEncoderConfig()}
	var out, errOut bytes.Buffer
	return zap.New(newCore(cfg, zapcore.AddSync(&out), zapcore.AddSync(&errOut))), &out, &errOut
}

func TestCoreSplitsByPriority(t *testing.T) {
	log, out, errOut := testLogger(t, "info")

	log.Debug("hidden")
	log.Info("assigned", zap.String("machine", "machine_a"))
	log.Error("store failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "assigned", line["msg"])
	assert.Equal(t, "machine_a", line["machine"])
	assert.Contains(t, errOut.String(), "store failed")
	assert.NotContains(t, out.String(), "store failed")
}

func TestSetLevelAdjustsAtRuntime(t *testing.T) {
	log, out, _ := testLogger(t, "warn")

	log.Info("before")
	assert.Empty(t, out.String())

	SetLevel("debug")
	log.Debug("after")
	assert.Contains(t, out.String(), "after")

	SetLevel("not-a-level")
	assert.Equal(t, zapcore.DebugLevel, atomicLevel.Level())
}
