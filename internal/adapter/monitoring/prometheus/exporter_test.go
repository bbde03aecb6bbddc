package prometheus

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterRecordsActivity(t *testing.T) {
	e := NewExporter()

	e.ObserveReservation("ASSIGNED")
	e.ObserveReservation("ASSIGNED")
	e.ObserveReservation("MACHINE_BUSY")
	e.SetMachineBusy("machine_a", true)
	e.ObserveCompletion("machine_a", 2500*time.Millisecond)
	e.SetMachineBusy("machine_a", false)
	e.ObserveNotification("machine_a", nil)
	e.ObserveNotification("machine_a", errors.New("agent down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(e.reservations.WithLabelValues("ASSIGNED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.reservations.WithLabelValues("MACHINE_BUSY")))
	assert.Equal(t, 2.5, testutil.ToFloat64(e.busySeconds.WithLabelValues("machine_a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.completions.WithLabelValues("machine_a")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.machineBusy.WithLabelValues("machine_a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.notifications.WithLabelValues("machine_a", "failed")))
}

func TestExporterHandlerServesMetrics(t *testing.T) {
	e := NewExporter()
	e.SetMachineBusy("machine_b", true)

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `factory_machine_busy{machine="machine_b"} 1`))
}
