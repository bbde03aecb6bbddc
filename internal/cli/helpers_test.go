package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/memory"
	"github.com/crabzie/factory-runtime/internal/bootstrap"
	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
)

const fixture = "testdata/factory.yaml"

type fakeQueue struct {
	mu          sync.Mutex
	assignments []domain.AssignRequest
	closed      bool
}

func (q *fakeQueue) PublishCompletion(context.Context, domain.CompletionEvent) error { return nil }
func (q *fakeQueue) PublishResult(context.Context, *domain.AssignResult) error       { return nil }

func (q *fakeQueue) PublishAssignment(_ context.Context, req domain.AssignRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assignments = append(q.assignments, req)
	return nil
}

func (q *fakeQueue) ConsumeAssignments(ctx context.Context, _ port.AssignHandler) error {
	<-ctx.Done()
	return nil
}

func (q *fakeQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

type fakeUtilization struct {
	busy, completions map[string]float64
}

func (f fakeUtilization) BusyRatio(context.Context, time.Duration) (map[string]float64, error) {
	return f.busy, nil
}

func (f fakeUtilization) Completions(context.Context, time.Duration) (map[string]float64, error) {
	return f.completions, nil
}

// testEnv shares one memory store and queue across command invocations
type testEnv struct {
	cfg      *config.AppConfig
	store    port.ResourceStore
	queue    *fakeQueue
	queueErr error
	storeErr error
	util     fakeUtilization
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		cfg: &config.AppConfig{
			App:      &config.App{Name: "factory-runtime"},
			Store:    &config.Store{Backend: config.BackendMemory},
			Runtime:  &config.Runtime{TimeUnit: time.Millisecond, NotifyAttempts: 1},
			RabbitMQ: &config.RabbitMQ{},
		},
		store: memory.NewResourceStore(),
		queue: &fakeQueue{},
	}
}

func (e *testEnv) options() *RootOptions {
	return &RootOptions{
		Format: "text",
		loadConfig: func(string) (*config.AppConfig, error) {
			return e.cfg, nil
		},
		openStore: func(context.Context, *config.AppConfig, *zap.Logger) (*bootstrap.Store, error) {
			if e.storeErr != nil {
				return nil, e.storeErr
			}
			return &bootstrap.Store{ResourceStore: e.store, Close: func() {}}, nil
		},
		openQueue: func(context.Context, *config.AppConfig, *zap.Logger) (port.QueueService, error) {
			if e.queueErr != nil {
				return nil, e.queueErr
			}
			return e.queue, nil
		},
		newUtilization: func(string, *zap.Logger) (UtilizationSource, error) {
			return e.util, nil
		},
	}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCommand(e.options())
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) seeded(t *testing.T) *testEnv {
	t.Helper()
	_, err := e.run(t, "seed", fixture)
	require.NoError(t, err)
	return e
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
