package prometheus

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

// UtilizationClient reads machine utilization back from a Prometheus server
// that scrapes the exporter.
type UtilizationClient struct {
	api v1.API
	log *zap.Logger
}

func NewUtilizationClient(promURL string, log *zap.Logger) (*UtilizationClient, error) {
	client, err := api.NewClient(api.Config{Address: promURL})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return &UtilizationClient{api: v1.NewAPI(client), log: log}, nil
}

// BusyRatio returns, per machine, the share of window it spent running jobs
func (c *UtilizationClient) BusyRatio(ctx context.Context, window time.Duration) (map[string]float64, error) {
	query := fmt.Sprintf(`sum by (machine) (rate(%s_machine_busy_seconds_total[%s]))`, namespace, model.Duration(window))
	return c.byMachine(ctx, query)
}

// Completions returns the jobs completed per machine over window
func (c *UtilizationClient) Completions(ctx context.Context, window time.Duration) (map[string]float64, error) {
	query := fmt.Sprintf(`sum by (machine) (increase(%s_job_completions_total[%s]))`, namespace, model.Duration(window))
	return c.byMachine(ctx, query)
}

func (c *UtilizationClient) byMachine(ctx context.Context, query string) (map[string]float64, error) {
	value, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	for _, w := range warnings {
		c.log.Warn("Prometheus query warning", zap.String("query", query), zap.String("warning", w))
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s for %q", value.Type(), query)
	}
	out := make(map[string]float64, len(vector))
	for _, sample := range vector {
		out[string(sample.Metric["machine"])] = float64(sample.Value)
	}
	return out, nil
}
