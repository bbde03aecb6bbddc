package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/crabzie/factory-runtime/config/seed"
	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/crabzie/factory-runtime/internal/core/service"
)

// SimulationOptions tunes the traffic generator
type SimulationOptions struct {
	SeedFile    string
	Duration    time.Duration
	Interval    time.Duration
	TimeUnit    time.Duration
	MaxBatch    int
	MaxQuantity int
	RandSeed    uint64
}

// SimulationReport summarizes one simulation run
type SimulationReport struct {
	OrdersInjected int                `json:"orders_injected"`
	JobsStarted    int                `json:"jobs_started"`
	JobsCompleted  int                `json:"jobs_completed"`
	PendingOrders  int                `json:"pending_orders"`
	BusySeconds    map[string]float64 `json:"busy_seconds"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	simOpts := SimulationOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Inject random orders and dispatch them in process",
		Long: `Run the factory in this process: every interval a batch of random orders
is appended to the schedule and pending orders are dispatched to idle
machines. When the duration is over, running jobs are drained and a
utilization summary is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, simOpts, cmd)
		},
	}

	cmd.Flags().StringVar(&simOpts.SeedFile, "seed", "", "seed file applied before the run")
	cmd.Flags().DurationVar(&simOpts.Duration, "duration", time.Minute, "how long to inject orders")
	cmd.Flags().DurationVar(&simOpts.Interval, "interval", time.Second, "time between injections")
	cmd.Flags().DurationVar(&simOpts.TimeUnit, "time-unit", 100*time.Millisecond, "wall time of one simulated second")
	cmd.Flags().IntVar(&simOpts.MaxBatch, "batch", 3, "maximum orders per injection")
	cmd.Flags().IntVar(&simOpts.MaxQuantity, "max-quantity", 5, "maximum units per order")
	cmd.Flags().Uint64Var(&simOpts.RandSeed, "rand-seed", 1, "random seed for reproducible runs")
	return cmd
}

func runSimulate(opts *RootOptions, simOpts SimulationOptions, cmd *cobra.Command) error {
	if simOpts.Interval <= 0 || simOpts.MaxBatch < 1 || simOpts.MaxQuantity < 1 {
		return fmt.Errorf("interval, batch and max-quantity must be positive")
	}

	sess, err := opts.openWithUnit(cmd, simOpts.TimeUnit)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	if simOpts.SeedFile != "" {
		s, err := seed.Load(simOpts.SeedFile)
		if err != nil {
			return err
		}
		if err := s.Apply(ctx, sess.store); err != nil {
			return err
		}
	}

	products, err := sess.factory.KnownProducts(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return fmt.Errorf("no products configured, seed the store first")
	}

	text := opts.Format == "text"
	var (
		mu     sync.Mutex
		report = SimulationReport{}
		out    = cmd.OutOrStdout()
	)
	say := func(format string, args ...any) {
		if text {
			mu.Lock()
			fmt.Fprintf(out, format+"\n", args...)
			mu.Unlock()
		}
	}

	sess.factory.RegisterCallback(port.DecisionCallbackFunc(func(_ context.Context, ev domain.CompletionEvent) error {
		mu.Lock()
		report.JobsCompleted++
		mu.Unlock()
		say("%s %s finished %s (%d x %s), %d pending", okStyle.Render("✓"), ev.Machine, ev.OrderID, ev.Quantity, ev.Product, len(ev.Schedule))
		return nil
	}))

	dispatcher := service.NewDispatcherService(sess.factory, sess.log.Named("dispatcher"))
	rng := rand.New(rand.NewPCG(simOpts.RandSeed, simOpts.RandSeed))

	say("%s", titleStyle.Render(fmt.Sprintf("Starting %s traffic simulation over %d products", simOpts.Duration, len(products))))

	deadline := time.Now().Add(simOpts.Duration)
	ticker := time.NewTicker(simOpts.Interval)
	defer ticker.Stop()

inject:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				break inject
			}
			batch := rng.IntN(simOpts.MaxBatch) + 1
			for range batch {
				product := products[rng.IntN(len(products))]
				quantity := rng.IntN(simOpts.MaxQuantity) + 1
				order, err := sess.factory.AddOrder(ctx, product, quantity, map[string]any{"source": "simulation"})
				if err != nil {
					return err
				}
				mu.Lock()
				report.OrdersInjected++
				mu.Unlock()
				say("%s %s: %d x %s", mutedStyle.Render("+"), order.OrderID, quantity, product)
			}

			started, err := dispatcher.DispatchPending(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			report.JobsStarted += started
			mu.Unlock()
		}
	}

	say("%s", mutedStyle.Render("Draining running jobs..."))
	for len(sess.factory.ActiveJobs()) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	schedule, err := sess.factory.Schedule(ctx)
	if err != nil {
		return err
	}

	mu.Lock()
	report.PendingOrders = len(schedule)
	report.BusySeconds = sess.factory.Summarize()
	final := report
	mu.Unlock()

	return newFormatter(opts, out).Emit(final, func(w io.Writer) {
		writeSimulationReport(w, final)
	})
}

func writeSimulationReport(w io.Writer, r SimulationReport) {
	lines := []string{
		titleStyle.Render("Simulation complete"),
		fmt.Sprintf("orders injected  %d", r.OrdersInjected),
		fmt.Sprintf("jobs started     %d", r.JobsStarted),
		fmt.Sprintf("jobs completed   %d", r.JobsCompleted),
		fmt.Sprintf("pending orders   %d", r.PendingOrders),
	}
	for _, m := range slices.Sorted(maps.Keys(r.BusySeconds)) {
		lines = append(lines, fmt.Sprintf("busy %-11s %s s", m, domain.FormatQuantity(r.BusySeconds[m])))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}
