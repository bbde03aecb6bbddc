package cli

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crabzie/factory-runtime/internal/bootstrap"
)

// CheckResult is the outcome of one connectivity check
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var promURL string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the configured store, broker and Prometheus",
		Long: `Connect to every configured backend and report which ones answer. The
store is read end to end, the broker topology is declared and, when
--prometheus is given, a utilization query is run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := runVerify(rootOpts, cmd, promURL)

			failed := false
			for _, r := range results {
				failed = failed || (!r.OK && !r.Skipped)
			}
			if err := newFormatter(rootOpts, cmd.OutOrStdout()).Emit(results, func(w io.Writer) {
				for _, r := range results {
					if r.Skipped {
						io.WriteString(w, mutedStyle.Render("- "+r.Name+": "+r.Detail)+"\n")
						continue
					}
					check(w, r.OK, "%s: %s", r.Name, r.Detail)
				}
			}); err != nil {
				return err
			}
			if failed {
				return errors.New("verification failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&promURL, "prometheus", "", "Prometheus base URL to query")
	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command, promURL string) []CheckResult {
	ctx := cmd.Context()
	cfg, log, err := opts.settings(cmd)
	if err != nil {
		return []CheckResult{{Name: "config", Detail: err.Error()}}
	}
	results := []CheckResult{{Name: "config", OK: true, Detail: "loaded"}}

	store := CheckResult{Name: "store " + cfg.Store.Backend}
	if sess, err := opts.open(cmd); err != nil {
		store.Detail = err.Error()
	} else {
		states, err := sess.factory.MachineStates(ctx)
		if err == nil {
			_, err = sess.factory.Schedule(ctx)
		}
		if err != nil {
			store.Detail = err.Error()
		} else {
			store.OK = true
			store.Detail = pluralize(len(states), "machine")
		}
		sess.Close()
	}
	results = append(results, store)

	broker := CheckResult{Name: "rabbitmq"}
	queue, err := opts.openQueue(ctx, cfg, log)
	switch {
	case errors.Is(err, bootstrap.ErrNoBroker):
		broker.Skipped = true
		broker.Detail = "not configured"
	case err != nil:
		broker.Detail = err.Error()
	default:
		broker.OK = true
		broker.Detail = "topology declared"
		if err := queue.Close(); err != nil {
			broker.OK = false
			broker.Detail = err.Error()
		}
	}
	results = append(results, broker)

	prom := CheckResult{Name: "prometheus"}
	if promURL == "" {
		prom.Skipped = true
		prom.Detail = "no --prometheus url"
	} else if source, err := opts.newUtilization(promURL, log); err != nil {
		prom.Detail = err.Error()
	} else if busy, err := source.BusyRatio(ctx, 5*time.Minute); err != nil {
		prom.Detail = err.Error()
	} else {
		prom.OK = true
		prom.Detail = pluralize(len(busy), "machine") + " reporting"
	}
	return append(results, prom)
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
