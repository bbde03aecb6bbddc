package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// MachineUtilization is one machine's share of busy time over a window
type MachineUtilization struct {
	Machine     string  `json:"machine"`
	BusyRatio   float64 `json:"busy_ratio"`
	Completions float64 `json:"completions"`
}

// NewUtilizationCommand creates the utilization command.
func NewUtilizationCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		promURL string
		window  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "utilization",
		Short: "Query Prometheus for machine utilization",
		Long: `Query the Prometheus server scraping the factory runtime for the share of
time each machine was busy and the jobs it completed over a window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := rootOpts.settings(cmd)
			if err != nil {
				return err
			}
			source, err := rootOpts.newUtilization(promURL, log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			busy, err := source.BusyRatio(ctx, window)
			if err != nil {
				return err
			}
			completions, err := source.Completions(ctx, window)
			if err != nil {
				return err
			}

			seen := make(map[string]float64, len(busy))
			maps.Copy(seen, busy)
			maps.Copy(seen, completions)
			machines := slices.Sorted(maps.Keys(seen))

			rows := make([]MachineUtilization, 0, len(machines))
			for _, m := range machines {
				rows = append(rows, MachineUtilization{Machine: m, BusyRatio: busy[m], Completions: completions[m]})
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(rows, func(w io.Writer) {
				writeUtilization(w, rows, window)
			})
		},
	}

	cmd.Flags().StringVar(&promURL, "prometheus", "http://localhost:9090", "Prometheus base URL")
	cmd.Flags().DurationVar(&window, "window", 15*time.Minute, "lookback window")
	return cmd
}

func writeUtilization(w io.Writer, rows []MachineUtilization, window time.Duration) {
	if len(rows) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No samples in the last "+window.String()))
		return
	}
	widths := []int{14, 8}
	fmt.Fprintln(w, titleStyle.Render(row(widths, "MACHINE", "BUSY", "COMPLETED")))
	for _, r := range rows {
		fmt.Fprintln(w, row(widths, r.Machine, fmt.Sprintf("%.0f%%", r.BusyRatio*100), strconv.FormatFloat(r.Completions, 'f', -1, 64)))
	}
}
