package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
)

// NewAssignCommand creates the assign command.
func NewAssignCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req   domain.AssignRequest
		local bool
	)

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign an order to a machine",
		Long: `Send an assignment command to the running factory through the broker.

With --local the reservation runs in this process against the configured
store and the command waits until the job completes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				return runLocalAssign(rootOpts, cmd, req)
			}
			return runQueuedAssign(rootOpts, cmd, req)
		},
	}

	cmd.Flags().StringVarP(&req.Product, "product", "p", "", "product to build")
	cmd.Flags().IntVarP(&req.Quantity, "quantity", "q", 1, "units to build")
	cmd.Flags().StringVarP(&req.Machine, "machine", "m", "", "machine name, e.g. machine_a or a")
	cmd.Flags().StringVar(&req.OrderID, "order", "", "scheduled order id to remove on success")
	cmd.Flags().BoolVar(&local, "local", false, "reserve in this process and wait for completion")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func runQueuedAssign(opts *RootOptions, cmd *cobra.Command, req domain.AssignRequest) error {
	cfg, log, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	queue, err := opts.openQueue(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer queue.Close()

	if err := queue.PublishAssignment(cmd.Context(), req); err != nil {
		return err
	}
	return newFormatter(opts, cmd.OutOrStdout()).Emit(req, func(w io.Writer) {
		check(w, true, "Queued %d x %s on %s", req.Quantity, req.Product, req.Machine)
	})
}

func runLocalAssign(opts *RootOptions, cmd *cobra.Command, req domain.AssignRequest) error {
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	done := make(chan domain.CompletionEvent, 1)
	sess.factory.RegisterCallback(port.DecisionCallbackFunc(func(_ context.Context, ev domain.CompletionEvent) error {
		done <- ev
		return nil
	}))

	result, err := sess.factory.Assign(cmd.Context(), req)
	if err != nil {
		return err
	}
	f := newFormatter(opts, cmd.OutOrStdout())
	if !result.Success {
		_ = f.Emit(result, func(w io.Writer) { writeAssignResult(w, result) })
		return fmt.Errorf("assignment rejected: %s", result.Reason)
	}
	if opts.Format == "text" {
		writeAssignResult(f.Writer, result)
		fmt.Fprintln(f.Writer, mutedStyle.Render("Waiting for completion..."))
	}

	select {
	case ev := <-done:
		return f.Emit(ev, func(w io.Writer) {
			fmt.Fprintln(w, boxStyle.Render(domain.CompletionPrompt(ev)))
		})
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
}

func writeAssignResult(w io.Writer, result *domain.AssignResult) {
	if !result.Success {
		check(w, false, "%s", result.Message)
		for _, s := range result.Shortfalls {
			fmt.Fprintln(w, "  "+warnStyle.Render(s.String()))
		}
		return
	}
	check(w, true, "%s", result.Message)
	fmt.Fprintf(w, "  %s %s for %ds\n", mutedStyle.Render("machine"), result.Machine, result.DurationSeconds)
	orders := make([]string, 0, len(result.Schedule))
	for _, o := range result.Schedule {
		orders = append(orders, o.OrderID)
	}
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("pending"), strings.Join(orders, ", "))
}
