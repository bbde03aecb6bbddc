package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crabzie/factory-runtime/internal/core/domain"
)

// NewOrdersCommand creates the orders command group.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List and add scheduled orders",
	}
	cmd.AddCommand(newOrdersListCommand(rootOpts))
	cmd.AddCommand(newOrdersAddCommand(rootOpts))
	return cmd
}

func newOrdersListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the pending schedule in FIFO order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			schedule, err := sess.factory.Schedule(cmd.Context())
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(schedule, func(w io.Writer) {
				writeSchedule(w, schedule)
			})
		},
	}
}

func writeSchedule(w io.Writer, schedule domain.Schedule) {
	if len(schedule) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No pending orders"))
		return
	}
	widths := []int{10, 16, 10}
	fmt.Fprintln(w, titleStyle.Render(row(widths, "ORDER", "PRODUCT", "QUANTITY", "METADATA")))
	for _, o := range schedule {
		fmt.Fprintln(w, row(widths, o.OrderID, o.Product, strconv.Itoa(o.Quantity), formatMetadata(o.Metadata)))
	}
}

func formatMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	parts := make([]string, 0, len(metadata))
	for k, v := range metadata {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	slices.Sort(parts)
	return strings.Join(parts, " ")
}

func newOrdersAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		product  string
		quantity int
		meta     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append an order to the schedule",
		Long: `Append an order to the end of the schedule. The order id continues the
numbering of the last scheduled order, or starts at ORD-001.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			var metadata map[string]any
			if len(meta) > 0 {
				metadata = make(map[string]any, len(meta))
				for k, v := range meta {
					metadata[k] = v
				}
			}

			order, err := sess.factory.AddOrder(cmd.Context(), product, quantity, metadata)
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(order, func(w io.Writer) {
				check(w, true, "Scheduled %s: %d x %s", order.OrderID, order.Quantity, order.Product)
			})
		},
	}

	cmd.Flags().StringVarP(&product, "product", "p", "", "product to build")
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "units to build")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "extra order fields (key=value)")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}
