package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crabzie/factory-runtime/internal/core/domain"
)

// NewResourcesCommand creates the resources command.
func NewResourcesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resources [product...]",
		Short: "Show idle machines, inventory and what products need",
		Long: `Show which machines are idle, the remaining inventory and, for every
product given (all known products by default), the materials needed per unit
next to the remaining stock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			products := args
			if len(products) == 0 {
				if products, err = sess.factory.KnownProducts(ctx); err != nil {
					return err
				}
			}
			report, err := sess.factory.Resources(ctx, products)
			if err != nil {
				return err
			}
			inventory, err := sess.factory.Inventory(ctx)
			if err != nil {
				return err
			}

			out := struct {
				*domain.ResourceReport
				Inventory domain.Inventory `json:"inventory"`
			}{report, inventory}
			return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(out, func(w io.Writer) {
				writeResources(w, report, inventory)
			})
		},
	}
}

func writeResources(w io.Writer, report *domain.ResourceReport, inventory domain.Inventory) {
	idle := mutedStyle.Render("none")
	if len(report.IdleMachines) > 0 {
		idle = okStyle.Render(strings.Join(report.IdleMachines, ", "))
	}
	fmt.Fprintf(w, "%s %s\n\n", titleStyle.Render("Idle machines:"), idle)

	fmt.Fprintln(w, titleStyle.Render("Inventory"))
	for _, material := range slices.Sorted(maps.Keys(inventory)) {
		fmt.Fprintln(w, row([]int{2, 16}, "", material, domain.FormatQuantity(inventory[material])))
	}

	for _, p := range report.Products {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render(p.Product))
		if p.Error != "" {
			fmt.Fprintln(w, "  "+errStyle.Render(p.Error))
			continue
		}
		for _, need := range p.MaterialsNeeded {
			stock := domain.FormatQuantity(need.StockRemaining)
			if need.StockRemaining < need.QuantityPerUnit {
				stock = warnStyle.Render(stock)
			}
			fmt.Fprintln(w, row([]int{2, 16, 12}, "", need.Material, domain.FormatQuantity(need.QuantityPerUnit)+"/unit", "stock "+stock))
		}
	}
}

// NewProductsCommand creates the products command.
func NewProductsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "products [product...]",
		Short: "Summarize process time and materials per unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			products := args
			if len(products) == 0 {
				if products, err = sess.factory.KnownProducts(ctx); err != nil {
					return err
				}
			}

			if rootOpts.Format == "json" {
				specs := make([]domain.ProductSpec, 0, len(products))
				for _, product := range products {
					spec, err := sess.factory.ProductSpec(ctx, product)
					if err != nil {
						return err
					}
					specs = append(specs, spec)
				}
				return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(specs, nil)
			}

			summary, err := sess.factory.ProductSummary(ctx, products...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), boxStyle.Render(summary))
			return nil
		},
	}
}
