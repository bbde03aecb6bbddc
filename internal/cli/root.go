// Package cli implements factoryctl, the operator command line of the
// factory runtime.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/factory-runtime/internal/bootstrap"
	"github.com/crabzie/factory-runtime/internal/core/port"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	loadConfig     func(path string) (*config.AppConfig, error)
	openStore      func(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*bootstrap.Store, error)
	openQueue      func(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (port.QueueService, error)
	newUtilization func(url string, log *zap.Logger) (UtilizationSource, error)
}

// UtilizationSource answers machine utilization queries
type UtilizationSource interface {
	BusyRatio(ctx context.Context, window time.Duration) (map[string]float64, error)
	Completions(ctx context.Context, window time.Duration) (map[string]float64, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func defaultOptions() *RootOptions {
	return &RootOptions{
		Format:     "text",
		loadConfig: config.Load,
		openStore:  bootstrap.OpenStore,
		openQueue:  bootstrap.OpenQueue,
		newUtilization: func(url string, log *zap.Logger) (UtilizationSource, error) {
			return prometheus.NewUtilizationClient(url, log)
		},
	}
}

// NewRootCommand creates the root command for factoryctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultOptions())
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "factoryctl",
		Short: "Operate the factory runtime",
		Long:  "Inspect and change factory state, queue assignments and run simulations against the configured store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", opts.Format, "output format (json|text)")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewResourcesCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewAssignCommand(opts))
	cmd.AddCommand(NewUtilizationCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))

	return cmd
}
