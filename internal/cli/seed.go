package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/crabzie/factory-runtime/config/seed"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Replace the store contents with a seed file",
		Long: `Load a YAML or JSON factory description (machines, processing times,
materials usage, materials available and schedule) and write every section
to the configured store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, cmd, args[0])
		},
	}
}

func runSeed(opts *RootOptions, cmd *cobra.Command, path string) error {
	s, err := seed.Load(path)
	if err != nil {
		return err
	}

	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := s.Apply(cmd.Context(), sess.store); err != nil {
		return err
	}

	result := map[string]int{
		"machines": len(s.Machines),
		"products": len(s.ProcessingTime),
		"orders":   len(s.Schedule),
	}
	return newFormatter(opts, cmd.OutOrStdout()).Emit(result, func(w io.Writer) {
		check(w, true, "Seeded %s store from %s (%d machines, %d products, %d orders)",
			sess.cfg.Store.Backend, path, len(s.Machines), len(s.ProcessingTime), len(s.Schedule))
	})
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the store contents as a seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			s, err := seed.Snapshot(cmd.Context(), sess.store)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd.OutOrStdout()).Emit(s, nil)
			}

			data, err := s.Marshal()
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			check(cmd.OutOrStdout(), true, "Exported store to %s", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write YAML to this file instead of stdout")
	return cmd
}
