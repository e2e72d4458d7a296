package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/battery/internal/battery"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Rounds int
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Sample noise and print the store contents",
		Long: `Run a number of sampling rounds, then print every retained sample with
its score, capture time, source label and base64-encoded bytes.

The export is an inspection aid. It contains raw sample bytes and must not
be treated as key material storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Rounds, "rounds", 8, "sampling rounds to run before exporting")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.Rounds < 0 {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid rounds", fmt.Errorf("--rounds must be >= 0, got %d", opts.Rounds))
	}

	rt, err := newSession(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.fill(commandContext(cmd), opts.Rounds, f); err != nil {
		return err
	}

	export := rt.store.Export()
	if f.Format == "json" {
		return f.Success(export)
	}
	return battery.WriteExport(f.Writer, export)
}
