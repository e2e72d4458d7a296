package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/battery/internal/audit"
	"github.com/roach88/battery/internal/journal"
	"github.com/roach88/battery/internal/keyderive"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// HistoryResult is the output of the history command.
type HistoryResult struct {
	Derivations []keyderive.Record `json:"derivations"`
	Rounds      int                `json:"rounds"`
	Admitted    int                `json:"admitted"`
}

// RenderText prints one line per derivation, newest first.
func (r HistoryResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%d rounds journaled, %d admitted\n", r.Rounds, r.Admitted)
	if len(r.Derivations) == 0 {
		_, err := fmt.Fprintln(w, "no derivations")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DERIVED\tMETHOD\tBITS\tBLOCKS\tTOP SCORE\tRECORD")
	for _, rec := range r.Derivations {
		top := "-"
		if len(rec.SourceBlocks) > 0 {
			top = audit.Score(rec.SourceBlocks[0].Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.DerivedAt.UTC().Format(time.RFC3339),
			rec.Method,
			rec.KeyBits,
			len(rec.SourceBlocks),
			top,
			rec.ID)
	}
	return tw.Flush()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled derivations",
		Long: `List the derivation records stored in a journal, newest first, along
with round counts.

The journal path comes from --db, or from the journal setting in the
configuration when --db is not given.

Example:
  battery history --db ./battery.db --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of derivations to list")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Limit <= 0 {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid limit", fmt.Errorf("--limit must be > 0, got %d", opts.Limit))
	}

	path := opts.Database
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions, f)
		if err != nil {
			return err
		}
		path = cfg.Journal
	}
	if path == "" {
		return f.Fail(ExitCommandError, ErrCodeJournal, "no journal configured",
			errors.New("pass --db or set journal in the configuration"))
	}

	j, err := journal.Open(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	ctx := commandContext(cmd)
	var result HistoryResult
	if result.Derivations, err = j.Derivations(ctx, opts.Limit); err != nil {
		return f.Fail(ExitFailure, ErrCodeJournal, "failed to read derivations", err)
	}
	if result.Rounds, err = j.RoundCount(ctx); err != nil {
		return f.Fail(ExitFailure, ErrCodeJournal, "failed to count rounds", err)
	}
	if result.Admitted, err = j.AdmittedCount(ctx); err != nil {
		return f.Fail(ExitFailure, ErrCodeJournal, "failed to count rounds", err)
	}

	return f.Success(result)
}
