package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/battery/internal/keyderive"
	"github.com/roach88/battery/internal/sampler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DeriveEvery int
	MaxRounds   int
}

// RunResult summarises a sampling session.
type RunResult struct {
	Rounds      int      `json:"rounds"`
	Admitted    int      `json:"admitted"`
	Retained    int      `json:"retained"`
	Derivations []string `json:"derivations"`
}

// RenderText prints the session summary.
func (r RunResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "rounds:      %d\n", r.Rounds)
	fmt.Fprintf(w, "admitted:    %d\n", r.Admitted)
	fmt.Fprintf(w, "retained:    %d\n", r.Retained)
	_, err := fmt.Fprintf(w, "derivations: %d\n", len(r.Derivations))
	for _, id := range r.Derivations {
		if _, err := fmt.Fprintf(w, "  %s\n", id); err != nil {
			return err
		}
	}
	return err
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample continuously",
		Long: `Run sampling rounds at the configured round interval, keeping the best
samples in the elite store and journaling every round when a journal is
configured.

With --derive-every N a key is derived after every N rounds; only the
provenance record is kept. The loop stops on SIGINT/SIGTERM or after
--max-rounds rounds.

Example:
  battery run --config battery.yaml --derive-every 50
  battery run --max-rounds 10 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSampling(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.DeriveEvery, "derive-every", 0, "derive a key every N rounds (0 disables)")
	cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "stop after N rounds (0 runs until interrupted)")

	return cmd
}

func runSampling(opts *RunOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.DeriveEvery < 0 || opts.MaxRounds < 0 {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid flags",
			fmt.Errorf("--derive-every and --max-rounds must be >= 0"))
	}

	rt, err := newSession(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer rt.close()

	var params keyderive.Params
	if opts.DeriveEvery > 0 {
		if params, err = rt.cfg.DeriveParams(); err != nil {
			return deriveFailure(f, err)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			rt.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var result RunResult
	var failure error
	onRound := func(ctx context.Context, r sampler.Round) error {
		result.Rounds++
		if r.Admission.Admitted {
			result.Admitted++
		}
		if err := rt.recordRound(ctx, r); err != nil {
			failure = f.Fail(ExitFailure, ErrCodeJournal, "failed to journal round", err)
			return failure
		}

		if opts.DeriveEvery > 0 && result.Rounds%opts.DeriveEvery == 0 {
			_, rec, err := rt.deriver.DeriveFrom(rt.store, params)
			switch {
			case errors.Is(err, keyderive.ErrInsufficientMaterial):
				rt.logger.Warn("skipping derivation: store is empty", "round", result.Rounds)
			case err != nil:
				failure = deriveFailure(f, err)
				return failure
			default:
				if rt.journal != nil {
					if err := rt.journal.WriteDerivation(ctx, rec); err != nil {
						failure = f.Fail(ExitFailure, ErrCodeJournal, "failed to journal derivation", err)
						return failure
					}
				}
				result.Derivations = append(result.Derivations, rec.ID)
			}
		}

		if opts.MaxRounds > 0 && result.Rounds >= opts.MaxRounds {
			return sampler.ErrStop
		}
		return nil
	}

	err = rt.sampler.Run(ctx, rt.cfg.RoundInterval, onRound)
	switch {
	case failure != nil:
		return failure
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return f.Fail(ExitFailure, ErrCodeSampling, "sampling failed", err)
	}

	result.Retained = rt.store.Len()
	rt.logger.Info("sampling stopped gracefully", "rounds", result.Rounds, "retained", result.Retained)
	return f.Success(result)
}
