package cli

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/config"
	"github.com/roach88/battery/internal/journal"
	"github.com/roach88/battery/internal/keyderive"
	"github.com/roach88/battery/internal/sampler"
	"github.com/roach88/battery/internal/source"
)

// session wires the components for one command invocation.
type session struct {
	cfg     config.Config
	store   *battery.Store
	sampler *sampler.Sampler
	deriver *keyderive.Deriver
	journal *journal.Journal // nil when journaling is disabled
	logger  *slog.Logger
}

// newLogger configures the default slog logger on w. Verbose enables debug
// events (fallbacks, evictions).
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads configuration for a command, mapping failures to
// ExitCommandError.
func loadConfig(opts *RootOptions, f *OutputFormatter) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	return cfg, nil
}

// newSession builds the store, reader, sampler, deriver and optional journal
// from configuration. Callers must call close.
func newSession(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts, f)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.SamplerPolicy()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid policy", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		if seed, err = randomSeed(); err != nil {
			return nil, f.Fail(ExitFailure, ErrCodeGeneric, "failed to seed simulator", err)
		}
	}

	devices := opts.devices
	if devices == nil {
		devices = source.DefaultDevices()
	}
	reader := source.NewReader(
		source.WithDevices(devices),
		source.WithMinInterval(cfg.MinInterval),
		source.WithReadTimeout(cfg.ReadTimeout),
		source.WithLogger(logger),
	)

	store := battery.NewStore(
		battery.WithCapacity(cfg.Capacity),
		battery.WithThreshold(cfg.Threshold),
		battery.WithLogger(logger),
	)

	rt := &session{
		cfg:   cfg,
		store: store,
		sampler: sampler.New(reader, source.NewSimulator(seed), store,
			sampler.WithPolicy(policy),
			sampler.WithProbabilities(cfg.SourceProbabilities()),
			sampler.WithSeed(seed),
			sampler.WithLogger(logger),
		),
		deriver: keyderive.NewDeriver(keyderive.WithLogger(logger)),
		logger:  logger,
	}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		rt.journal = j
	}

	logger.Debug("battery configured",
		"policy", policy,
		"capacity", cfg.Capacity,
		"threshold", cfg.Threshold,
		"journal", cfg.Journal)

	return rt, nil
}

func (rt *session) close() {
	if rt.journal == nil {
		return
	}
	if err := rt.journal.Close(); err != nil {
		rt.logger.Error("error closing journal", "error", err)
	}
}

// round runs one sampling round and journals it.
func (rt *session) round(ctx context.Context) (sampler.Round, error) {
	r, err := rt.sampler.Round(ctx)
	if err != nil {
		return sampler.Round{}, err
	}
	if err := rt.recordRound(ctx, r); err != nil {
		return sampler.Round{}, err
	}
	return r, nil
}

func (rt *session) recordRound(ctx context.Context, r sampler.Round) error {
	if rt.journal == nil {
		return nil
	}
	return rt.journal.WriteRound(ctx, r)
}

// fill runs n rounds back to back.
func (rt *session) fill(ctx context.Context, n int, f *OutputFormatter) error {
	for i := 0; i < n; i++ {
		r, err := rt.round(ctx)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeSampling, "sampling round failed", err)
		}
		f.VerboseLog("round %d: %s score=%.4f admitted=%t", i+1, r.Label, r.Admission.Score, r.Admission.Admitted)
	}
	return nil
}

// derive derives from the store and journals the record.
func (rt *session) derive(ctx context.Context, p keyderive.Params, f *OutputFormatter) ([]byte, keyderive.Record, error) {
	key, rec, err := rt.deriver.DeriveFrom(rt.store, p)
	if err != nil {
		return nil, keyderive.Record{}, deriveFailure(f, err)
	}
	if rt.journal != nil {
		if err := rt.journal.WriteDerivation(ctx, rec); err != nil {
			return nil, keyderive.Record{}, f.Fail(ExitFailure, ErrCodeJournal, "failed to journal derivation", err)
		}
	}
	return key, rec, nil
}

// deriveFailure maps derivation errors to exit codes.
func deriveFailure(f *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, keyderive.ErrInsufficientMaterial):
		return f.Fail(ExitFailure, ErrCodeInsufficient, "no retained samples to derive from", err)
	case errors.Is(err, keyderive.ErrUnsupportedMethod),
		errors.Is(err, keyderive.ErrMissingDependency),
		errors.Is(err, keyderive.ErrInvalidParameter):
		return f.Fail(ExitCommandError, ErrCodeDerive, "derivation rejected", err)
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, "derivation failed", err)
	}
}

func randomSeed() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// commandContext returns cmd's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
