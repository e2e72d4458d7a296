package harness

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/roach88/battery/internal/audit"
	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/entropy"
	"github.com/roach88/battery/internal/keyderive"
	"github.com/roach88/battery/internal/testutil"
)

// Harness runs scenarios with a deterministic clock and sample IDs.
type Harness struct {
	clock   *testutil.ManualClock
	store   *battery.Store
	deriver *keyderive.Deriver

	labels     map[string]string // sample ID -> label
	evicted    []string
	admitted   int
	lastBlocks []string
	seq        int64
}

// Run executes a scenario against a fresh store and returns the result.
//
// Expectation mismatches and failed assertions are reported in the Result.
// An error is returned only when the scenario cannot be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	h := newHarness(scenario.Store)
	result := NewResult()

	for i, step := range scenario.Steps {
		if step.Advance > 0 {
			h.clock.Advance(step.Advance)
		}

		var err error
		switch {
		case step.Admit != nil:
			err = h.admit(result, *step.Admit)
		case step.Derive != nil:
			err = h.derive(result, *step.Derive)
		}
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, s := range h.store.Snapshot() {
		result.Final = append(result.Final, FinalSample{
			ID:    s.ID,
			Label: s.SourceLabel,
			Score: audit.Score(s.Score),
		})
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluate(result, a); err != nil {
			result.AddError(err.Error())
		}
	}

	return result, nil
}

func newHarness(cfg StoreConfig) *Harness {
	clk := testutil.NewManualClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := []battery.Option{
		battery.WithClock(clk),
		battery.WithIDGenerator(testutil.NewSequentialIDs("sample").Next),
		battery.WithLogger(logger),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, battery.WithCapacity(cfg.Capacity))
	}
	if cfg.Threshold != nil {
		opts = append(opts, battery.WithThreshold(*cfg.Threshold))
	}

	return &Harness{
		clock: clk,
		store: battery.NewStore(opts...),
		deriver: keyderive.NewDeriver(
			keyderive.WithClock(clk),
			keyderive.WithLogger(logger),
		),
		labels: make(map[string]string),
	}
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

func (h *Harness) admit(result *Result, step AdmitStep) error {
	event := TraceEvent{Seq: h.nextSeq(), Type: EventAdmit, Label: step.Label}

	adm, err := h.store.Admit(generate(step.Pattern), step.Label)
	if err != nil {
		code := errorCode(err)
		if code == "" {
			return err
		}
		event.Error = code
		result.Trace = append(result.Trace, event)
		if code != step.ExpectError {
			result.AddError(fmt.Sprintf("admit %s: expected error %q, got %q", step.Label, step.ExpectError, code))
		}
		return nil
	}

	event.Score = audit.Score(adm.Score)
	event.Admitted = adm.Admitted
	event.Retained = adm.Retained
	if adm.Admitted {
		h.admitted++
		event.SampleID = adm.Sample.ID
		h.labels[adm.Sample.ID] = step.Label
	}
	for _, e := range adm.Evicted {
		event.Evicted = append(event.Evicted, e.ID)
		h.evicted = append(h.evicted, e.SourceLabel)
	}
	result.Trace = append(result.Trace, event)

	if step.ExpectError != "" {
		result.AddError(fmt.Sprintf("admit %s: expected error %q, got success", step.Label, step.ExpectError))
	}
	return nil
}

func (h *Harness) derive(result *Result, step DeriveStep) error {
	event := TraceEvent{Seq: h.nextSeq(), Type: EventDerive, Method: step.Method}

	key, rec, err := h.deriver.DeriveFrom(h.store, keyderive.Params{
		Method:    keyderive.Method(step.Method),
		TopN:      step.TopN,
		KeyLength: step.KeyLength,
	})
	if err != nil {
		code := errorCode(err)
		if code == "" {
			return err
		}
		event.Error = code
		result.Trace = append(result.Trace, event)
		if code != step.ExpectError {
			result.AddError(fmt.Sprintf("derive %s: expected error %q, got %q", step.Method, step.ExpectError, code))
		}
		return nil
	}

	event.Key = hex.EncodeToString(key)
	event.RecordID = rec.ID
	h.lastBlocks = h.lastBlocks[:0]
	for _, b := range rec.SourceBlocks {
		event.Blocks = append(event.Blocks, b.SampleID)
		h.lastBlocks = append(h.lastBlocks, h.labels[b.SampleID])
	}
	result.Trace = append(result.Trace, event)

	if step.ExpectError != "" {
		result.AddError(fmt.Sprintf("derive %s: expected error %q, got success", step.Method, step.ExpectError))
	}
	return nil
}

// errorCode maps domain errors to the names used in scenarios and traces.
// Unknown errors map to "".
func errorCode(err error) string {
	switch {
	case errors.Is(err, keyderive.ErrInsufficientMaterial):
		return "insufficient_material"
	case errors.Is(err, keyderive.ErrUnsupportedMethod):
		return "unsupported_method"
	case errors.Is(err, keyderive.ErrMissingDependency):
		return "missing_dependency"
	case errors.Is(err, keyderive.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, entropy.ErrInvalidInput):
		return "invalid_input"
	default:
		return ""
	}
}

// generate builds the block described by p.
func generate(p Pattern) []byte {
	switch p.Kind {
	case PatternRepeat:
		return bytes.Repeat([]byte{byte(p.Byte)}, p.Length)
	case PatternRamp:
		out := make([]byte, p.Length)
		for i := range out {
			out[i] = byte(i + p.Offset)
		}
		return out
	case PatternSeeded:
		rng := rand.New(rand.NewPCG(p.Seed, p.Seed))
		out := make([]byte, p.Length+7)
		for i := 0; i < p.Length; i += 8 {
			binary.LittleEndian.PutUint64(out[i:], rng.Uint64())
		}
		return out[:p.Length]
	default:
		return nil
	}
}
