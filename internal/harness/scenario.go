package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes a deterministic run against a fresh elite store:
// admissions of generated blocks, derivations, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store configures the elite store. Zero values mean the defaults.
	Store StoreConfig `yaml:"store"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final store.
	Assertions []Assertion `yaml:"assertions"`
}

// StoreConfig sets elite store parameters.
type StoreConfig struct {
	Capacity  int      `yaml:"capacity,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty"`
}

// Step is one scenario action. Exactly one of Admit or Derive is set.
// Advance moves the clock forward before the action runs.
type Step struct {
	Advance time.Duration `yaml:"advance,omitempty"`
	Admit   *AdmitStep    `yaml:"admit,omitempty"`
	Derive  *DeriveStep   `yaml:"derive,omitempty"`
}

// AdmitStep submits a generated block.
type AdmitStep struct {
	Label   string  `yaml:"label"`
	Pattern Pattern `yaml:"pattern"`

	// ExpectError names the error the admission must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// DeriveStep derives a key from the current store.
type DeriveStep struct {
	Method    string `yaml:"method"`
	TopN      int    `yaml:"top_n"`
	KeyLength int    `yaml:"key_length"`

	// ExpectError names the error the derivation must fail with (see
	// errorCode). Empty means it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Pattern kinds.
const (
	PatternRepeat = "repeat" // Length copies of Byte
	PatternRamp   = "ramp"   // byte(i + Offset)
	PatternSeeded = "seeded" // uniform bytes from a PCG seeded with Seed
)

// Pattern generates a deterministic byte block.
type Pattern struct {
	Kind   string `yaml:"kind"`
	Length int    `yaml:"length"`
	Byte   int    `yaml:"byte,omitempty"`
	Offset int    `yaml:"offset,omitempty"`
	Seed   uint64 `yaml:"seed,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "store_labels": final store labels, in store order
	// - "store_count": final number of retained samples
	// - "evicted": labels evicted during the run, in eviction order
	// - "admitted_count": number of admissions that met the threshold
	// - "derive_blocks": labels consumed by the last successful derivation
	Type string `yaml:"type"`

	// Labels is the expected label list (store_labels, evicted, derive_blocks).
	Labels []string `yaml:"labels,omitempty"`

	// Count is the expected count (store_count, admitted_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStoreLabels   = "store_labels"
	AssertStoreCount    = "store_count"
	AssertEvicted       = "evicted"
	AssertAdmittedCount = "admitted_count"
	AssertDeriveBlocks  = "derive_blocks"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Store.Capacity < 0 {
		return fmt.Errorf("store.capacity must be non-negative")
	}

	for i, step := range s.Steps {
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", i)
		}
		switch {
		case step.Admit != nil && step.Derive != nil:
			return fmt.Errorf("steps[%d]: admit and derive are mutually exclusive", i)
		case step.Admit != nil:
			if step.Admit.Label == "" {
				return fmt.Errorf("steps[%d].admit: label is required", i)
			}
			if err := validatePattern(step.Admit.Pattern); err != nil {
				return fmt.Errorf("steps[%d].admit.pattern: %w", i, err)
			}
		case step.Derive != nil:
			if step.Derive.Method == "" {
				return fmt.Errorf("steps[%d].derive: method is required", i)
			}
		default:
			return fmt.Errorf("steps[%d]: one of admit or derive is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validatePattern(p Pattern) error {
	if p.Length < 0 {
		return fmt.Errorf("length must be non-negative")
	}
	switch p.Kind {
	case PatternRepeat:
		if p.Byte < 0 || p.Byte > 255 {
			return fmt.Errorf("byte must be in [0,255], got %d", p.Byte)
		}
	case PatternRamp, PatternSeeded:
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStoreLabels, AssertEvicted, AssertDeriveBlocks:
		if a.Labels == nil {
			return fmt.Errorf("assertions[%d]: labels is required for %s (use [] for none)", index, a.Type)
		}
	case AssertStoreCount, AssertAdmittedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
