package sampler

import (
	"errors"
	"fmt"
)

// ErrUnknownPolicy is returned by ParsePolicy for unrecognised names.
var ErrUnknownPolicy = errors.New("unknown sampling policy")

// Policy decides which catalog sources contribute to a round.
type Policy string

const (
	// Probabilistic includes each source with its own probability per round.
	Probabilistic Policy = "probabilistic"

	// Exhaustive includes every source in every round.
	Exhaustive Policy = "exhaustive"
)

// Policies returns the supported policies.
func Policies() []Policy {
	return []Policy{Probabilistic, Exhaustive}
}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Probabilistic, Exhaustive:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

func (p Policy) String() string { return string(p) }

// labelPrefix is the lineage prefix for blocks combined under p.
func (p Policy) labelPrefix() string {
	if p == Exhaustive {
		return "composite_real+fallback"
	}
	return "composite_probabilistic"
}
