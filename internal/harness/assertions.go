package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventAdmit:
			fmt.Fprintf(&buf, "  [%d] admit %s score=%s admitted=%t\n", event.Seq, event.Label, event.Score, event.Admitted)
		case EventDerive:
			fmt.Fprintf(&buf, "  [%d] derive %s blocks=%v error=%q\n", event.Seq, event.Method, event.Blocks, event.Error)
		}
	}
	return buf.String()
}

// evaluate checks one assertion against the run.
func (h *Harness) evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertStoreLabels:
		labels := make([]string, len(result.Final))
		for i, s := range result.Final {
			labels[i] = s.Label
		}
		return compareLabels(result, a, labels)

	case AssertStoreCount:
		return compareCount(result, a, len(result.Final))

	case AssertEvicted:
		return compareLabels(result, a, h.evicted)

	case AssertAdmittedCount:
		return compareCount(result, a, h.admitted)

	case AssertDeriveBlocks:
		return compareLabels(result, a, h.lastBlocks)

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func compareLabels(result *Result, a Assertion, actual []string) error {
	if slices.Equal(a.Labels, actual) || (len(a.Labels) == 0 && len(actual) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%v", a.Labels),
		Actual:   fmt.Sprintf("%v", actual),
		Trace:    result.Trace,
	}
}

func compareCount(result *Result, a Assertion, actual int) error {
	if a.Count == actual {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d", a.Count),
		Actual:   fmt.Sprintf("%d", actual),
		Trace:    result.Trace,
	}
}
