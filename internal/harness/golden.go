package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/battery/internal/audit"
)

// TraceSnapshot captures the complete observable outcome of a scenario run.
type TraceSnapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Trace        []TraceEvent  `json:"trace"`
	Final        []FinalSample `json:"final"`
}

// toCanonicalMap converts the snapshot for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		trace[i] = eventMap(event)
	}

	final := make([]any, len(s.Final))
	for i, f := range s.Final {
		final[i] = map[string]any{
			"id":    f.ID,
			"label": f.Label,
			"score": f.Score,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"final":         final,
	}
}

func eventMap(e TraceEvent) map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"type": e.Type,
	}
	if e.Error != "" {
		m["error"] = e.Error
	}

	switch e.Type {
	case EventAdmit:
		m["label"] = e.Label
		if e.Error != "" {
			return m
		}
		m["score"] = e.Score
		m["admitted"] = e.Admitted
		m["retained"] = e.Retained
		if e.SampleID != "" {
			m["sample_id"] = e.SampleID
		}
		if len(e.Evicted) > 0 {
			m["evicted"] = e.Evicted
		}
	case EventDerive:
		m["method"] = e.Method
		if e.Error != "" {
			return m
		}
		m["key"] = e.Key
		m["record_id"] = e.RecordID
		m["blocks"] = e.Blocks
	}
	return m
}

// MarshalTrace renders a result as canonical JSON.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.Final,
	}
	return audit.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot be executed. A trace mismatch
// fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
