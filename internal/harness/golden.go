package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the externally visible outcome of a scenario
// for golden comparison. Elapsed-ms values are deliberately excluded:
// wall-clock creep between fast-forwards makes them nondeterministic.
type TraceSnapshot struct {
	ScenarioName    string           `json:"scenario_name"`
	FinalState      string           `json:"final_state"`
	Transitions     []TransitionEdge `json:"transitions"`
	DownloadErrors  []string         `json:"download_errors"`
	AppliedVersions []uint32         `json:"applied_versions"`
}

// TransitionEdge is one state change, in order.
type TransitionEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Snapshot builds the golden-comparable view of a result.
func Snapshot(scenarioName string, result *Result) TraceSnapshot {
	s := TraceSnapshot{
		ScenarioName:    scenarioName,
		FinalState:      result.FinalState,
		Transitions:     make([]TransitionEdge, 0, len(result.Transitions)),
		DownloadErrors:  make([]string, 0, len(result.DownloadErrors)),
		AppliedVersions: make([]uint32, 0, len(result.AppliedVersions)),
	}
	for _, tr := range result.Transitions {
		s.Transitions = append(s.Transitions, TransitionEdge{From: tr.FromState, To: tr.ToState})
	}
	for _, e := range result.DownloadErrors {
		s.DownloadErrors = append(s.DownloadErrors, e.Reason)
	}
	for _, v := range result.AppliedVersions {
		s.AppliedVersions = append(s.AppliedVersions, v.Version)
	}
	return s
}

// RunWithGolden executes a scenario and compares its trace snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if scenario execution itself fails; trace mismatches
// and failed expect_state steps fail the test through t.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	snapshot := Snapshot(scenario.Name, result)
	traceJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	traceJSON = append(traceJSON, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return nil
}
