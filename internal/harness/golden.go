package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/hamicek/ruleengine/internal/canonicaljson"
)

// snapshot is the canonical-JSON-friendly shape persisted as a golden
// file: Result's trace and final facts, keyed by plain maps so
// canonicaljson.Marshal can order them deterministically.
type snapshot struct {
	Trace []TraceEvent   `json:"trace"`
	Facts map[string]any `json:"facts"`
}

// RunWithGolden executes scenario and compares its trace and final
// fact state against testdata/golden/<scenario.Name>.golden. Run
// `go test ./internal/harness -update` to (re)write the golden file
// after an intentional behavior change.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("running scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		t.Fatalf("scenario %s failed assertions: %v", scenario.Name, result.Errors)
	}

	snap, err := toCanonicalValue(snapshot{Trace: result.Trace, Facts: result.Facts})
	if err != nil {
		t.Fatalf("building snapshot for %s: %v", scenario.Name, err)
	}
	data, err := canonicaljson.Marshal(snap)
	if err != nil {
		t.Fatalf("canonical-encoding snapshot for %s: %v", scenario.Name, err)
	}

	g := goldie.New(t, goldie.WithFixtureDir("../../testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, scenario.Name, data)
	return result
}

// toCanonicalValue round-trips v through encoding/json to the plain
// map[string]any/[]any shape canonicaljson.Marshal expects, the same
// way canonicaljson's own fallback path does for struct inputs.
func toCanonicalValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
