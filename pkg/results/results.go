// Package results assembles the externally reported outcome of a run
// from its per-case results and output comparisons, and produces HTML
// diffs for mismatched outputs on demand.
package results

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/testplatform/runtrackr/pkg/artifacts"
	"github.com/testplatform/runtrackr/pkg/diff"
	"github.com/testplatform/runtrackr/pkg/store"
)

// CaseOutcome is the reported outcome of one test case in a run.
type CaseOutcome struct {
	CaseID           uint   `json:"case_id"`
	RuntimeMS        int    `json:"runtime_ms"`
	ExitCode         int    `json:"exit_code"`
	ExpectedExitCode int    `json:"expected_exit_code"`
	ExitCodeMatches  bool   `json:"exit_code_matches"`
	OutputsMatch     bool   `json:"outputs_match"`
	Passed           bool   `json:"passed"`
	FailedOutputs    []uint `json:"failed_outputs,omitempty"`
}

// RunOutcome is the aggregated outcome of a whole run.
type RunOutcome struct {
	RunID  uint          `json:"run_id"`
	Total  int           `json:"total"`
	Passed int           `json:"passed"`
	Failed int           `json:"failed"`
	Cases  []CaseOutcome `json:"cases"`
}

// CasePassed reports whether a case passed: its exit code matched the
// expected one and every output comparison was byte-identical.
func CasePassed(
	result store.CaseResult, cmps []store.CaseOutputComparison,
) bool {
	if result.ExitCode != result.ExpectedExitCode {
		return false
	}

	for _, cmp := range cmps {
		if cmp.CaseID == result.CaseID && !cmp.Matches() {
			return false
		}
	}

	return true
}

// AssembleOutcome builds a run outcome from its case results and
// output comparisons.
func AssembleOutcome(
	runID uint,
	caseResults []store.CaseResult,
	cmps []store.CaseOutputComparison,
) RunOutcome {
	outcome := RunOutcome{
		RunID: runID,
		Total: len(caseResults),
		Cases: make([]CaseOutcome, 0, len(caseResults)),
	}

	for _, result := range caseResults {
		c := CaseOutcome{
			CaseID:           result.CaseID,
			RuntimeMS:        result.RuntimeMS,
			ExitCode:         result.ExitCode,
			ExpectedExitCode: result.ExpectedExitCode,
			ExitCodeMatches:  result.ExitCode == result.ExpectedExitCode,
			OutputsMatch:     true,
		}

		for _, cmp := range cmps {
			if cmp.CaseID != result.CaseID || cmp.Matches() {
				continue
			}

			c.OutputsMatch = false
			c.FailedOutputs = append(c.FailedOutputs, cmp.OutputID)
		}

		c.Passed = c.ExitCodeMatches && c.OutputsMatch
		if c.Passed {
			outcome.Passed++
		} else {
			outcome.Failed++
		}

		outcome.Cases = append(outcome.Cases, c)
	}

	return outcome
}

// Aggregator derives run outcomes and mismatch diffs from stored
// records and artifact files.
type Aggregator interface {
	// Outcome assembles the aggregated outcome of a run.
	Outcome(ctx context.Context, runID uint) (*RunOutcome, error)

	// Diff renders the HTML diff for one mismatched output
	// comparison. Diffs are regenerated per request, never cached.
	Diff(
		ctx context.Context,
		cmp *store.CaseOutputComparison,
		mode diff.Mode,
	) (string, error)
}

// Compile-time interface check.
var _ Aggregator = (*aggregator)(nil)

type aggregator struct {
	log    logrus.FieldLogger
	store  store.Store
	reader artifacts.Reader
}

// NewAggregator creates an Aggregator reading records from the store
// and output files from the artifacts backend.
func NewAggregator(
	log logrus.FieldLogger,
	st store.Store,
	reader artifacts.Reader,
) Aggregator {
	return &aggregator{
		log:    log.WithField("component", "results"),
		store:  st,
		reader: reader,
	}
}

// Outcome assembles the aggregated outcome of a run.
func (a *aggregator) Outcome(
	ctx context.Context, runID uint,
) (*RunOutcome, error) {
	caseResults, err := a.store.ListCaseResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	cmps, err := a.store.ListOutputComparisons(ctx, runID)
	if err != nil {
		return nil, err
	}

	outcome := AssembleOutcome(runID, caseResults, cmps)

	return &outcome, nil
}

// Diff reads the expected and actual output files through the
// encoding-fallback reader and renders their comparison.
func (a *aggregator) Diff(
	ctx context.Context,
	cmp *store.CaseOutputComparison,
	mode diff.Mode,
) (string, error) {
	if cmp.Matches() {
		return "", fmt.Errorf(
			"output %d of case %d matched the expected file; no diff available",
			cmp.OutputID, cmp.CaseID,
		)
	}

	a.log.WithField("expected", cmp.ExpectedFile).
		WithField("actual", cmp.ActualFile).
		Debug("Generating diff")

	expectedLines, err := artifacts.ReadLines(ctx, a.reader, cmp.ExpectedFile)
	if err != nil {
		return "", fmt.Errorf("reading expected output: %w", err)
	}

	actualLines, err := artifacts.ReadLines(ctx, a.reader, cmp.ActualFile)
	if err != nil {
		return "", fmt.Errorf("reading actual output: %w", err)
	}

	return diff.HTML(expectedLines, actualLines, mode), nil
}
