package lifecycle

import (
	"encoding/json"
	"time"
)

// Event is a single recorded transition in a run's event log. Events
// for a run form an append-only sequence ordered by insertion; the
// derivation functions below interpret whatever sequence they are
// given and never mutate it.
type Event struct {
	RunID     uint      `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Progress report states.
const (
	StateOK    = "ok"
	StateError = "error"
)

// ProgressReport summarizes how far a run has progressed through the
// stage sequence. It is derived fresh from the event log on every
// request and never persisted.
type ProgressReport struct {
	State     string     `json:"state"`
	StepIndex int        `json:"step"`
	Stages    []Stage    `json:"stages"`
	Start     *time.Time `json:"start"`
	End       *time.Time `json:"end"`
}

// MarshalJSON renders absent start/end timestamps as the string
// "unset" rather than null, which is the shape the UI contract
// expects.
func (p ProgressReport) MarshalJSON() ([]byte, error) {
	type alias struct {
		State     string  `json:"state"`
		StepIndex int     `json:"step"`
		Stages    []Stage `json:"stages"`
		Start     any     `json:"start"`
		End       any     `json:"end"`
	}

	out := alias{
		State:     p.State,
		StepIndex: p.StepIndex,
		Stages:    p.Stages,
		Start:     "unset",
		End:       "unset",
	}

	if p.Start != nil {
		out.Start = p.Start.UTC()
	}

	if p.End != nil {
		out.End = p.End.UTC()
	}

	return json.Marshal(out)
}

// IsFinished reports whether the run has reached a terminal outcome.
// An empty event sequence means the run has not finished.
func IsFinished(events []Event) bool {
	if len(events) == 0 {
		return false
	}

	return events[len(events)-1].Stage.Terminal()
}

// HasFailed reports whether the run ended in cancellation.
func HasFailed(events []Event) bool {
	if len(events) == 0 {
		return false
	}

	return events[len(events)-1].Stage == StageCanceled
}

// DeriveProgress computes a progress report from a run's ordered event
// sequence. Malformed sequences (out-of-order timestamps, stages after
// a terminal event) are not rejected; the report reflects the last
// element on a best-effort basis since this is a reporting surface,
// not a validator.
func DeriveProgress(events []Event) ProgressReport {
	report := ProgressReport{
		State:     StateError,
		StepIndex: -1,
		Stages:    OrderedStages(),
	}

	if len(events) == 0 {
		return report
	}

	start := events[0].Timestamp.UTC()
	report.Start = &start

	last := events[len(events)-1]

	if last.Stage.Terminal() {
		end := last.Timestamp.UTC()
		report.End = &end
	}

	if last.Stage == StageCanceled {
		// Cancellation is not a progress stage. Report the last
		// genuine stage reached before it, when one exists.
		if len(events) > 1 {
			report.StepIndex = StageIndex(events[len(events)-2].Stage)
		}

		return report
	}

	report.State = StateOK
	report.StepIndex = StageIndex(last.Stage)

	return report
}
