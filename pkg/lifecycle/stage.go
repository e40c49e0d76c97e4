package lifecycle

import "fmt"

// Stage identifies a lifecycle phase or terminal outcome of a run.
type Stage string

// Run lifecycle stages. The first four form the ordered progression a
// run moves through; Canceled is a disjoint terminal outcome reachable
// from any non-terminal stage.
const (
	StagePreparation Stage = "preparation"
	StageBuilding    Stage = "building"
	StageTesting     Stage = "testing"
	StageCompleted   Stage = "completed"
	StageCanceled    Stage = "canceled"
)

// orderedStages is the fixed progression table. Never mutated after
// initialization; OrderedStages returns a copy.
var orderedStages = [4]Stage{
	StagePreparation,
	StageBuilding,
	StageTesting,
	StageCompleted,
}

// OrderedStages returns the ordered lifecycle stages a run progresses
// through. Canceled is not part of the progression.
func OrderedStages() []Stage {
	stages := make([]Stage, len(orderedStages))
	copy(stages, orderedStages[:])

	return stages
}

// StageIndex returns the position of a stage in the ordered progression,
// or -1 if the stage has no position (canceled or unrecognized).
func StageIndex(stage Stage) int {
	for i, s := range orderedStages {
		if s == stage {
			return i
		}
	}

	return -1
}

// Parse converts a string into a Stage.
func Parse(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage: %q", s)
	}

	return stage, nil
}

// Valid reports whether the stage is one of the known stages or the
// canceled outcome.
func (s Stage) Valid() bool {
	return s == StageCanceled || StageIndex(s) >= 0
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCanceled
}

func (s Stage) String() string {
	return string(s)
}
