package model

import "github.com/rotisserie/eris"

// Stage is one discrete phase of the run-level state machine. Exactly one
// stage is current at any time, and the order is strict.
type Stage int

const (
	StageUpload Stage = iota
	StageExtraction
	StageRubricSetup
	StageScoring
	StageResults
)

var stageNames = map[Stage]string{
	StageUpload:      "upload",
	StageExtraction:  "extraction",
	StageRubricSetup: "rubric_setup",
	StageScoring:     "scoring",
	StageResults:     "results",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Before reports whether s comes strictly earlier than other in the stage
// order.
func (s Stage) Before(other Stage) bool {
	return s < other
}

// ParseStage converts a wire name back into a Stage.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return StageUpload, eris.Errorf("model: unknown stage %q", name)
}
