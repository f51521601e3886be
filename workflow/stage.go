package workflow

// Stage is one step of the fixed stage table.
type Stage string

const (
	StageInitialization  Stage = "INITIALIZATION"
	StageImageGeneration Stage = "IMAGE_GENERATION"
	StageModelGeneration Stage = "MODEL_GENERATION"
	StageSceneAssembly   Stage = "SCENE_ASSEMBLY"
	StageOptimization    Stage = "OPTIMIZATION"
	StageFinalization    Stage = "FINALIZATION"
)

// Stages is the stage table in execution order.
var Stages = []Stage{
	StageInitialization,
	StageImageGeneration,
	StageModelGeneration,
	StageSceneAssembly,
	StageOptimization,
	StageFinalization,
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// StageStatus is the state of a single stage within a run.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s StageStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	// OutcomeRunning 仅出现在运行中查询到的报告里
	OutcomeRunning Outcome = "RUNNING"
)
