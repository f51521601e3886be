package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/scenegen/backend/mesh"
	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/types"
)

// ErrorDetail is the serialized form of a stage or run error.
type ErrorDetail struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Backend string          `json:"backend,omitempty"`
	Stage   Stage           `json:"stage,omitempty"`
}

func (e *ErrorDetail) Error() string {
	return string(e.Code) + ": " + e.Message
}

func detailOf(err error, stage Stage) *ErrorDetail {
	if err == nil {
		return nil
	}
	d := &ErrorDetail{Code: types.GetErrorCode(err), Message: err.Error(), Stage: stage}
	if te, ok := types.AsError(err); ok {
		d.Message = te.Message
		d.Backend = te.Backend
	}
	if d.Code == "" {
		d.Code = types.ErrInternalError
	}
	return d
}

// StageResult records what happened in one stage.
type StageResult struct {
	Stage     Stage           `json:"stage"`
	Status    StageStatus     `json:"status"`
	Artifact  *types.Artifact `json:"artifact,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Task      *mesh.Task      `json:"task,omitempty"`

	err error
}

// Err returns the original error of a failed stage.
func (r StageResult) Err() error { return r.err }

func (r StageResult) clone() StageResult {
	r.Warnings = append([]string(nil), r.Warnings...)
	if r.Task != nil {
		t := *r.Task
		r.Task = &t
	}
	return r
}

// Run is the mutable state of one workflow execution. All access goes
// through its methods; the engine and the run manager read it concurrently.
type Run struct {
	ID      string
	Request Request

	mu         sync.RWMutex
	resolved   *Resolved
	plan       Plan
	current    Stage
	results    map[Stage]*StageResult
	services   []types.ServiceStatus
	warnings   []string
	handle     *scene.Handle
	suggestion *optimizer.Suggestion
	startedAt  time.Time
	finishedAt time.Time
	outcome    Outcome
	err        error
}

func newRun(id string, req Request) *Run {
	r := &Run{
		ID:      id,
		Request: req.Clone(),
		results: make(map[Stage]*StageResult, len(Stages)),
		outcome: OutcomeRunning,
	}
	for _, s := range Stages {
		r.results[s] = &StageResult{Stage: s, Status: StatusPending}
	}
	return r
}

// Outcome returns the current outcome, OutcomeRunning until finalized.
func (r *Run) Outcome() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome
}

// Err returns the primary error of a failed run.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Done reports whether the run reached a terminal outcome.
func (r *Run) Done() bool {
	o := r.Outcome()
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Result returns a copy of the stage result.
func (r *Run) Result(s Stage) StageResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sr, ok := r.results[s]; ok {
		return sr.clone()
	}
	return StageResult{Stage: s}
}

func (r *Run) start(now time.Time) {
	r.mu.Lock()
	r.startedAt = now
	r.mu.Unlock()
}

func (r *Run) setResolved(res Resolved, plan Plan) {
	r.mu.Lock()
	r.resolved = &res
	r.plan = plan
	r.mu.Unlock()
}

func (r *Run) setServices(st []types.ServiceStatus) {
	r.mu.Lock()
	r.services = st
	r.mu.Unlock()
}

func (r *Run) begin(s Stage, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s
	sr := r.results[s]
	sr.Status = StatusRunning
	sr.StartedAt = &now
}

// commit 用阶段草稿替换结果
func (r *Run) commit(sr StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := sr.clone()
	r.results[sr.Stage] = &stored
}

func (r *Run) setTask(s Stage, t mesh.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[s].Task = &t
}

func (r *Run) skipPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sr := range r.results {
		if sr.Status == StatusPending && sr.Stage != StageFinalization {
			sr.Status = StatusSkipped
		}
	}
}

func (r *Run) warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

func (r *Run) setHandle(h *scene.Handle) {
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
}

func (r *Run) setSuggestion(s optimizer.Suggestion) {
	r.mu.Lock()
	r.suggestion = &s
	r.mu.Unlock()
}

func (r *Run) finish(outcome Outcome, err error, now time.Time) {
	r.mu.Lock()
	r.outcome = outcome
	r.err = err
	r.finishedAt = now
	r.mu.Unlock()
}

// Report is the serialized view of a run, as returned to callers and stored.
type Report struct {
	ID           string                `json:"id"`
	Description  string                `json:"description"`
	Method       types.Method          `json:"method,omitempty"`
	Preset       string                `json:"preset,omitempty"`
	Outcome      Outcome               `json:"outcome"`
	Error        *ErrorDetail          `json:"error,omitempty"`
	CurrentStage Stage                 `json:"current_stage,omitempty"`
	Stages       []StageResult         `json:"stages"`
	Warnings     []string              `json:"warnings,omitempty"`
	Services     []types.ServiceStatus `json:"services,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
	Duration     time.Duration         `json:"duration"`
	Scene        *scene.Handle         `json:"scene,omitempty"`
	Resolved     *Resolved             `json:"resolved,omitempty"`
	Suggestion   *optimizer.Suggestion `json:"suggestion,omitempty"`
	Request      Request               `json:"request"`
}

// Stage returns the result for s, or nil.
func (r *Report) Stage(s Stage) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == s {
			return &r.Stages[i]
		}
	}
	return nil
}

// Terminal reports whether the run has finished.
func (r *Report) Terminal() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeFailed
}

// Report snapshots the run. Safe to call while the run executes.
func (r *Run) Report() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep := &Report{
		ID:           r.ID,
		Description:  r.Request.Description,
		Method:       r.Request.Method,
		Preset:       r.Request.Preset,
		Outcome:      r.outcome,
		CurrentStage: r.current,
		Warnings:     append([]string(nil), r.warnings...),
		Services:     append([]types.ServiceStatus(nil), r.services...),
		StartedAt:    r.startedAt,
		Scene:        r.handle,
		Suggestion:   r.suggestion,
		Request:      r.Request,
	}
	if r.resolved != nil {
		res := *r.resolved
		rep.Resolved = &res
		rep.Method = res.Method
		rep.Preset = res.Preset
	}
	for _, s := range Stages {
		rep.Stages = append(rep.Stages, r.results[s].clone())
	}
	if r.err != nil {
		rep.Error = detailOf(r.err, stageOf(r.err))
	}
	switch {
	case !r.finishedAt.IsZero():
		f := r.finishedAt
		rep.FinishedAt = &f
		rep.Duration = f.Sub(r.startedAt)
	case !r.startedAt.IsZero():
		rep.Duration = time.Since(r.startedAt)
	}
	return rep
}

func stageOf(err error) Stage {
	if te, ok := types.AsError(err); ok {
		return Stage(te.Stage)
	}
	return ""
}
