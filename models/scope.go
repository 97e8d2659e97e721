package models

import (
	"maps"
	"runtime"
	"strings"
	"sync"
)

// Scope is the state visible to expressions evaluated inside one matrix cell
type Scope struct {
	Run       *RunContext
	Job       string
	Matrix    map[string]string
	Needs     map[string]*JobResult
	RunnerOS  string
	mu        sync.RWMutex
	steps     map[string]StepResult
	env       map[string]string
	jobStatus Outcome
	cancelled bool
}

// NewScope creates a scope for a cell of job
func NewScope(run *RunContext, job string, matrix map[string]string) *Scope {
	if run == nil {
		run = &RunContext{}
	}
	return &Scope{
		Run:       run,
		Job:       job,
		Matrix:    matrix,
		Needs:     map[string]*JobResult{},
		RunnerOS:  runnerOS(),
		steps:     map[string]StepResult{},
		env:       map[string]string{},
		jobStatus: OutcomeSuccess,
	}
}

func runnerOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// RecordStep stores a step result and updates the job status
func (s *Scope) RecordStep(r StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID != "" {
		s.steps[r.ID] = r
	}
	if r.Conclusion == OutcomeFailure {
		s.jobStatus = OutcomeFailure
	}
}

// SetNeeds exposes the results of the jobs this job depends on. The status
// functions of a job-level condition follow them: any failed need fails,
// a cancelled one cancels, a skipped one makes success() false.
func (s *Scope) SetNeeds(needs map[string]*JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Needs = needs
	for _, jr := range needs {
		switch jr.Result {
		case OutcomeFailure:
			s.jobStatus = OutcomeFailure
		case OutcomeCancelled:
			s.cancelled = true
			if s.jobStatus != OutcomeFailure {
				s.jobStatus = OutcomeCancelled
			}
		case OutcomeSkipped:
			if s.jobStatus == OutcomeSuccess {
				s.jobStatus = OutcomeSkipped
			}
		}
	}
}

// MarkCancelled flags the cell as cancelled
func (s *Scope) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.jobStatus != OutcomeFailure {
		s.jobStatus = OutcomeCancelled
	}
}

// MarkFailed sets the job status to failure without a failed step, as when the job times out
func (s *Scope) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobStatus = OutcomeFailure
}

// JobStatus returns the current job status of the cell
func (s *Scope) JobStatus() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobStatus
}

// Cancelled reports whether the cell was cancelled
func (s *Scope) Cancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// SetEnv sets variables exported by steps (GITHUB_ENV)
func (s *Scope) SetEnv(vars map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.env, vars)
}

// ExportedEnv returns a copy of the env exported by previous steps
func (s *Scope) ExportedEnv() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.env)
}

// Context builds the expression context. Keys are lower case; lookups are
// expected to be lower-cased by the evaluator.
func (s *Scope) Context(env map[string]string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make(map[string]any, len(s.steps))
	for id, r := range s.steps {
		outputs := make(map[string]any, len(r.Outputs))
		for k, v := range r.Outputs {
			outputs[strings.ToLower(k)] = v
		}
		steps[strings.ToLower(id)] = map[string]any{
			"outcome":    string(r.Outcome),
			"conclusion": string(r.Conclusion),
			"outputs":    outputs,
		}
	}

	needs := make(map[string]any, len(s.Needs))
	for id, jr := range s.Needs {
		outputs := make(map[string]any, len(jr.Outputs))
		for k, v := range jr.Outputs {
			outputs[strings.ToLower(k)] = v
		}
		needs[strings.ToLower(id)] = map[string]any{
			"result":  string(jr.Result),
			"outputs": outputs,
		}
	}

	secrets := make(map[string]any, len(s.Run.Secrets))
	for k, v := range s.Run.Secrets {
		secrets[strings.ToLower(k)] = v
	}

	vars := make(map[string]any, len(s.Run.Vars))
	for k, v := range s.Run.Vars {
		vars[strings.ToLower(k)] = v
	}

	return map[string]any{
		"github":  s.Run.GithubContext(s.Job),
		"matrix":  lowerKeys(s.Matrix),
		"steps":   steps,
		"needs":   needs,
		"env":     lowerKeys(env),
		"secrets": secrets,
		"vars":    vars,
		"job":     map[string]any{"status": string(s.jobStatus)},
		"runner":  map[string]any{"os": s.RunnerOS, "name": "nightly"},
	}
}

func lowerKeys(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
