package models

import (
	"time"
)

// Outcome is the coarse status recorded for a step, cell, job or run
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// Worse returns the more severe of two outcomes.
// failure > cancelled > success > skipped
func (o Outcome) Worse(other Outcome) Outcome {
	if outcomeRank(other) > outcomeRank(o) {
		return other
	}
	return o
}

func outcomeRank(o Outcome) int {
	switch o {
	case OutcomeFailure:
		return 3
	case OutcomeCancelled:
		return 2
	case OutcomeSuccess:
		return 1
	default:
		return 0
	}
}

// StepResult is what a single step of a matrix cell produced.
// Outcome is the raw result; Conclusion is the result after continue-on-error.
type StepResult struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Outcome    Outcome           `json:"outcome"`
	Conclusion Outcome           `json:"conclusion"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// CellResult is the result of one matrix combination of a job
type CellResult struct {
	Job        string            `json:"job"`
	Name       string            `json:"name"`
	Matrix     map[string]string `json:"matrix"`
	RunsOn     string            `json:"runs_on"`
	Steps      []StepResult      `json:"steps"`
	Conclusion Outcome           `json:"conclusion"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Step returns the result of the step with the given id
func (c *CellResult) Step(id string) (StepResult, bool) {
	for _, s := range c.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepResult{}, false
}

// JobResult aggregates the cells of a job
type JobResult struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Cells      []CellResult      `json:"cells"`
	Result     Outcome           `json:"result"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// RunResult is the result of a whole workflow run
type RunResult struct {
	ID         string      `json:"id"`
	Number     int         `json:"number"`
	Workflow   string      `json:"workflow"`
	Event      string      `json:"event"`
	Ref        string      `json:"ref"`
	Jobs       []JobResult `json:"jobs"`
	Conclusion Outcome     `json:"conclusion"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}
