package models

import (
	"sync"
	"time"
)

// StepInput contains the input data for a stage
type StepInput struct {
	Data      map[string]map[string]*Data // Data from dependencies
	EventID   string                      // Run ID (propagated through pipeline)
	Timestamp time.Time                   // Event timestamp
	Run       *RunContext                 // Run-wide context (github, secrets, vars)
	mu        sync.RWMutex                // Mutex for concurrency
}

func (si *StepInput) Lock() {
	si.mu.Lock()
}

func (si *StepInput) Unlock() {
	si.mu.Unlock()
}

// JobResults extracts the job results produced by dependency stages
func (si *StepInput) JobResults() map[string]*JobResult {
	si.mu.RLock()
	defer si.mu.RUnlock()

	results := make(map[string]*JobResult, len(si.Data))
	for stageID, outputs := range si.Data {
		if data, ok := outputs[JobResultKey]; ok {
			if jr, ok := data.Value.(*JobResult); ok {
				results[stageID] = jr
			}
		}
	}
	return results
}
