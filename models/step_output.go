package models

import "time"

// StepOutput contains the data emitted by a stage
type StepOutput struct {
	Data      map[string]*Data // Stage result
	EventID   string           // Same EventID as the input (for tracing)
	Timestamp time.Time        // Output timestamp
}
