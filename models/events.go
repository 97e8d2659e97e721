package models

import (
	"time"
)

// EventType identifies an event emitted while a run executes
type EventType string

const (
	// Run events
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunError     EventType = "run.error"

	// Stage events (one stage per job)
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageError     EventType = "stage.error"
	EventStageOutput    EventType = "stage.output"

	// Matrix cell events
	EventCellStarted   EventType = "cell.started"
	EventCellCompleted EventType = "cell.completed"

	// Step events
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepSkipped   EventType = "step.skipped"
)

// Event is a generic run event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventListener receives events from a pipeline
type EventListener interface {
	OnEvent(event Event)
}

// EventListenerFunc adapts a function to EventListener
type EventListenerFunc func(event Event)

func (f EventListenerFunc) OnEvent(event Event) {
	f(event)
}

// EventEmitter is the subset of the event bus handed to job stages
type EventEmitter interface {
	Emit(eventType EventType, data map[string]interface{})
}
