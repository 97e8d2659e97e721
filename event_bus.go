package nightly

import (
	"sync"
	"time"

	"github.com/simon020286/nightly/models"
)

// eventBus manages event distribution to registered listeners (private).
// Events are delivered in emission order by a single dispatcher goroutine so
// the caller never blocks on a slow listener.
type eventBus struct {
	listeners   []models.EventListener
	mutex       sync.RWMutex
	queueMu     sync.Mutex
	queue       []models.Event
	dispatching bool
	pendingWg   sync.WaitGroup // Tracks events being processed
}

// newEventBus creates a new eventBus instance (private)
func newEventBus() *eventBus {
	return &eventBus{
		listeners: make([]models.EventListener, 0),
	}
}

// addListener registers a new listener
func (eb *eventBus) addListener(listener models.EventListener) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	eb.listeners = append(eb.listeners, listener)
}

// Emit queues an event for all registered listeners
func (eb *eventBus) Emit(eventType models.EventType, data map[string]interface{}) {
	event := models.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	eb.pendingWg.Add(1)
	eb.queueMu.Lock()
	eb.queue = append(eb.queue, event)
	start := !eb.dispatching
	eb.dispatching = true
	eb.queueMu.Unlock()

	if start {
		go eb.dispatch()
	}
}

func (eb *eventBus) dispatch() {
	for {
		eb.queueMu.Lock()
		if len(eb.queue) == 0 {
			eb.dispatching = false
			eb.queueMu.Unlock()
			return
		}
		event := eb.queue[0]
		eb.queue = eb.queue[1:]
		eb.queueMu.Unlock()

		eb.mutex.RLock()
		listeners := make([]models.EventListener, len(eb.listeners))
		copy(listeners, eb.listeners)
		eb.mutex.RUnlock()

		for _, l := range listeners {
			l.OnEvent(event)
		}
		eb.pendingWg.Done()
	}
}

// Wait waits for all pending events to be processed
func (eb *eventBus) Wait() {
	eb.pendingWg.Wait()
}

// EmitRunStarted emits a run start event
func (eb *eventBus) EmitRunStarted(run *models.RunContext) {
	eb.Emit(models.EventRunStarted, map[string]interface{}{
		"run_id":   run.RunID,
		"workflow": run.Workflow,
		"event":    run.Event,
		"ref":      run.Ref,
	})
}

// EmitRunCompleted emits a run completion event
func (eb *eventBus) EmitRunCompleted(result *models.RunResult) {
	eb.Emit(models.EventRunCompleted, map[string]interface{}{
		"run_id":     result.ID,
		"workflow":   result.Workflow,
		"conclusion": string(result.Conclusion),
		"duration":   result.FinishedAt.Sub(result.StartedAt),
		"result":     result,
	})
}

// EmitRunError emits a run error event
func (eb *eventBus) EmitRunError(runID string, err error) {
	eb.Emit(models.EventRunError, map[string]interface{}{
		"run_id": runID,
		"error":  err.Error(),
	})
}

// EmitStageError emits a stage error event
func (eb *eventBus) EmitStageError(stageID, runID string, err error) {
	eb.Emit(models.EventStageError, map[string]interface{}{
		"stage_id": stageID,
		"run_id":   runID,
		"error":    err.Error(),
	})
}

// EmitStageOutput emits a stage output event
func (eb *eventBus) EmitStageOutput(stageID, runID string, output map[string]*models.Data) {
	eb.Emit(models.EventStageOutput, map[string]interface{}{
		"stage_id": stageID,
		"run_id":   runID,
		"output":   output,
	})
}
