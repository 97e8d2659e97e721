// Package trigger starts workflow runs: on a cron schedule or by manual dispatch over HTTP.
package trigger

import (
	"fmt"

	"github.com/simon020286/nightly/models"
)

// DefaultRef is used when a trigger names no ref
const DefaultRef = "refs/heads/main"

// Trigger is a request to run a workflow
type Trigger struct {
	Workflow string
	Event    string // models.EventSchedule or models.EventWorkflowDispatch
	Ref      string
}

func (t Trigger) String() string {
	return fmt.Sprintf("%s (%s @ %s)", t.Workflow, t.Event, t.Ref)
}

// Dispatcher starts runs in the background
type Dispatcher interface {
	// Submit validates t and starts the run. It returns the run id.
	Submit(t Trigger) (string, error)
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(t Trigger) (string, error)

func (f DispatcherFunc) Submit(t Trigger) (string, error) {
	return f(t)
}

// NormalizeRef expands a bare branch name to refs/heads/<name>
func NormalizeRef(ref, fallback string) string {
	switch {
	case ref == "":
		if fallback == "" {
			return DefaultRef
		}
		return NormalizeRef(fallback, DefaultRef)
	case len(ref) > 5 && ref[:5] == "refs/":
		return ref
	default:
		return "refs/heads/" + ref
	}
}

// ManualDispatch builds a workflow_dispatch trigger
func ManualDispatch(workflow, ref, defaultRef string) Trigger {
	return Trigger{
		Workflow: workflow,
		Event:    models.EventWorkflowDispatch,
		Ref:      NormalizeRef(ref, defaultRef),
	}
}
