package issues

import (
	"context"
	"fmt"
	"strings"

	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

// Action is what the reconciler did to the tracking issue
type Action string

const (
	ActionNone    Action = "none"
	ActionCreate  Action = "create"
	ActionComment Action = "comment"
	ActionClose   Action = "close"
)

// Decide maps a test outcome and the current open issue (nil if none) to an action.
// Outcomes other than success and failure never touch the tracker.
func Decide(outcome models.Outcome, existing *Issue) Action {
	switch outcome {
	case models.OutcomeFailure:
		if existing == nil {
			return ActionCreate
		}
		return ActionComment
	case models.OutcomeSuccess:
		if existing != nil {
			return ActionClose
		}
	}
	return ActionNone
}

// Request describes one reconciliation
type Request struct {
	Outcome models.Outcome
	Title   string
	RunURL  string
}

// Result reports the action taken and the issue it applied to
type Result struct {
	Action Action
	Number int
	URL    string
}

// Reconciler opens, comments and closes tracking issues
type Reconciler struct {
	Tracker Tracker
	Labels  []string
}

// NewReconciler creates a reconciler over tracker
func NewReconciler(tracker Tracker, labels ...string) *Reconciler {
	return &Reconciler{Tracker: tracker, Labels: labels}
}

// Reconcile brings the tracking issue for req.Title in line with req.Outcome
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, models.ErrMissingTitle
	}

	existing, err := r.Tracker.FindOpen(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to look up issue '%s': %w", title, err)
	}

	action := Decide(req.Outcome, existing)
	result := &Result{Action: action}
	if existing != nil {
		result.Number = existing.Number
		result.URL = existing.URL
	}

	switch action {
	case ActionCreate:
		issue, err := r.Tracker.Create(ctx, title, failureBody(req.RunURL), r.Labels)
		if err != nil {
			return nil, fmt.Errorf("failed to create issue '%s': %w", title, err)
		}
		result.Number = issue.Number
		result.URL = issue.URL

	case ActionComment:
		if err := r.Tracker.Comment(ctx, existing.Number, stillFailingBody(req.RunURL)); err != nil {
			return nil, fmt.Errorf("failed to comment on issue #%d: %w", existing.Number, err)
		}

	case ActionClose:
		if err := r.Tracker.Comment(ctx, existing.Number, passingBody(req.RunURL)); err != nil {
			return nil, fmt.Errorf("failed to comment on issue #%d: %w", existing.Number, err)
		}
		if err := r.Tracker.Close(ctx, existing.Number); err != nil {
			return nil, fmt.Errorf("failed to close issue #%d: %w", existing.Number, err)
		}
	}

	logger.Info("issue reconciled", "title", title, "outcome", req.Outcome, "action", action, "number", result.Number)
	return result, nil
}

func failureBody(runURL string) string {
	return withRun("The scheduled test run failed.", runURL)
}

func stillFailingBody(runURL string) string {
	return withRun("The scheduled test run failed again.", runURL)
}

func passingBody(runURL string) string {
	return withRun("The scheduled test run passed, closing.", runURL)
}

func withRun(msg, runURL string) string {
	if runURL == "" {
		return msg
	}
	return msg + "\n\nRun: " + runURL
}
