package steps

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/issues"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

// @action name=raise-or-close-issue category=report description=Opens or closes the tracking issue named TITLE according to CI_OUTCOME
type RaiseOrCloseIssueInputs struct {
	Outcome string `action:"name=ci-outcome,desc=Test outcome; defaults to the CI_OUTCOME variable"`
	Title   string `action:"name=title,desc=Issue title; defaults to the TITLE variable"`
	Token   string `action:"name=token,desc=API token; defaults to the GITHUB_TOKEN variable"`
	Labels  string `action:"name=labels,desc=Labels for new issues"`
}

// TrackerFactory builds the tracker used by raise-or-close-issue
type TrackerFactory func(token, repository, apiURL string) (issues.Tracker, error)

var (
	trackerMu      sync.RWMutex
	trackerFactory TrackerFactory = func(token, repository, apiURL string) (issues.Tracker, error) {
		return issues.NewGitHubTracker(token, repository, apiURL)
	}
)

// SetTrackerFactory replaces the tracker factory and returns the previous one
func SetTrackerFactory(f TrackerFactory) TrackerFactory {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	prev := trackerFactory
	trackerFactory = f
	return prev
}

func currentTrackerFactory() TrackerFactory {
	trackerMu.RLock()
	defer trackerMu.RUnlock()
	return trackerFactory
}

// RaiseOrCloseIssueAction reconciles the tracking issue of the cell
type RaiseOrCloseIssueAction struct{}

func (a *RaiseOrCloseIssueAction) Execute(ctx context.Context, ac *models.ActionContext) (*models.ActionResult, error) {
	outcome := inputOr(ac, "ci-outcome", ac.Env["CI_OUTCOME"])
	title := inputOr(ac, "title", ac.Env["TITLE"])
	token := inputOr(ac, "token", ac.Env["GITHUB_TOKEN"])

	if strings.TrimSpace(title) == "" {
		return nil, models.ErrMissingTitle
	}

	tracker, err := currentTrackerFactory()(token, ac.Env["GITHUB_REPOSITORY"], ac.Env["GITHUB_API_URL"])
	if err != nil {
		return nil, err
	}

	runURL := ""
	if ac.Scope != nil {
		runURL = ac.Scope.Run.RunURL()
	}

	reconciler := issues.NewReconciler(tracker, stringList(ac.With["labels"])...)
	res, err := reconciler.Reconcile(ctx, issues.Request{
		Outcome: models.Outcome(strings.ToLower(strings.TrimSpace(outcome))),
		Title:   title,
		RunURL:  runURL,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("tracking issue", "step", ac.Name, "action", res.Action, "url", res.URL)

	outputs := map[string]string{"action": string(res.Action)}
	if res.Number != 0 {
		outputs["issue-number"] = strconv.Itoa(res.Number)
		outputs["issue-url"] = res.URL
	}
	return &models.ActionResult{Outputs: outputs}, nil
}

func init() {
	builder.RegisterActionType("raise-or-close-issue", func(with map[string]any) (models.Action, error) {
		return &RaiseOrCloseIssueAction{}, nil
	})
}
