package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Trigger event names
const (
	EventSchedule         = "schedule"
	EventWorkflowDispatch = "workflow_dispatch"
)

// RunContext carries the values shared by every job and cell of a run
type RunContext struct {
	RunID      string
	RunNumber  int
	Workflow   string
	Event      string
	Ref        string
	SHA        string
	Actor      string
	Repository string // owner/name
	ServerURL  string
	APIURL     string
	Workdir    string
	Env        map[string]string // workflow-level env (not interpolated)
	Secrets    map[string]string
	Vars       map[string]any
}

// RefName returns the short name of the ref (refs/heads/main -> main)
func (rc *RunContext) RefName() string {
	for _, prefix := range []string{"refs/heads/", "refs/tags/"} {
		if strings.HasPrefix(rc.Ref, prefix) {
			return strings.TrimPrefix(rc.Ref, prefix)
		}
	}
	return rc.Ref
}

// RunURL is the link to the run page on the server, empty when unknown
func (rc *RunContext) RunURL() string {
	if rc.ServerURL == "" || rc.Repository == "" || rc.RunID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/actions/runs/%s", strings.TrimRight(rc.ServerURL, "/"), rc.Repository, rc.RunID)
}

// GithubContext builds the `github` expression context
func (rc *RunContext) GithubContext(job string) map[string]any {
	owner := ""
	if i := strings.Index(rc.Repository, "/"); i > 0 {
		owner = rc.Repository[:i]
	}
	return map[string]any{
		"workflow":         rc.Workflow,
		"run_id":           rc.RunID,
		"run_number":       strconv.Itoa(rc.RunNumber),
		"event_name":       rc.Event,
		"ref":              rc.Ref,
		"ref_name":         rc.RefName(),
		"sha":              rc.SHA,
		"actor":            rc.Actor,
		"repository":       rc.Repository,
		"repository_owner": owner,
		"server_url":       rc.ServerURL,
		"api_url":          rc.APIURL,
		"workspace":        rc.Workdir,
		"job":              job,
	}
}

// DefaultEnv is the GITHUB_* environment exposed to every step
func (rc *RunContext) DefaultEnv(job string) map[string]string {
	env := map[string]string{
		"CI":                "true",
		"GITHUB_ACTIONS":    "true",
		"GITHUB_WORKFLOW":   rc.Workflow,
		"GITHUB_RUN_ID":     rc.RunID,
		"GITHUB_RUN_NUMBER": strconv.Itoa(rc.RunNumber),
		"GITHUB_EVENT_NAME": rc.Event,
		"GITHUB_REF":        rc.Ref,
		"GITHUB_REF_NAME":   rc.RefName(),
		"GITHUB_SHA":        rc.SHA,
		"GITHUB_REPOSITORY": rc.Repository,
		"GITHUB_SERVER_URL": rc.ServerURL,
		"GITHUB_API_URL":    rc.APIURL,
		"GITHUB_WORKSPACE":  rc.Workdir,
		"GITHUB_JOB":        job,
	}
	if rc.Actor != "" {
		env["GITHUB_ACTOR"] = rc.Actor
	}
	return env
}
