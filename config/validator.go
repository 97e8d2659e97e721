package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/simon020286/nightly/models"
)

// ReconcileAction is the built-in action that opens or closes the tracking issue
const ReconcileAction = "raise-or-close-issue"

var (
	stepOutcomeRef     = regexp.MustCompile(`(?i)steps\.([a-z0-9_-]+)\.(outcome|conclusion)`)
	runsOnFailureRegex = regexp.MustCompile(`(?i)\b(always|failure)\s*\(`)
)

// ValidationError lists every problem found in a workflow
type ValidationError struct {
	Workflow string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow '%s' is invalid: %s", e.Workflow, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return models.ErrInvalidWorkflow
}

type problems struct {
	list []string
}

func (p *problems) add(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) err(workflow string) error {
	if len(p.list) == 0 {
		return nil
	}
	return &ValidationError{Workflow: workflow, Problems: p.list}
}

// ValidateWorkflow checks the structure of a workflow. knownAction reports
// whether an action name is registered; nil skips that check.
func ValidateWorkflow(wf *WorkflowConfig, knownAction func(string) bool) error {
	var p problems

	if !wf.On.WorkflowDispatch && len(wf.On.Schedule) == 0 {
		p.add("no trigger: declare workflow_dispatch or a schedule")
	}
	for i, s := range wf.On.Schedule {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			p.add("on.schedule[%d]: invalid cron expression '%s': %v", i, s.Cron, err)
		}
	}

	if len(wf.Jobs) == 0 {
		p.add("no jobs defined")
	}

	for _, jobID := range wf.SortedJobIDs() {
		job := wf.Jobs[jobID]
		validateJob(&p, jobID, job, wf, knownAction)
	}

	if cycle := findNeedsCycle(wf); cycle != "" {
		p.add("jobs: circular dependency through '%s'", cycle)
	}

	return p.err(wf.Name)
}

func validateJob(p *problems, jobID string, job JobConfig, wf *WorkflowConfig, knownAction func(string) bool) {
	if len(job.Steps) == 0 {
		p.add("job '%s': no steps", jobID)
	}

	for _, need := range job.Needs {
		if _, ok := wf.Jobs[need]; !ok {
			p.add("job '%s': needs unknown job '%s'", jobID, need)
		}
	}

	for _, axis := range job.Strategy.Matrix.Axes {
		if len(axis.Values) == 0 {
			p.add("job '%s': matrix axis '%s' has no values", jobID, axis.Name)
		}
		seen := map[string]bool{}
		for _, v := range axis.Values {
			if seen[v] {
				p.add("job '%s': matrix axis '%s' repeats value '%s'", jobID, axis.Name, v)
			}
			seen[v] = true
		}
	}
	if job.Strategy.MaxParallel < 0 {
		p.add("job '%s': max-parallel must not be negative", jobID)
	}

	ids := map[string]bool{}
	for i, step := range job.Steps {
		label := fmt.Sprintf("job '%s' step %d", jobID, i+1)
		switch {
		case step.Uses != "" && step.Run != "":
			p.add("%s: 'uses' and 'run' are mutually exclusive", label)
		case step.Uses == "" && step.Run == "":
			p.add("%s: one of 'uses' or 'run' is required", label)
		case knownAction != nil && !knownAction(step.ActionName()):
			p.add("%s: unknown action '%s'", label, step.Uses)
		}
		if step.ID != "" {
			if ids[step.ID] {
				p.add("%s: duplicate step id '%s'", label, step.ID)
			}
			ids[step.ID] = true
		}
	}
}

// findNeedsCycle returns a job on a dependency cycle, or "" when the graph is acyclic
func findNeedsCycle(wf *WorkflowConfig) string {
	visited := map[string]bool{}
	onStack := map[string]bool{}

	var visit func(string) string
	visit = func(id string) string {
		visited[id] = true
		onStack[id] = true
		for _, need := range wf.Jobs[id].Needs {
			if _, ok := wf.Jobs[need]; !ok {
				continue
			}
			if onStack[need] {
				return need
			}
			if !visited[need] {
				if c := visit(need); c != "" {
					return c
				}
			}
		}
		onStack[id] = false
		return ""
	}

	for _, id := range wf.SortedJobIDs() {
		if !visited[id] {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// SortedJobIDs returns job ids in declaration order, falling back to lexical order
func (wf *WorkflowConfig) SortedJobIDs() []string {
	if len(wf.JobOrder) == len(wf.Jobs) {
		return wf.JobOrder
	}
	ids := make([]string, 0, len(wf.Jobs))
	for id := range wf.Jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CheckIssueTitles evaluates the TITLE of every issue-reconciliation step for
// every matrix cell and fails when a title is empty or shared by two cells.
func CheckIssueTitles(wf *WorkflowConfig) error {
	var p problems
	run := sampleRunContext(wf)
	seen := map[string]string{}

	for _, jobID := range wf.SortedJobIDs() {
		job := wf.Jobs[jobID]
		for i, step := range job.Steps {
			if step.ActionName() != ReconcileAction {
				continue
			}
			env := mergeEnv(wf.Env, job.Env, step.Env)
			for _, cell := range job.Strategy.Matrix.Cells() {
				scope := models.NewScope(run, jobID, cell.Values)
				title, err := issueTitle(step, env, NewEvalContext(scope, env))
				if err != nil {
					p.add("job '%s' step %d: %v", jobID, i+1, err)
					continue
				}
				where := cell.Name(jobID)
				if strings.TrimSpace(title) == "" {
					p.add("%s: %v", where, models.ErrMissingTitle)
					continue
				}
				if other, dup := seen[title]; dup {
					p.add("%s and %s: %v: '%s'", other, where, models.ErrDuplicateIssueTitle, title)
					continue
				}
				seen[title] = where
			}
		}
	}
	return p.err(wf.Name)
}

// issueTitle resolves the title like the action does: a non-empty `with.title`
// wins over TITLE from the step, job or workflow env.
func issueTitle(step StepConfig, env map[string]string, ec *EvalContext) (string, error) {
	if v, ok := step.With["title"]; ok {
		title, err := Interpolate(models.Stringify(v), ec)
		if err != nil || strings.TrimSpace(title) != "" {
			return title, err
		}
	}
	return Interpolate(env["TITLE"], ec)
}

// CheckReconcileAfterTests verifies that every issue-reconciliation step still
// runs when a step whose outcome it reports has failed.
func CheckReconcileAfterTests(wf *WorkflowConfig) error {
	var p problems

	for _, jobID := range wf.SortedJobIDs() {
		job := wf.Jobs[jobID]
		for r, step := range job.Steps {
			if step.ActionName() != ReconcileAction {
				continue
			}
			runsOnFailure := runsOnFailureRegex.MatchString(step.If)

			for _, ref := range referencedOutcomes(step) {
				idx := slices.IndexFunc(job.Steps[:r], func(s StepConfig) bool { return strings.EqualFold(s.ID, ref.id) })
				if idx == -1 {
					p.add("job '%s' step %d: references step '%s' which does not run before it", jobID, r+1, ref.id)
					continue
				}
				referenced := job.Steps[idx]
				if ref.field == "conclusion" && referenced.ContinueOnError {
					p.add("job '%s' step %d: steps.%s.conclusion is always success because the step continues on error; use outcome",
						jobID, r+1, ref.id)
				}
				if !referenced.ContinueOnError && !runsOnFailure {
					p.add("job '%s' step %d: %v (step '%s' is fatal and the step has no always()/failure() condition)",
						jobID, r+1, models.ErrReconcileUnreachable, ref.id)
				}
			}
		}
	}
	return p.err(wf.Name)
}

type outcomeRef struct {
	id    string
	field string
}

func referencedOutcomes(step StepConfig) []outcomeRef {
	var sources []string
	for _, v := range step.Env {
		sources = append(sources, v)
	}
	for _, v := range step.With {
		sources = append(sources, models.Stringify(v))
	}
	sources = append(sources, step.If)

	var refs []outcomeRef
	seen := map[string]bool{}
	for _, src := range sources {
		for _, m := range stepOutcomeRef.FindAllStringSubmatch(src, -1) {
			key := strings.ToLower(m[1] + "." + m[2])
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, outcomeRef{id: m[1], field: strings.ToLower(m[2])})
		}
	}
	slices.SortFunc(refs, func(a, b outcomeRef) int { return strings.Compare(a.id+a.field, b.id+b.field) })
	return refs
}

func sampleRunContext(wf *WorkflowConfig) *models.RunContext {
	return &models.RunContext{
		Workflow: wf.Name,
		Event:    models.EventSchedule,
		Ref:      "refs/heads/main",
		Env:      wf.Env,
	}
}

func mergeEnv(layers ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
