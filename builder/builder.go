package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/models"
)

// CreateAction creates the action behind a step
func CreateAction(step config.StepConfig) (models.Action, error) {
	factory, err := GetActionFactory(step.ActionName())
	if err != nil {
		return nil, err
	}
	return factory(step.With)
}

// GenerateRunID generates a unique run id
func GenerateRunID() string {
	return uuid.NewString()
}

// ParseConfigValue converts a configuration value to config.ValueSpec.
// Recognizes the "$js:", "$var:", "$secret:" and "$env:" prefixes and `${{ }}` templates.
func ParseConfigValue(v any) config.ValueSpec {
	str, ok := v.(string)
	if !ok {
		return config.StaticValue{Value: v}
	}

	switch {
	case strings.HasPrefix(str, "$js:"):
		return config.DynamicValue{
			Language:   "js",
			Expression: strings.TrimSpace(strings.TrimPrefix(str, "$js:")),
		}
	case strings.HasPrefix(str, "$var:"):
		return config.VariableReference{Name: strings.TrimSpace(strings.TrimPrefix(str, "$var:"))}
	case strings.HasPrefix(str, "$secret:"):
		return config.SecretReference{Name: strings.TrimSpace(strings.TrimPrefix(str, "$secret:"))}
	case strings.HasPrefix(str, "$env:"):
		return config.EnvReference{Name: strings.TrimSpace(strings.TrimPrefix(str, "$env:"))}
	case config.ContainsExpression(str):
		return config.TemplateValue{Template: str}
	}

	return config.StaticValue{Value: v}
}

// ResolveValue resolves a configuration value. Lists and maps are resolved element by element.
func ResolveValue(v any, ec *config.EvalContext) (any, error) {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := ResolveValue(item, ec)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		return ResolveInputs(t, ec)
	default:
		return ParseConfigValue(v).Resolve(ec)
	}
}

// ResolveInputs resolves every value of a `with:` block
func ResolveInputs(with map[string]any, ec *config.EvalContext) (map[string]any, error) {
	out := make(map[string]any, len(with))
	for k, v := range with {
		resolved, err := ResolveValue(v, ec)
		if err != nil {
			return nil, fmt.Errorf("input '%s': %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// ResolveEnv interpolates an env block. Later layers see the values of earlier ones through env.*.
func ResolveEnv(base map[string]string, layer map[string]string, ec *config.EvalContext) (map[string]string, error) {
	out := make(map[string]string, len(base)+len(layer))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range layer {
		spec := ParseConfigValue(v)
		if static, ok := spec.GetStaticValue(); ok {
			out[k] = models.Stringify(static)
			continue
		}
		value, err := spec.Resolve(ec.WithEnv(out))
		if err != nil {
			return nil, errors.Join(models.ErrInterpolate(k, v), err)
		}
		out[k] = models.Stringify(value)
	}
	return out, nil
}

// CheckWorkflow runs every structural and semantic check on a workflow
func CheckWorkflow(wf *config.WorkflowConfig) error {
	if err := config.ValidateWorkflow(wf, IsKnownAction); err != nil {
		return err
	}
	return errors.Join(config.CheckIssueTitles(wf), config.CheckReconcileAfterTests(wf), CheckScripts(wf))
}

// CheckScripts compiles every `$js:` value of the env blocks and step inputs
func CheckScripts(wf *config.WorkflowConfig) error {
	var errs []error
	check := func(where string, v any) {
		dv, ok := ParseConfigValue(v).GetDynamicExpression()
		if !ok {
			return
		}
		if err := dv.Compile(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}

	for k, v := range wf.Env {
		check("env."+k, v)
	}
	for _, jobID := range wf.SortedJobIDs() {
		job := wf.Jobs[jobID]
		for k, v := range job.Env {
			check(fmt.Sprintf("job '%s' env.%s", jobID, k), v)
		}
		for i, step := range job.Steps {
			label := fmt.Sprintf("job '%s' step %d", jobID, i+1)
			for k, v := range step.Env {
				check(label+" env."+k, v)
			}
			for k, v := range step.With {
				if list, ok := v.([]any); ok {
					for _, item := range list {
						check(label+" with."+k, item)
					}
					continue
				}
				check(label+" with."+k, v)
			}
		}
	}
	return errors.Join(errs...)
}
