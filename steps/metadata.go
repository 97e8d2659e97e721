package steps

import (
	"fmt"

	"github.com/simon020286/nightly/config"
)

// CheckRequiredInputs reports `uses:` steps that miss a required `with:` input
func CheckRequiredInputs(wf *config.WorkflowConfig) error {
	var problems []string
	for _, jobID := range wf.SortedJobIDs() {
		for i, step := range wf.Jobs[jobID].Steps {
			if step.Uses == "" {
				continue
			}
			meta, ok := GetActionMetadata(step.ActionName())
			if !ok {
				continue
			}
			for _, in := range meta.Inputs {
				if _, set := step.With[in.Name]; in.Required && !set {
					problems = append(problems, fmt.Sprintf("job '%s' step %d: %s requires input '%s'", jobID, i+1, meta.Name, in.Name))
				}
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &config.ValidationError{Workflow: wf.Name, Problems: problems}
}
