package builder

import (
	"embed"
	"fmt"
)

//go:embed workflows/*.yaml
var embeddedWorkflows embed.FS

// LoadWorkflows builds a registry with the embedded workflows and those found in dir.
// Workflows in dir override embedded ones with the same name.
// The steps package must be imported beforehand so that actions are registered.
func LoadWorkflows(dir string) (*WorkflowRegistry, error) {
	registry := NewWorkflowRegistry()

	if err := registry.LoadFromEmbed(embeddedWorkflows, "workflows"); err != nil {
		return nil, fmt.Errorf("failed to load embedded workflows: %w", err)
	}

	if dir != "" {
		if err := registry.LoadFromDirectory(GetWorkflowsPath(dir)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// EmbeddedWorkflow returns the raw definition of an embedded workflow
func EmbeddedWorkflow(name string) ([]byte, error) {
	return embeddedWorkflows.ReadFile("workflows/" + name + ".yaml")
}
