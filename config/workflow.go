package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConcurrencyGroup serializes runs per (workflow, ref)
const DefaultConcurrencyGroup = "${{ github.workflow }}-${{ github.ref }}"

// WorkflowConfig represents a complete workflow definition from YAML
type WorkflowConfig struct {
	Name        string               `yaml:"name"`
	On          TriggerConfig        `yaml:"on"`
	Concurrency *ConcurrencyConfig   `yaml:"concurrency,omitempty"`
	Env         map[string]string    `yaml:"env,omitempty"`
	Vars        map[string]any       `yaml:"variables,omitempty"` // Global reusable variables ($var:name)
	Defaults    DefaultsConfig       `yaml:"defaults,omitempty"`
	Jobs        map[string]JobConfig `yaml:"jobs"`

	// JobOrder keeps the declaration order of Jobs
	JobOrder []string `yaml:"-"`
	// Source is the file the workflow was loaded from, if any
	Source string `yaml:"-"`
}

// TriggerConfig is the `on:` section
type TriggerConfig struct {
	WorkflowDispatch bool             `yaml:"workflow_dispatch"`
	Schedule         []ScheduleConfig `yaml:"schedule"`
}

// ScheduleConfig is one `on.schedule` entry
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// ConcurrencyConfig is the `concurrency:` section
type ConcurrencyConfig struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel-in-progress"`
}

// DefaultsConfig is the `defaults:` section
type DefaultsConfig struct {
	Run RunDefaults `yaml:"run"`
}

// RunDefaults configures `run:` steps
type RunDefaults struct {
	Shell            string `yaml:"shell"`
	WorkingDirectory string `yaml:"working-directory"`
}

// JobConfig represents a job from YAML
type JobConfig struct {
	Name           string            `yaml:"name"`
	RunsOn         string            `yaml:"runs-on"`
	Needs          StringList        `yaml:"needs,omitempty"`
	If             string            `yaml:"if,omitempty"`
	Strategy       StrategyConfig    `yaml:"strategy,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	Defaults       DefaultsConfig    `yaml:"defaults,omitempty"`
	TimeoutMinutes float64           `yaml:"timeout-minutes,omitempty"`
	Outputs        map[string]string `yaml:"outputs,omitempty"`
	Steps          []StepConfig      `yaml:"steps"`
}

// StrategyConfig is the job `strategy:` section
type StrategyConfig struct {
	FailFast    *bool        `yaml:"fail-fast,omitempty"`
	MaxParallel int          `yaml:"max-parallel,omitempty"`
	Matrix      MatrixConfig `yaml:"matrix,omitempty"`
}

// IsFailFast reports the fail-fast policy. Cells are independent unless fail-fast is set explicitly.
func (s StrategyConfig) IsFailFast() bool {
	return s.FailFast != nil && *s.FailFast
}

// StepConfig represents a step of a job from YAML
type StepConfig struct {
	ID               string            `yaml:"id,omitempty"`
	Name             string            `yaml:"name,omitempty"`
	Uses             string            `yaml:"uses,omitempty"`
	Run              string            `yaml:"run,omitempty"`
	Shell            string            `yaml:"shell,omitempty"`
	With             map[string]any    `yaml:"with,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	If               string            `yaml:"if,omitempty"`
	ContinueOnError  bool              `yaml:"continue-on-error,omitempty"`
	TimeoutMinutes   float64           `yaml:"timeout-minutes,omitempty"`
	WorkingDirectory string            `yaml:"working-directory,omitempty"`
}

// DisplayName returns the name shown in logs for the step at index i
func (s StepConfig) DisplayName(i int) string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return "Run " + s.Uses
	case s.Run != "":
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return "Run " + line
	default:
		return fmt.Sprintf("step %d", i+1)
	}
}

// ActionName returns the registry key for the step: the `uses` reference without
// its @version suffix, or "run" for script steps
func (s StepConfig) ActionName() string {
	if s.Uses == "" {
		return "run"
	}
	name, _, _ := strings.Cut(s.Uses, "@")
	return name
}

// StringList accepts either a scalar or a sequence of scalars
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// UnmarshalYAML accepts `on: push`, `on: [a, b]` and the mapping form
func (t *TriggerConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		t.WorkflowDispatch = node.Value == "workflow_dispatch"
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Value == "workflow_dispatch" {
				t.WorkflowDispatch = true
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			switch key.Value {
			case "workflow_dispatch":
				t.WorkflowDispatch = true
			case "schedule":
				if err := value.Decode(&t.Schedule); err != nil {
					return fmt.Errorf("on.schedule: %w", err)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: invalid 'on' section", node.Line)
	}
}

// UnmarshalYAML accepts a bare group string or the mapping form
func (c *ConcurrencyConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Group = node.Value
		return nil
	}
	type plain ConcurrencyConfig
	return node.Decode((*plain)(c))
}

// ConcurrencySettings returns the effective concurrency group template and policy
func (wf *WorkflowConfig) ConcurrencySettings() (string, bool) {
	if wf.Concurrency == nil || wf.Concurrency.Group == "" {
		return DefaultConcurrencyGroup, false
	}
	return wf.Concurrency.Group, wf.Concurrency.CancelInProgress
}

// ParseWorkflow decodes a workflow definition. name is used when the document has no name.
func ParseWorkflow(data []byte, name string) (*WorkflowConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var wf WorkflowConfig
	if err := root.Decode(&wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	wf.JobOrder = jobOrder(&root)

	if wf.Name == "" {
		wf.Name = name
	}
	return &wf, nil
}

// LoadWorkflow reads and decodes a workflow file
func LoadWorkflow(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	wf, err := ParseWorkflow(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	wf.Source = path
	return wf, nil
}

// jobOrder extracts job ids in declaration order
func jobOrder(root *yaml.Node) []string {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "jobs" || doc.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		jobs := doc.Content[i+1]
		order := make([]string, 0, len(jobs.Content)/2)
		for j := 0; j+1 < len(jobs.Content); j += 2 {
			order = append(order, jobs.Content[j].Value)
		}
		return order
	}
	return nil
}
