package models

import (
	"context"
	"io"
)

// Action is the logic behind one step of a matrix cell (a `uses:` reference or a `run:` script)
type Action interface {
	// Execute runs the action. A non-nil error marks the step outcome as failure.
	Execute(ctx context.Context, ac *ActionContext) (*ActionResult, error)
}

// ActionFunc adapts a function to Action
type ActionFunc func(ctx context.Context, ac *ActionContext) (*ActionResult, error)

func (f ActionFunc) Execute(ctx context.Context, ac *ActionContext) (*ActionResult, error) {
	return f(ctx, ac)
}

// ActionContext is everything an action can see while it executes
type ActionContext struct {
	StepID string
	Name   string
	With   map[string]any    // resolved `with:` inputs
	Env    map[string]string // fully resolved environment for the step
	Dir    string            // working directory
	Shell  string            // shell for run steps
	Scope  *Scope
	Runner CommandRunner
	Stdout io.Writer
	Stderr io.Writer
}

// Input returns a `with:` input as a string
func (ac *ActionContext) Input(name string) string {
	v, ok := ac.With[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return stringify(v)
}

// ActionResult holds what an action hands back to the cell
type ActionResult struct {
	Outputs map[string]string
	Env     map[string]string // exported to later steps of the cell
	Path    []string          // prepended to PATH for later steps
}

// CommandOptions configures a CommandRunner invocation
type CommandOptions struct {
	Name   string
	Dir    string
	Env    map[string]string
	Shell  string
	Stdout io.Writer
	Stderr io.Writer
}

// CommandRunner runs a shell script. Implementations must honour ctx cancellation.
type CommandRunner interface {
	Run(ctx context.Context, script string, opts CommandOptions) error
}
