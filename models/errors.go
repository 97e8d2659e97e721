package models

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrInvalidWorkflow      = errors.New("invalid workflow")
	ErrUnknownAction        = errors.New("unknown action")
	ErrDispatchNotAllowed   = errors.New("workflow does not accept manual dispatch")
	ErrPipelineRunning      = errors.New("pipeline already running")
	ErrPipelineNotRunning   = errors.New("pipeline not running")
	ErrStopTimeout          = errors.New("pipeline stop timeout")
	ErrCircularDependency   = errors.New("circular dependency detected in pipeline")
	ErrExpression           = errors.New("expression evaluation failed")
	ErrMissingToken         = errors.New("missing authentication token")
	ErrMissingTitle         = errors.New("missing issue title")
	ErrMissingRepository    = errors.New("missing repository")
	ErrDuplicateIssueTitle  = errors.New("duplicate issue title across matrix cells")
	ErrReconcileUnreachable = errors.New("issue reconciliation would not run after failing tests")
	ErrStateLocked          = errors.New("state directory is locked by another process")
	ErrRunCancelled         = errors.New("run cancelled")
	ErrRunNotFound          = errors.New("run not found")
	ErrHistoryPragma        = errors.New("failed to configure history database")
	ErrRunSuperseded        = errors.New("run superseded by a newer run of the same concurrency group")
)

type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration key: " + e.Key
}

func ErrMissingConfig(key string) error {
	return &MissingConfigError{Key: key}
}

type InterpolateError struct {
	Key   string
	Value any
}

func (e *InterpolateError) Error() string {
	return fmt.Sprintf("failed to interpolate value for key '%s': %v", e.Key, e.Value)
}

func ErrInterpolate(key string, value any) error {
	return &InterpolateError{Key: key, Value: value}
}

// CommandError reports a script that exited with a non-zero status
type CommandError struct {
	Name     string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("process '%s' completed with exit code %d", e.Name, e.ExitCode)
}
