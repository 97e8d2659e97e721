package config

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// ValueSpec represents a value that can be static or dynamic
type ValueSpec interface {
	GetStaticValue() (any, bool)
	GetDynamicExpression() (DynamicValue, bool)
	// Resolve resolves the value using the cell context
	Resolve(ec *EvalContext) (any, error)
}

// StaticValue represents a literal value (number, string, bool, etc.)
type StaticValue struct {
	Value any
}

func NewStaticValue(value any) StaticValue {
	return StaticValue{
		Value: value,
	}
}

func (s StaticValue) GetStaticValue() (any, bool) {
	return s.Value, true
}

func (s StaticValue) GetDynamicExpression() (DynamicValue, bool) {
	return DynamicValue{}, false
}

func (s StaticValue) Resolve(ec *EvalContext) (any, error) {
	// Static values always return themselves
	return s.Value, nil
}

// TemplateValue is a string with `${{ }}` placeholders
type TemplateValue struct {
	Template string
}

func (t TemplateValue) GetStaticValue() (any, bool) {
	return nil, false
}

func (t TemplateValue) GetDynamicExpression() (DynamicValue, bool) {
	return DynamicValue{}, false
}

func (t TemplateValue) Resolve(ec *EvalContext) (any, error) {
	return Interpolate(t.Template, ec)
}

// DynamicValue represents an expression to be evaluated at runtime
type DynamicValue struct {
	Language   string // "js"
	Expression string // the expression to evaluate
	Type       string // optional: "string", "number", "boolean", etc.
}

func (d DynamicValue) GetStaticValue() (any, bool) {
	return nil, false
}

func (d DynamicValue) GetDynamicExpression() (DynamicValue, bool) {
	return d, true
}

func (d DynamicValue) Resolve(ec *EvalContext) (any, error) {
	switch d.Language {
	case "js", "javascript", "":
		return d.resolveJS(ec)
	default:
		return nil, fmt.Errorf("unsupported language: %s", d.Language)
	}
}

// resolveJS evaluates a JavaScript expression using Goja
func (d DynamicValue) resolveJS(ec *EvalContext) (any, error) {
	runtime, err := NewJSRuntime(ec)
	if err != nil {
		return nil, err
	}

	result, err := runtime.RunString(d.wrapped())
	if err != nil {
		return nil, fmt.Errorf("failed to execute JS expression '%s': %w", d.Expression, err)
	}

	// Return the native Go value
	return result.Export(), nil
}

func (d DynamicValue) wrapped() string {
	return "(function() {\n return " + d.Expression + "\n})()"
}

// Compile checks the syntax of the expression without running it
func (d DynamicValue) Compile() error {
	switch d.Language {
	case "js", "javascript", "":
	default:
		return fmt.Errorf("unsupported language: %s", d.Language)
	}
	if _, err := goja.Compile("", d.wrapped(), false); err != nil {
		return fmt.Errorf("invalid JS expression '%s': %w", d.Expression, err)
	}
	return nil
}

// NewJSRuntime creates a goja runtime exposing the cell context as `ctx`,
// the workflow variables as `$vars` and the secrets as `$secrets`
func NewJSRuntime(ec *EvalContext) (*goja.Runtime, error) {
	runtime := goja.New()

	if err := runtime.Set("ctx", ec.Data); err != nil {
		return nil, fmt.Errorf("failed to set context: %w", err)
	}

	if ec.Scope != nil && ec.Scope.Run != nil {
		if ec.Scope.Run.Vars != nil {
			if err := runtime.Set("$vars", ec.Scope.Run.Vars); err != nil {
				return nil, fmt.Errorf("failed to set global variables: %w", err)
			}
		}
		if ec.Scope.Run.Secrets != nil {
			if err := runtime.Set("$secrets", ec.Scope.Run.Secrets); err != nil {
				return nil, fmt.Errorf("failed to set global secrets: %w", err)
			}
		}
	}

	return runtime, nil
}

// VariableReference represents a reference to a workflow variable ($var:name)
type VariableReference struct {
	Name string
}

func (v VariableReference) GetStaticValue() (any, bool) {
	return nil, false
}

func (v VariableReference) GetDynamicExpression() (DynamicValue, bool) {
	return DynamicValue{}, false
}

func (v VariableReference) Resolve(ec *EvalContext) (any, error) {
	if ec.Scope == nil || ec.Scope.Run.Vars == nil {
		return nil, fmt.Errorf("variable '%s' not found: no global variables defined", v.Name)
	}

	value, exists := ec.Scope.Run.Vars[v.Name]
	if !exists {
		return nil, fmt.Errorf("variable '%s' not found in global variables", v.Name)
	}

	return value, nil
}

// SecretReference represents a reference to a run secret ($secret:name)
type SecretReference struct {
	Name string
}

func (s SecretReference) GetStaticValue() (any, bool) {
	return nil, false
}

func (s SecretReference) GetDynamicExpression() (DynamicValue, bool) {
	return DynamicValue{}, false
}

func (s SecretReference) Resolve(ec *EvalContext) (any, error) {
	if ec.Scope == nil || ec.Scope.Run.Secrets == nil {
		return nil, fmt.Errorf("secret '%s' not found: no secrets defined", s.Name)
	}

	value, exists := ec.Scope.Run.Secrets[s.Name]
	if !exists {
		return nil, fmt.Errorf("secret '%s' not found in secrets", s.Name)
	}

	return value, nil
}

// String returns a masked representation of the secret for logging
func (s SecretReference) String() string {
	return fmt.Sprintf("$secret:%s=***", s.Name)
}

// EnvReference represents a reference to an environment variable ($env:NAME).
// The step environment is searched before the process environment.
type EnvReference struct {
	Name string
}

func (e EnvReference) GetStaticValue() (any, bool) {
	return nil, false
}

func (e EnvReference) GetDynamicExpression() (DynamicValue, bool) {
	return DynamicValue{}, false
}

func (e EnvReference) Resolve(ec *EvalContext) (any, error) {
	if value, ok := ec.Env[e.Name]; ok && value != "" {
		return value, nil
	}
	value := os.Getenv(e.Name)
	if value == "" {
		return nil, fmt.Errorf("environment variable '%s' is not set or is empty", e.Name)
	}

	return value, nil
}
