package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/models"
)

// @action name=js category=script description=Evaluates JavaScript against the cell context; returned fields become step outputs
type JsInputs struct {
	Code string `action:"required,desc=Function body; ctx exposes github, matrix, steps, env"`
}

type JsAction struct {
	code string
}

func (s *JsAction) Execute(ctx context.Context, ac *models.ActionContext) (*models.ActionResult, error) {
	ec := config.NewEvalContext(ac.Scope, ac.Env)
	runtime, err := config.NewJSRuntime(ec)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		runtime.Interrupt(ctx.Err())
	})
	defer stop()

	// Wrap the code in an anonymous function to allow return usage
	// The user can write: return { key: "value" };
	wrappedCode := "(function() {\n" + s.code + "\n})()"

	result, err := runtime.RunString(wrappedCode)
	if err != nil {
		return nil, fmt.Errorf("JavaScript execution error: %w", err)
	}

	outputs := map[string]string{}
	switch v := result.Export().(type) {
	case nil:
	case map[string]any:
		for k, val := range v {
			outputs[k] = models.Stringify(val)
		}
	default:
		outputs["result"] = models.Stringify(v)
	}
	return &models.ActionResult{Outputs: outputs}, nil
}

func init() {
	builder.RegisterActionType("js", func(with map[string]any) (models.Action, error) {
		code, ok := with["code"].(string)
		if !ok {
			return nil, errors.New("missing 'code' in js step")
		}

		return &JsAction{
			code: code,
		}, nil
	})
}
