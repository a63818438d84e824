// Package cel compiles and evaluates boolean CEL expressions over message text.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Input is the variable set visible to expressions. Text is the case-folded
// match form, Raw keeps the original case.
type Input struct {
	Text   string
	Raw    string
	ChatID string
	UserID string
	Kind   string
	Source string
}

func (in Input) vars() map[string]interface{} {
	return map[string]interface{}{
		"text":    in.Text,
		"raw":     in.Raw,
		"chat_id": in.ChatID,
		"user_id": in.UserID,
		"kind":    in.Kind,
		"source":  in.Source,
	}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("raw", cel.StringType),
		cel.Variable("chat_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("source", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.Compile(expression)
	return err
}

// Compile checks that expression is a boolean and returns a reusable program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) Evaluate(ctx context.Context, program cel.Program, in Input) (bool, error) {
	result, _, err := program.ContextEval(ctx, in.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluateExpression compiles and runs expression once. Hot paths should
// Compile up front and call Evaluate.
func (e *Evaluator) EvaluateExpression(ctx context.Context, expression string, in Input) (bool, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	return e.Evaluate(ctx, program, in)
}
