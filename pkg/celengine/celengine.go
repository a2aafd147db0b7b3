// Package celengine compiles and evaluates session eligibility rules.
package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Variables available to every eligibility expression.
var declarations = []cel.EnvOption{
	cel.Variable("person_id", cel.StringType),
	cel.Variable("email", cel.StringType),
	cel.Variable("company_id", cel.StringType),
	cel.Variable("has_company", cel.BoolType),
	cel.Variable("session_id", cel.StringType),
	cel.Variable("capacity", cel.IntType),
	cel.Variable("confirmed_count", cel.IntType),
}

type Engine struct {
	env      *cel.Env
	programs sync.Map
}

func New() (*Engine, error) {
	env, err := cel.NewEnv(declarations...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Engine{env: env}, nil
}

// Validate compiles expr and checks it yields a bool.
func (e *Engine) Validate(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Engine) program(expr string) (cel.Program, error) {
	if v, ok := e.programs.Load(expr); ok {
		return v.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return a boolean, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	e.programs.Store(expr, prg)
	return prg, nil
}

// Evaluate runs expr against attrs. An empty expression always passes.
func (e *Engine) Evaluate(expr string, attrs map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
