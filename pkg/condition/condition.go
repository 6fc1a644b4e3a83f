// Package condition evaluates step predicates. Expressions use govaluate
// syntax over the step's materialized environment plus run state, e.g.
// `PUBLISH == 'true' && !run_failed`.
package condition

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// Params builds the parameter set a predicate evaluates against: every
// materialized environment variable by name, plus run_failed, which is true
// once any best-effort step has failed in the current run.
func Params(environment map[string]string, runFailed bool) map[string]any {
	params := make(map[string]any, len(environment)+1)
	for key, value := range environment {
		params[key] = value
	}
	params["run_failed"] = runFailed
	return params
}

// Evaluate reports whether the predicate holds. The empty predicate always
// holds; a predicate that does not evaluate to a boolean is an error.
func Evaluate(expr string, params map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, fmt.Errorf("parse condition %q: %w", expr, err)
	}
	result, err := expression.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expr, err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("condition %q must evaluate to a boolean, got %T", expr, result)
	}
	return ok, nil
}

// Validate checks that a predicate parses without evaluating it.
func Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := govaluate.NewEvaluableExpression(expr); err != nil {
		return fmt.Errorf("parse condition %q: %w", expr, err)
	}
	return nil
}
