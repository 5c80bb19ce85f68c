package executor

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/models"
)

// evalCondition evaluates a condition step's predicate over the run's
// context and history. Expressions see:
//
//	context    the run context map
//	history    map of step ID to its latest outcome
//	contact_id the contact the run belongs to
//
// A bad expression is a permanent failure: retrying cannot fix it.
func evalCondition(expression string, run *models.RunInstance) (bool, error) {
	env := map[string]any{
		"context":    run.Context,
		"history":    historyOutcomes(run),
		"contact_id": run.ContactID,
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, gateway.Permanent(fmt.Errorf("invalid condition expression: %w", err))
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, gateway.Permanent(fmt.Errorf("condition evaluation failed: %w", err))
	}

	result, ok := out.(bool)
	if !ok {
		return false, gateway.Permanentf("condition did not evaluate to a boolean, got %T", out)
	}

	return result, nil
}

func historyOutcomes(run *models.RunInstance) map[string]string {
	outcomes := make(map[string]string, len(run.History))

	for _, record := range run.History {
		outcomes[record.StepID] = string(record.Outcome)
	}

	return outcomes
}
