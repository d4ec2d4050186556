package dispatch

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"
)

// ConditionEvaluator decides whether a named defer condition currently holds
// for an event subject. Deferring means "skip this integration without
// counting a failure"; an unknown or erroring condition never defers.
type ConditionEvaluator interface {
	Evaluate(condition string, subject map[string]interface{}) bool
}

// ExprEvaluator maps condition names (ADDRESS_MISSING, LINES_EMPTY, ...) to
// expressions compiled once at startup and run against the subject as the
// environment. The condition vocabulary stays a data concern: adding one is
// a config change, not code.
type ExprEvaluator struct {
	programs map[string]*vm.Program
	log      zerolog.Logger
}

func NewExprEvaluator(conditions map[string]string, log zerolog.Logger) (*ExprEvaluator, error) {
	programs := make(map[string]*vm.Program, len(conditions))
	for name, src := range conditions {
		prog, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile defer condition %s: %w", name, err)
		}
		programs[name] = prog
	}
	return &ExprEvaluator{programs: programs, log: log}, nil
}

func (e *ExprEvaluator) Evaluate(condition string, subject map[string]interface{}) bool {
	prog, ok := e.programs[condition]
	if !ok {
		e.log.Debug().Str("condition", condition).Msg("unknown defer condition, not deferring")
		return false
	}
	if subject == nil {
		subject = map[string]interface{}{}
	}
	out, err := expr.Run(prog, subject)
	if err != nil {
		e.log.Debug().Err(err).Str("condition", condition).Msg("defer condition evaluation failed, not deferring")
		return false
	}
	b, _ := out.(bool)
	return b
}

// DefaultConditions is the stock condition table; deployments override or
// extend it through configuration.
func DefaultConditions() map[string]string {
	return map[string]string{
		"ADDRESS_MISSING":         "shipping_address == nil",
		"BILLING_ADDRESS_MISSING": "billing_address == nil",
		"LINES_EMPTY":             "lines == nil || len(lines) == 0",
	}
}
