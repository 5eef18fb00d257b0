// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// Engine evaluates an ordered policy table against a transaction.
// Programs are compiled once by NewEngine; the engine holds no mutable
// state afterwards and is safe for concurrent use.
type Engine struct {
	env      *cel.Env
	policies []compiledPolicy
}

type compiledPolicy struct {
	Policy
	program cel.Program
}

// NewEngine compiles every policy. A policy that fails to compile or does
// not return bool is a configuration error.
func NewEngine(policies []Policy) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amount_exact", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Function("decimal_gt",
			cel.Overload("decimal_gt_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(decimalGreater),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:      env,
		policies: make([]compiledPolicy, 0, len(policies)),
	}
	for _, p := range policies {
		program, err := e.compile(p)
		if err != nil {
			return nil, err
		}
		e.policies = append(e.policies, compiledPolicy{Policy: p, program: program})
	}
	return e, nil
}

// NewDefaultEngine compiles DefaultPolicies.
func NewDefaultEngine() (*Engine, error) {
	return NewEngine(DefaultPolicies())
}

// Evaluate runs every policy in order. Risk accumulates across policies that
// fire while the decision and label come from the last one. With no policy
// firing the outcome is ACCEPTED, 0, NO_RULE_TRIGGERED.
func (e *Engine) Evaluate(amount decimal.Decimal, location string) domain.RuleOutcome {
	outcome := domain.RuleOutcome{
		Decision: domain.DecisionAccepted,
		Rule:     domain.RuleNone,
	}

	amt, _ := amount.Float64()
	activation := map[string]any{
		"amount":       amt,
		"amount_exact": amount.String(),
		"location":     strings.ToLower(location),
	}

	for _, p := range e.policies {
		out, _, err := p.program.Eval(activation)
		if err != nil {
			slog.Error("rule evaluation failed", "policy", p.ID, "error", err)
			continue
		}
		if out != types.True {
			continue
		}
		outcome.Decision = p.Decision
		outcome.Rule = p.Rule
		outcome.Risk += p.Risk
	}

	return outcome
}

// PoliciesCount returns the number of compiled policies.
func (e *Engine) PoliciesCount() int {
	return len(e.policies)
}

// Policies returns a copy of the policy table in evaluation order.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	for i, p := range e.policies {
		out[i] = p.Policy
	}
	return out
}

// decimalGreater backs decimal_gt(a, b), an exact comparison of two decimal
// strings. The double "amount" variable loses precision past ~15 digits.
func decimalGreater(lhs, rhs ref.Val) ref.Val {
	a, err := parseDecimal(lhs)
	if err != nil {
		return types.NewErr("decimal_gt: %v", err)
	}
	b, err := parseDecimal(rhs)
	if err != nil {
		return types.NewErr("decimal_gt: %v", err)
	}
	return types.Bool(a.GreaterThan(b))
}

func parseDecimal(v ref.Val) (decimal.Decimal, error) {
	s, ok := v.(types.String)
	if !ok {
		return decimal.Zero, fmt.Errorf("expected string, got %s", v.Type().TypeName())
	}
	return decimal.NewFromString(string(s))
}

func (e *Engine) compile(p Policy) (cel.Program, error) {
	if !p.Decision.Valid() {
		return nil, fmt.Errorf("policy %s: unknown decision %q", p.ID, p.Decision)
	}
	if p.Risk < 0 {
		return nil, fmt.Errorf("policy %s: risk must not be negative", p.ID)
	}

	ast, issues := e.env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", p.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.ID, err)
	}
	return program, nil
}
