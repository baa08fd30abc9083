// Package cel compiles and evaluates the CEL conditions of policy rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
)

const (
	// maxConditionLength bounds the source length of a rule condition.
	maxConditionLength = 1024
	// maxCostBudget is the CEL runtime cost limit per evaluation.
	maxCostBudget = 100_000
	// maxNestingDepth bounds parenthesis and bracket nesting.
	maxNestingDepth = 50
	// evalTimeout bounds a single evaluation.
	evalTimeout = 5 * time.Second
	// interruptCheckFreq is how often, in comprehension iterations,
	// cancellation is checked.
	interruptCheckFreq = 100
)

// Stages a ConditionError can come from.
const (
	StageCompile  = "compile"
	StageEvaluate = "evaluate"
)

// ConditionError reports a rule condition that could not be compiled or
// evaluated.
type ConditionError struct {
	RuleID string
	Stage  string
	Err    error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("rule %q: condition failed to %s: %v", e.RuleID, e.Stage, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// Condition is the compiled CEL condition of one rule.
type Condition struct {
	RuleID  string
	Source  string
	program cel.Program
	// reads holds the request variables the condition refers to, sorted.
	reads []string
}

// Reads returns the request variables the condition refers to.
func (c *Condition) Reads() []string {
	return slices.Clone(c.reads)
}

// Uses reports whether the condition reads the request variable name, such
// as "language" or "request_time".
func (c *Condition) Uses(name string) bool {
	_, found := slices.BinarySearch(c.reads, name)
	return found
}

// Evaluator compiles and evaluates rule conditions against the policy
// environment.
type Evaluator struct {
	env       *cel.Env
	variables map[string]bool
}

// NewEvaluator creates an evaluator over the policy environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	vars := make(map[string]bool, len(Variables))
	for _, v := range Variables {
		vars[v] = true
	}
	return &Evaluator{env: env, variables: vars}, nil
}

// Compile checks and compiles the condition of rule ruleID. The condition
// must stay within the length and nesting limits and type-check to a
// boolean (or a dynamic value, which is checked when evaluated).
func (e *Evaluator) Compile(ruleID, condition string) (*Condition, error) {
	fail := func(err error) error {
		return &ConditionError{RuleID: ruleID, Stage: StageCompile, Err: err}
	}
	if err := checkShape(condition); err != nil {
		return nil, fail(err)
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fail(issues.Err())
	}
	switch out := ast.OutputType(); out.Kind() {
	case types.BoolKind, types.DynKind:
	default:
		return nil, fail(fmt.Errorf("condition yields %s, not bool", out))
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fail(fmt.Errorf("program creation failed: %w", err))
	}

	var reads []string
	for _, ref := range ast.NativeRep().ReferenceMap() {
		if e.variables[ref.Name] && !slices.Contains(reads, ref.Name) {
			reads = append(reads, ref.Name)
		}
	}
	slices.Sort(reads)
	return &Condition{RuleID: ruleID, Source: condition, program: prg, reads: reads}, nil
}

// Validate checks the condition of rule without keeping the program. Rules
// without a condition are valid.
func (e *Evaluator) Validate(rule policy.Rule) error {
	if rule.Condition == "" {
		return nil
	}
	_, err := e.Compile(rule.Key(), rule.Condition)
	return err
}

// checkShape applies the source limits that hold before parsing.
func checkShape(condition string) error {
	if condition == "" {
		return errors.New("condition is empty")
	}
	if len(condition) > maxConditionLength {
		return fmt.Errorf("condition is %d characters, limit is %d", len(condition), maxConditionLength)
	}
	var depth, maxDepth int
	for _, ch := range condition {
		switch ch {
		case '(', '[', '{':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("condition nests %d levels, limit is %d", maxDepth, maxNestingDepth)
	}
	return nil
}

// Evaluate runs c for req in mode. The parent context bounds evaluation
// together with evalTimeout.
func (e *Evaluator) Evaluate(ctx context.Context, c *Condition, req policy.Request, mode policy.Mode) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := c.program.ContextEval(ctx, BuildActivation(req, mode))
	if err != nil {
		return false, &ConditionError{RuleID: c.RuleID, Stage: StageEvaluate, Err: err}
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, &ConditionError{RuleID: c.RuleID, Stage: StageEvaluate,
			Err: fmt.Errorf("%s on %s returned %T, not bool", c.Source, req.Tool, result.Value())}
	}
	return matched, nil
}
