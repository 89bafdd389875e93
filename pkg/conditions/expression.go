package conditions

import (
	"fmt"
	"strings"

	"github.com/dukex/journey/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultProgramCacheSize bounds the compiled programs an evaluator keeps.
const DefaultProgramCacheSize = 1024

// ExpressionEvaluator evaluates boolean expr-lang expressions over the run environment.
// Compiled programs are kept in an LRU cache keyed by source text.
type ExpressionEvaluator struct {
	cache *lru.Cache[string, *vm.Program]
}

// NewExpressionEvaluator creates an evaluator caching up to DefaultProgramCacheSize programs.
func NewExpressionEvaluator() *ExpressionEvaluator {
	return NewExpressionEvaluatorWithCacheSize(DefaultProgramCacheSize)
}

// NewExpressionEvaluatorWithCacheSize creates an evaluator caching up to size programs.
// A size below one falls back to DefaultProgramCacheSize.
func NewExpressionEvaluatorWithCacheSize(size int) *ExpressionEvaluator {
	if size < 1 {
		size = DefaultProgramCacheSize
	}

	// only a non-positive size is rejected
	cache, _ := lru.New[string, *vm.Program](size)

	return &ExpressionEvaluator{cache: cache}
}

func (e *ExpressionEvaluator) compile(source string) (*vm.Program, error) {
	if program, ok := e.cache.Get(source); ok {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.Env(Env{}.Map()),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: expression %q: %w", ErrInvalidCondition, source, err)
	}

	e.cache.Add(source, program)

	return program, nil
}

// Check compiles the expression.
func (e *ExpressionEvaluator) Check(cond models.Condition) error {
	if strings.TrimSpace(cond.Expr) == "" {
		return fmt.Errorf("%w: expression condition requires expr", ErrInvalidCondition)
	}

	_, err := e.compile(cond.Expr)

	return err
}

// Satisfiable is false only for an expression that is the literal false.
func (e *ExpressionEvaluator) Satisfiable(cond models.Condition) bool {
	tree, err := parser.Parse(cond.Expr)
	if err != nil {
		return false
	}

	if literal, ok := tree.Node.(*ast.BoolNode); ok {
		return literal.Value
	}

	return true
}

// Evaluate runs the compiled program against env.
func (e *ExpressionEvaluator) Evaluate(cond models.Condition, env Env) (bool, error) {
	program, err := e.compile(cond.Expr)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, env.Map())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression %q: %w", cond.Expr, err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", cond.Expr, result)
	}

	return matched, nil
}
