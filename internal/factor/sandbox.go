package factor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

// Builtins callable from a factor expression. Everything else is disabled.
var allowedBuiltins = []string{"abs", "min", "max", "round", "floor", "ceil"}

// Evaluation failure kinds
const (
	FailureMissingAttribute = "missing_attribute"
	FailureNonFinite        = "non_finite"
	FailureNonNumeric       = "non_numeric"
	FailureRuntime          = "runtime"
)

// CompileError is returned when an expression is rejected at save time.
type CompileError struct {
	Expression string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid factor expression %q: %v", e.Expression, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// EvalError describes why an expression produced no usable value for a runner.
type EvalError struct {
	Kind   string
	Detail string
}

func (e *EvalError) Error() string {
	return e.Kind + ": " + e.Detail
}

// Program is a compiled, schema-checked factor expression.
type Program struct {
	Source    string
	program   *vm.Program
	variables []string
}

// Variables returns the schema variables the expression references.
func (p *Program) Variables() []string {
	return append([]string(nil), p.variables...)
}

type identCollector struct {
	seen map[string]struct{}
}

func (c *identCollector) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		if _, known := ContextSchema[id.Value]; known {
			c.seen[id.Value] = struct{}{}
		}
	}
}

// Compile parses and type-checks an expression against the runner schema.
// References to unknown variables, disabled builtins or a non-numeric result
// type are rejected.
func Compile(expression string) (*Program, error) {
	if expression == "" {
		return nil, &CompileError{Expression: expression, Err: errors.New("empty expression")}
	}

	collector := &identCollector{seen: map[string]struct{}{}}
	opts := []expr.Option{
		expr.Env(schemaEnv()),
		expr.DisableAllBuiltins(),
		expr.Patch(collector),
	}
	for _, name := range allowedBuiltins {
		opts = append(opts, expr.EnableBuiltin(name))
	}

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, &CompileError{Expression: expression, Err: err}
	}

	vars := make([]string, 0, len(collector.seen))
	for name := range collector.seen {
		vars = append(vars, name)
	}
	sort.Strings(vars)

	p := &Program{Source: expression, program: program, variables: vars}

	// A dry run on the typed sample catches string or collection results.
	out, err := expr.Run(program, schemaEnv())
	if err == nil {
		if _, ok := toFloat(out); !ok {
			return nil, &CompileError{Expression: expression, Err: fmt.Errorf("result type %T is not numeric", out)}
		}
	}

	return p, nil
}

// Eval evaluates the program for one runner. A nil error always comes with a finite value.
func (p *Program) Eval(ctx Context) (value float64, err error) {
	for _, name := range p.variables {
		if _, ok := ctx[name]; !ok {
			return 0, &EvalError{Kind: FailureMissingAttribute, Detail: name}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			value, err = 0, &EvalError{Kind: FailureRuntime, Detail: fmt.Sprint(r)}
		}
	}()

	out, runErr := expr.Run(p.program, map[string]interface{}(ctx))
	if runErr != nil {
		return 0, &EvalError{Kind: FailureRuntime, Detail: runErr.Error()}
	}

	v, ok := toFloat(out)
	if !ok {
		return 0, &EvalError{Kind: FailureNonNumeric, Detail: fmt.Sprintf("%T", out)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvalError{Kind: FailureNonFinite, Detail: fmt.Sprint(v)}
	}
	return v, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
