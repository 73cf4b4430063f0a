package notify

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// celFilter wraps a compiled CEL program evaluated against each event before
// it is queued for a subscriber. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("value", cel.StringType),
		// false for a delete of a key that held nothing
		cel.Variable("has_value", cel.BoolType),
		cel.Variable("op", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, &FilterError{Expr: expr, Reason: iss.Err().Error()}
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return celFilter{}, &FilterError{Expr: expr, Reason: "expression must evaluate to bool"}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// ValidateFilter compiles expr without registering anything. A non-nil
// result is a *FilterError or a CEL environment error.
func ValidateFilter(expr string) error {
	_, err := newCELFilter(expr)
	return err
}

// Eval evaluates the compiled expression against an event. Evaluation errors
// count as a non-match.
func (f celFilter) Eval(e Event) bool {
	if !f.enabled {
		return true
	}
	val := ""
	if e.Value != nil {
		val = *e.Value
	}
	out, _, err := f.prog.Eval(map[string]any{
		"key":       e.Key,
		"value":     val,
		"has_value": e.Value != nil,
		"op":        string(e.Op),
		"ts_ms":     e.TsMs,
		"now_ms":    time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
