package expressions

import "context"

// Engine evaluates expressions against workflow data.
// Three implementations: CEL (policy rules), jq (queries), Expr (migration conditions).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is implemented by engines that can check an expression without evaluating it.
type Compiler interface {
	Compile(expression string) error
}
