package validation

import (
	"context"
	"fmt"

	"github.com/rendis/flowguard/internal/expressions"
	"github.com/rendis/flowguard/pkg/schema"
)

// Policy scopes.
const (
	ScopeWorkflow = "workflow"
	ScopeNode     = "node"
)

// PolicyRule is an organization rule written in CEL. The expression must return
// a bool; false means the rule is violated. Workflow-scoped rules see `workflow`,
// node-scoped rules are evaluated once per node and also see `node`.
type PolicyRule struct {
	Name       string                    `json:"name"`
	Expression string                    `json:"expression"`
	Scope      string                    `json:"scope,omitempty"`
	Severity   schema.ValidationSeverity `json:"severity,omitempty"`
	Message    string                    `json:"message,omitempty"`
}

func (r PolicyRule) message() string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("policy %q violated", r.Name)
}

func (r PolicyRule) severity() schema.ValidationSeverity {
	if r.Severity == "" {
		return schema.SeverityWarning
	}
	return r.Severity
}

// CompilePolicies checks every rule against the engine.
func CompilePolicies(engine *expressions.CELEngine, rules []PolicyRule) error {
	for _, r := range rules {
		if r.Name == "" {
			return schema.NewError(schema.ErrCodeValidation, "policy rule without name")
		}
		if r.Scope != "" && r.Scope != ScopeWorkflow && r.Scope != ScopeNode {
			return schema.NewErrorf(schema.ErrCodeValidation, "policy %q has unknown scope %q", r.Name, r.Scope)
		}
		if err := engine.Compile(r.Expression); err != nil {
			return schema.NewErrorf(schema.ErrCodeExpression, "policy %q: %s", r.Name, err.Error()).WithCause(err)
		}
	}
	return nil
}

// evaluatePolicies runs the rules against the decoded workflow document.
func evaluatePolicies(ctx context.Context, engine *expressions.CELEngine, rules []PolicyRule, doc map[string]any) ([]schema.ValidationIssue, error) {
	var issues []schema.ValidationIssue

	nodes, _ := doc["nodes"].([]any)
	for _, r := range rules {
		if r.Scope != ScopeNode {
			ok, err := engine.EvaluateBool(ctx, r.Expression, map[string]any{"workflow": doc})
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExpression, "policy %q: %s", r.Name, err.Error()).WithCause(err)
			}
			if !ok {
				issues = append(issues, schema.ValidationIssue{
					Path: "/", Code: CodePolicyViolation, Message: r.message(), Severity: r.severity(),
				})
			}
			continue
		}

		for _, raw := range nodes {
			node, _ := raw.(map[string]any)
			ok, err := engine.EvaluateBool(ctx, r.Expression, map[string]any{"workflow": doc, "node": node})
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExpression, "policy %q: %s", r.Name, err.Error()).WithCause(err)
			}
			if !ok {
				name, _ := node["name"].(string)
				issues = append(issues, schema.ValidationIssue{
					Path: schema.NodePath(name), Code: CodePolicyViolation, Message: r.message(), Severity: r.severity(),
				})
			}
		}
	}
	return issues, nil
}
