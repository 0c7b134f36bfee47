package validation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rendis/flowguard/internal/expressions"
	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/pkg/schema"
)

// Advisory issue codes.
const (
	CodeNoTrigger          = "NO_TRIGGER"
	CodeDisabledNodeWired  = "DISABLED_NODE_WIRED"
	CodeMissingURL         = "MISSING_URL"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeLargeWorkflow      = "LARGE_WORKFLOW"
	CodePolicyViolation    = "POLICY_VIOLATION"
)

// largeWorkflowNodes is the node count above which a workflow is flagged as large.
const largeWorkflowNodes = 50

// SemanticAnalyzer reports advisory issues and organization policy violations.
// Policies can be swapped at runtime; it is safe for concurrent use.
type SemanticAnalyzer struct {
	engine *expressions.CELEngine

	mu       sync.RWMutex
	policies []PolicyRule
}

// NewSemanticAnalyzer creates an analyzer. Policies are compiled up front.
func NewSemanticAnalyzer(engine *expressions.CELEngine, policies []PolicyRule) (*SemanticAnalyzer, error) {
	a := &SemanticAnalyzer{engine: engine}
	if err := a.SetPolicies(policies); err != nil {
		return nil, err
	}
	return a, nil
}

// SetPolicies replaces the policy set after compiling it. On error the current set is kept.
func (a *SemanticAnalyzer) SetPolicies(policies []PolicyRule) error {
	if err := CompilePolicies(a.engine, policies); err != nil {
		return err
	}
	a.mu.Lock()
	a.policies = append([]PolicyRule(nil), policies...)
	a.mu.Unlock()
	return nil
}

// Policies returns a copy of the active policy set.
func (a *SemanticAnalyzer) Policies() []PolicyRule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]PolicyRule(nil), a.policies...)
}

// Analyze returns advisory issues for wf.
func (a *SemanticAnalyzer) Analyze(wf *schema.Workflow) ([]schema.ValidationIssue, error) {
	return a.AnalyzeContext(context.Background(), wf)
}

// AnalyzeContext is Analyze with a context for policy evaluation.
func (a *SemanticAnalyzer) AnalyzeContext(ctx context.Context, wf *schema.Workflow) ([]schema.ValidationIssue, error) {
	issues := adviseStructure(wf)

	policies := a.Policies()
	if len(policies) == 0 {
		return issues, nil
	}

	doc, err := wf.ToMap()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to encode workflow").WithCause(err)
	}
	violations, err := evaluatePolicies(ctx, a.engine, policies, doc)
	if err != nil {
		return nil, err
	}
	return append(issues, violations...), nil
}

func adviseStructure(wf *schema.Workflow) []schema.ValidationIssue {
	issues := []schema.ValidationIssue{}
	add := func(path, code, msg string, sev schema.ValidationSeverity) {
		issues = append(issues, schema.ValidationIssue{Path: path, Code: code, Message: msg, Severity: sev})
	}

	if impact.FindTrigger(wf) == nil {
		add(schema.PathNodes, CodeNoTrigger, "workflow has no trigger node and can only run manually or as a sub-workflow", schema.SeverityWarning)
	}

	wired := make(map[string]bool)
	for _, e := range wf.Edges() {
		wired[e.Source] = true
		wired[e.Target] = true
	}

	for _, n := range wf.Nodes {
		if n.Disabled && wired[n.Name] {
			add(schema.NodePath(n.Name), CodeDisabledNodeWired,
				fmt.Sprintf("disabled node %q is still connected; items stop there", n.Name), schema.SeverityWarning)
		}

		services := impact.NodeServices(n.Type)
		if containsString(services, "http") && !impact.IsTrigger(n.Type) {
			if url, _ := n.Parameters["url"].(string); url == "" {
				add(schema.NodePath(n.Name, "parameters", "url"), CodeMissingURL,
					fmt.Sprintf("HTTP node %q has no URL", n.Name), schema.SeverityWarning)
			}
			continue
		}
		if len(services) > 0 && !impact.IsTrigger(n.Type) && len(n.Credentials) == 0 {
			add(schema.NodePath(n.Name, "credentials"), CodeMissingCredentials,
				fmt.Sprintf("node %q uses %s but has no credentials", n.Name, services[0]), schema.SeverityWarning)
		}
	}

	if len(wf.Nodes) > largeWorkflowNodes {
		add(schema.PathNodes, CodeLargeWorkflow,
			fmt.Sprintf("workflow has %d nodes; consider splitting it into sub-workflows", len(wf.Nodes)), schema.SeverityInfo)
	}

	return issues
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
