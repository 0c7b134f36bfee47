package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowguard/internal/expressions"
	"github.com/rendis/flowguard/internal/testutil"
	"github.com/rendis/flowguard/pkg/schema"
)

func newAnalyzer(t *testing.T, rules ...PolicyRule) *SemanticAnalyzer {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	a, err := NewSemanticAnalyzer(cel, rules)
	require.NoError(t, err)
	return a
}

func TestSemanticAnalyzer_CleanWorkflow(t *testing.T) {
	issues, err := newAnalyzer(t).Analyze(webhookToHTTP())
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSemanticAnalyzer_Advisories(t *testing.T) {
	tests := []struct {
		name     string
		wf       func() *schema.Workflow
		wantCode string
		wantPath string
	}{
		{
			name: "no trigger",
			wf: func() *schema.Workflow {
				return testutil.NewWorkflow("wf", "Sub", testutil.Node("Set", testutil.TypeSet))
			},
			wantCode: CodeNoTrigger,
			wantPath: "nodes",
		},
		{
			name: "disabled node still wired",
			wf: func() *schema.Workflow {
				wf := testutil.NewWorkflow("wf", "x",
					testutil.Node("Webhook", testutil.TypeWebhook),
					testutil.Node("Set", testutil.TypeSet, testutil.Disabled()),
				)
				return testutil.Connect(wf, "Webhook", "Set")
			},
			wantCode: CodeDisabledNodeWired,
			wantPath: "nodes[Set]",
		},
		{
			name: "http without url",
			wf: func() *schema.Workflow {
				return testutil.NewWorkflow("wf", "x",
					testutil.Node("Webhook", testutil.TypeWebhook),
					testutil.Node("HTTP", testutil.TypeHTTPRequest),
				)
			},
			wantCode: CodeMissingURL,
			wantPath: "nodes[HTTP].parameters.url",
		},
		{
			name: "service without credentials",
			wf: func() *schema.Workflow {
				return testutil.NewWorkflow("wf", "x",
					testutil.Node("Webhook", testutil.TypeWebhook),
					testutil.Node("Slack", testutil.TypeSlack),
				)
			},
			wantCode: CodeMissingCredentials,
			wantPath: "nodes[Slack].credentials",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := newAnalyzer(t).Analyze(tt.wf())
			require.NoError(t, err)
			require.Len(t, issues, 1, "%v", issues)
			assert.Equal(t, tt.wantCode, issues[0].Code)
			assert.Equal(t, tt.wantPath, issues[0].Path)
			assert.Equal(t, schema.SeverityWarning, issues[0].Severity)
		})
	}
}

func TestSemanticAnalyzer_ServiceWithCredentials(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "x",
		testutil.Node("Webhook", testutil.TypeWebhook),
		testutil.Node("Slack", testutil.TypeSlack,
			testutil.WithCredentials(map[string]any{"slackApi": map[string]any{"id": "1", "name": "Slack"}})),
	)
	issues, err := newAnalyzer(t).Analyze(wf)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSemanticAnalyzer_LargeWorkflow(t *testing.T) {
	nodes := []schema.Node{testutil.Node("Webhook", testutil.TypeWebhook)}
	for i := 0; i < 50; i++ {
		nodes = append(nodes, testutil.Node(fmt.Sprintf("Set %d", i), testutil.TypeSet))
	}
	issues, err := newAnalyzer(t).Analyze(testutil.NewWorkflow("wf", "Big", nodes...))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeLargeWorkflow, issues[0].Code)
	assert.Equal(t, schema.SeverityInfo, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "51 nodes")
}

func TestSemanticAnalyzer_WorkflowPolicy(t *testing.T) {
	a := newAnalyzer(t, PolicyRule{
		Name:       "max-nodes",
		Expression: `workflow.nodes.size() <= 1`,
		Severity:   schema.SeverityError,
		Message:    "workflows are limited to one node",
	})

	issues, err := a.Analyze(webhookToHTTP())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, CodePolicyViolation, issues[0].Code)
	assert.Equal(t, "/", issues[0].Path)
	assert.Equal(t, schema.SeverityError, issues[0].Severity)
	assert.Equal(t, "workflows are limited to one node", issues[0].Message)
}

func TestSemanticAnalyzer_NodePolicy(t *testing.T) {
	a := newAnalyzer(t, PolicyRule{
		Name:       "no-legacy-function",
		Expression: `node.type != "n8n-nodes-base.function"`,
		Scope:      ScopeNode,
	})

	wf := webhookToHTTP()
	wf.Nodes = append(wf.Nodes, testutil.Node("Legacy", testutil.TypeFunction))
	testutil.Connect(wf, "HTTP", "Legacy")

	issues, err := a.Analyze(wf)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "nodes[Legacy]", issues[0].Path)
	assert.Equal(t, schema.SeverityWarning, issues[0].Severity, "default severity")
	assert.Equal(t, `policy "no-legacy-function" violated`, issues[0].Message)
}

func TestSemanticAnalyzer_InvalidPolicy(t *testing.T) {
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	tests := []struct {
		name string
		rule PolicyRule
		code string
	}{
		{"syntax", PolicyRule{Name: "bad", Expression: `workflow.nodes.size( <`}, schema.ErrCodeExpression},
		{"no name", PolicyRule{Expression: `true`}, schema.ErrCodeValidation},
		{"bad scope", PolicyRule{Name: "x", Expression: `true`, Scope: "edge"}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSemanticAnalyzer(cel, []PolicyRule{tt.rule})
			var fe *schema.FlowError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestSemanticAnalyzer_NonBoolPolicyFails(t *testing.T) {
	a := newAnalyzer(t, PolicyRule{Name: "name", Expression: `workflow.name`})
	_, err := a.Analyze(webhookToHTTP())
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeExpression, fe.Code)
}

func TestSemanticAnalyzer_SetPoliciesKeepsOldOnError(t *testing.T) {
	keep := PolicyRule{Name: "active", Expression: `workflow.active`}
	a := newAnalyzer(t, keep)

	err := a.SetPolicies([]PolicyRule{{Name: "broken", Expression: `)(`}})
	require.Error(t, err)
	assert.Equal(t, []PolicyRule{keep}, a.Policies())

	require.NoError(t, a.SetPolicies(nil))
	assert.Empty(t, a.Policies())
}
