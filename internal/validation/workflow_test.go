package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowguard/internal/testutil"
	"github.com/rendis/flowguard/pkg/schema"
)

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator()
	require.NoError(t, err)
	return wv
}

func webhookToHTTP() *schema.Workflow {
	wf := testutil.NewWorkflow("wf1", "Intake",
		testutil.Node("Webhook", testutil.TypeWebhook),
		testutil.Node("HTTP", testutil.TypeHTTPRequest, testutil.WithParams(map[string]any{"url": "https://api.example.com"})),
	)
	return testutil.Connect(wf, "Webhook", "HTTP")
}

func codes(issues []schema.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

// --- Full pipeline ---

func TestWorkflowValidator_FullValid(t *testing.T) {
	result, err := newValidator(t).Validate(webhookToHTTP())
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestWorkflowValidator_NilWorkflow(t *testing.T) {
	result, err := newValidator(t).Validate(nil)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_EmptyWorkflowIsValid(t *testing.T) {
	result, err := newValidator(t).Validate(testutil.NewWorkflow("wf", "Empty"))
	require.NoError(t, err)
	assert.True(t, result.Valid())
}

// --- Structural ---

func TestWorkflowValidator_StructuralFailShortCircuits(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Broken",
		testutil.Node("A", "", testutil.WithVersion(0)),
		testutil.Node("A", testutil.TypeSet),
	)
	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	require.False(t, result.Valid())
	assert.GreaterOrEqual(t, len(result.Errors), 2)
	for _, e := range result.Errors {
		assert.Equal(t, "/", e.Path, "only structural errors are reported")
		assert.NotContains(t, e.Message, "duplicate")
	}
}

func TestWorkflowValidator_NullNodes(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Null")
	wf.Nodes = nil
	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestJSONSchemaValidator_Raw(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	valid := `{"name":"x","nodes":[{"name":"HTTP","type":"n8n-nodes-base.httpRequest","typeVersion":4.2,"position":[0,0],"parameters":{}}],
		"connections":{"HTTP":{"main":[null,[{"node":"HTTP","type":"main","index":0}]]}},"pinData":{}}`
	assert.NoError(t, v.ValidateRaw([]byte(valid)))

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing connections", `{"nodes":[]}`},
		{"missing typeVersion", `{"nodes":[{"name":"a","type":"t"}],"connections":{}}`},
		{"bad position", `{"nodes":[{"name":"a","type":"t","typeVersion":1,"position":[1]}],"connections":{}}`},
		{"credential not object", `{"nodes":[{"name":"a","type":"t","typeVersion":1,"credentials":{"slackApi":"x"}}],"connections":{}}`},
		{"negative index", `{"nodes":[],"connections":{"a":{"main":[[{"node":"b","index":-1}]]}}}`},
		{"target without node", `{"nodes":[],"connections":{"a":{"main":[[{"index":0}]]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRaw([]byte(tt.doc))
			require.Error(t, err)
			var fe *schema.FlowError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, schema.ErrCodeValidation, fe.Code)
		})
	}
}

// --- Semantic ---

func TestWorkflowValidator_DuplicateNames(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Dup",
		testutil.Node("Webhook", testutil.TypeWebhook),
		testutil.Node("Webhook", testutil.TypeSet),
	)
	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[1].name", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, `duplicate node name "Webhook"`)
}

func TestWorkflowValidator_UnknownConnectionEnds(t *testing.T) {
	wf := webhookToHTTP()
	testutil.Connect(wf, "HTTP", "Ghost")
	testutil.Connect(wf, "Phantom", "HTTP")

	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "connections.HTTP", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, `unknown node "Ghost"`)
	assert.Equal(t, "connections.Phantom", result.Errors[1].Path)
	assert.Contains(t, result.Errors[1].Message, `"Phantom" is not a node`)
	assert.Empty(t, result.Warnings, "graph stage skipped on semantic errors")
}

func TestWorkflowValidator_ExecuteWorkflowTarget(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"no target", map[string]any{}, true},
		{"database source without id", map[string]any{"source": "database"}, true},
		{"id string", map[string]any{"workflowId": "42"}, false},
		{"resource locator", map[string]any{"workflowId": map[string]any{"__rl": true, "value": "42", "mode": "list"}}, false},
		{"inline source", map[string]any{"source": "parameter", "workflowJson": "{}"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := testutil.NewWorkflow("wf", "Caller",
				testutil.Node("Webhook", testutil.TypeWebhook),
				testutil.Node("Call", testutil.TypeExecuteWorkflow, testutil.WithParams(tt.params)),
			)
			testutil.Connect(wf, "Webhook", "Call")

			result, err := newValidator(t).Validate(wf)
			require.NoError(t, err)
			if !tt.wantErr {
				assert.True(t, result.Valid(), "%v", result.Errors)
				return
			}
			require.Len(t, result.Errors, 1)
			assert.Equal(t, "nodes[Call].parameters.workflowId", result.Errors[0].Path)
		})
	}
}

// --- Graph ---

func TestWorkflowValidator_CycleIsWarning(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Loop",
		testutil.Node("Start", testutil.TypeManualTrigger),
		testutil.Node("Batch", "n8n-nodes-base.splitInBatches"),
		testutil.Node("Work", testutil.TypeSet),
	)
	testutil.Connect(wf, "Start", "Batch")
	testutil.Connect(wf, "Batch", "Work")
	testutil.Connect(wf, "Work", "Batch")

	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Warnings[0].Code)
	assert.Contains(t, result.Warnings[0].Message, "Batch, Work")
}

func TestWorkflowValidator_UnreachableFromTrigger(t *testing.T) {
	wf := webhookToHTTP()
	wf.Nodes = append(wf.Nodes,
		testutil.Node("Orphan", testutil.TypeSet),
		testutil.Node("Note", "n8n-nodes-base.stickyNote"),
	)

	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "nodes[Orphan]", result.Warnings[0].Path)
	assert.Contains(t, result.Warnings[0].Message, "not reachable")
}

func TestWorkflowValidator_SubNodesAreReachable(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Agent",
		testutil.Node("Chat", "@n8n/n8n-nodes-langchain.chatTrigger"),
		testutil.Node("Agent", "@n8n/n8n-nodes-langchain.agent"),
		testutil.Node("Model", "@n8n/n8n-nodes-langchain.lmChatOpenAi"),
	)
	testutil.Connect(wf, "Chat", "Agent")
	wf.Connections["Model"] = map[string][][]schema.ConnectionTarget{
		"ai_languageModel": {{{Node: "Agent", Type: "ai_languageModel", Index: 0}}},
	}

	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestWorkflowValidator_NoTriggerSkipsReachability(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Sub",
		testutil.Node("A", testutil.TypeSet),
		testutil.Node("B", testutil.TypeCode),
	)
	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
}

func TestWorkflowValidator_Concurrent(t *testing.T) {
	wv := newValidator(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := wv.Validate(webhookToHTTP())
			assert.NoError(t, err)
			assert.True(t, result.Valid())
		}()
	}
	wg.Wait()
}

func TestValidationResult_ToError(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Dup",
		testutil.Node("A", testutil.TypeSet),
		testutil.Node("A", testutil.TypeSet),
	)
	result, err := newValidator(t).Validate(wf)
	require.NoError(t, err)

	var fe *schema.FlowError
	require.True(t, errors.As(result.ToError(), &fe))
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Equal(t, []string{schema.ErrCodeValidation}, codes(result.Errors))
}
