package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/internal/testutil"
	"github.com/rendis/flowguard/pkg/schema"
)

// --- Test workflow builders ---

const typeIf = "n8n-nodes-base.if"

// etlWorkflow: Webhook -> IF -(true)-> HTTP, IF -(false)-> Log.
func etlWorkflow() *schema.Workflow {
	wf := testutil.NewWorkflow("wf1", "ETL Pipeline",
		testutil.Node("Webhook", testutil.TypeWebhook),
		testutil.Node("IF", typeIf),
		testutil.Node("HTTP", testutil.TypeHTTPRequest, testutil.WithParams(map[string]any{"url": "https://a.example.com"})),
		testutil.Node("Log", testutil.TypeSet),
	)
	testutil.Connect(wf, "Webhook", "IF")
	testutil.ConnectSlot(wf, "IF", 0, "HTTP")
	testutil.ConnectSlot(wf, "IF", 1, "Log")
	return wf
}

// etlChanged drops Log, adds Slack after HTTP and changes the HTTP url.
func etlChanged() *schema.Workflow {
	wf := testutil.Clone(etlWorkflow())
	wf.Nodes = []schema.Node{
		wf.Nodes[0],
		wf.Nodes[1],
		testutil.Node("HTTP", testutil.TypeHTTPRequest, testutil.WithParams(map[string]any{"url": "https://b.example.com"})),
		testutil.Node("Slack", testutil.TypeSlack),
	}
	wf.Connections["IF"][schema.DefaultConnectionType] = [][]schema.ConnectionTarget{
		{{Node: "HTTP", Type: schema.DefaultConnectionType}},
	}
	return testutil.Connect(wf, "HTTP", "Slack")
}

func edgeByEnds(m *DiagramModel, from, to string) *Edge {
	for i := range m.Edges {
		if m.Edges[i].From == from && m.Edges[i].To == to {
			return &m.Edges[i]
		}
	}
	return nil
}

// --- Build ---

func TestBuild_Layout(t *testing.T) {
	m := Build(etlWorkflow(), nil)

	assert.Equal(t, "ETL Pipeline", m.Title)
	require.Len(t, m.Nodes, 4)
	assert.Equal(t, [][]string{{"Webhook"}, {"IF"}, {"HTTP", "Log"}}, m.Levels)

	kinds := map[string]NodeKind{}
	for i, n := range m.Nodes {
		kinds[n.Name] = n.Kind
		assert.Equal(t, ChangeUnchanged, n.Change)
		assert.Equal(t, []string{"n0", "n1", "n2", "n3"}[i], n.ID)
	}
	assert.Equal(t, map[string]NodeKind{
		"Webhook": NodeKindTrigger,
		"IF":      NodeKindCondition,
		"HTTP":    NodeKindAction,
		"Log":     NodeKindTransform,
	}, kinds)

	assert.Equal(t, []Edge{
		{From: "IF", To: "HTTP", Label: "true", Change: ChangeUnchanged},
		{From: "IF", To: "Log", Label: "false", Change: ChangeUnchanged},
		{From: "Webhook", To: "IF", Change: ChangeUnchanged},
	}, m.Edges)
}

func TestBuild_DiffOverlay(t *testing.T) {
	old, next := etlWorkflow(), etlChanged()
	m := Build(next, diff.Compute(old, next))

	byName := map[string]*Node{}
	for _, n := range m.Nodes {
		byName[n.Name] = n
	}
	require.Len(t, byName, 5)
	assert.Equal(t, ChangeUnchanged, byName["Webhook"].Change)
	assert.Equal(t, ChangeAdded, byName["Slack"].Change)
	assert.Equal(t, ChangeModified, byName["HTTP"].Change)
	assert.Equal(t, []string{"parameter changed: url"}, byName["HTTP"].Details)
	assert.Equal(t, ChangeRemoved, byName["Log"].Change)
	assert.Equal(t, NodeKindTransform, byName["Log"].Kind)
	assert.Equal(t, "n4", byName["Log"].ID, "removed nodes come last")

	require.NotNil(t, edgeByEnds(m, "HTTP", "Slack"))
	assert.Equal(t, ChangeAdded, edgeByEnds(m, "HTTP", "Slack").Change)
	removed := edgeByEnds(m, "IF", "Log")
	require.NotNil(t, removed)
	assert.Equal(t, ChangeRemoved, removed.Change)
	assert.Equal(t, "false", removed.Label)

	assert.Equal(t, [][]string{{"Webhook"}, {"IF"}, {"HTTP", "Log"}, {"Slack"}}, m.Levels)
}

func TestBuild_SkipsStickyNotesAndDanglingEdges(t *testing.T) {
	wf := etlWorkflow()
	wf.Nodes = append(wf.Nodes, testutil.Node("Note", "n8n-nodes-base.stickyNote"))
	testutil.Connect(wf, "Log", "Ghost")

	m := Build(wf, nil)
	assert.Len(t, m.Nodes, 4)
	assert.Len(t, m.Edges, 3)
}

func TestBuild_CycleGoesLast(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "",
		testutil.Node("Start", testutil.TypeManualTrigger),
		testutil.Node("Batch", "n8n-nodes-base.splitInBatches"),
		testutil.Node("Work", testutil.TypeCode),
	)
	testutil.Connect(wf, "Start", "Batch")
	testutil.Connect(wf, "Batch", "Work")
	testutil.Connect(wf, "Work", "Batch")

	m := Build(wf, nil)
	assert.Equal(t, "Workflow", m.Title)
	assert.Equal(t, [][]string{{"Start"}, {"Batch", "Work"}}, m.Levels)
}

func TestBuild_SubNodeEdgeLabel(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Agent",
		testutil.Node("Agent", "@n8n/n8n-nodes-langchain.agent"),
		testutil.Node("Model", "@n8n/n8n-nodes-langchain.lmChatOpenAi"),
	)
	wf.Connections["Model"] = map[string][][]schema.ConnectionTarget{
		"ai_languageModel": {{{Node: "Agent", Type: "ai_languageModel"}}},
	}

	m := Build(wf, nil)
	require.Len(t, m.Edges, 1)
	assert.Equal(t, "ai_languageModel", m.Edges[0].Label)
	assert.Equal(t, [][]string{{"Model"}, {"Agent"}}, m.Levels)
}

func TestKindOf(t *testing.T) {
	tests := map[string]NodeKind{
		testutil.TypeScheduleTrigger:     NodeKindTrigger,
		"n8n-nodes-base.executeWorkflow": NodeKindSubWorkflow,
		"n8n-nodes-base.switch":          NodeKindCondition,
		testutil.TypeCode:                NodeKindTransform,
		testutil.TypeSlack:               NodeKindAction,
	}
	for typ, want := range tests {
		assert.Equal(t, want, kindOf(typ), typ)
	}
}
