package depmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/internal/testutil"
	"github.com/rendis/flowguard/pkg/schema"
)

func slackCreds() map[string]any {
	return map[string]any{"slackApi": map[string]any{"id": "1", "name": "Team Slack"}}
}

func fixture() []*schema.Workflow {
	enrich := testutil.NewWorkflow("wf-enrich", "Enrich",
		testutil.Node("Start", "n8n-nodes-base.executeWorkflowTrigger"),
		testutil.Node("HTTP", testutil.TypeHTTPRequest, testutil.WithParams(map[string]any{"url": "https://a"})),
	)
	testutil.Connect(enrich, "Start", "HTTP")

	intake := testutil.NewWorkflow("wf-intake", "Intake",
		testutil.Node("Webhook", testutil.TypeWebhook),
		testutil.Node("Call", testutil.TypeExecuteWorkflow, testutil.WithParams(map[string]any{"workflowId": "wf-enrich"})),
		testutil.Node("Notify", testutil.TypeSlack, testutil.WithCredentials(slackCreds())),
		testutil.Node("Legacy", testutil.TypeExecuteWorkflow, testutil.WithParams(map[string]any{"workflowId": "gone"})),
	)
	testutil.Connect(intake, "Webhook", "Call")
	testutil.Connect(intake, "Call", "Notify")

	backfill := testutil.NewWorkflow("wf-backfill", "Backfill",
		testutil.Node("Cron", testutil.TypeScheduleTrigger),
		testutil.Node("Run enrich", testutil.TypeExecuteWorkflow,
			testutil.WithParams(map[string]any{"workflowId": map[string]any{"__rl": true, "value": "", "mode": "list"}, "workflowName": "Enrich"})),
		testutil.Node("Alert", testutil.TypeSlack, testutil.WithCredentials(slackCreds())),
	)
	testutil.Connect(backfill, "Cron", "Run enrich")

	return []*schema.Workflow{enrich, intake, backfill}
}

func TestBuild_Calls(t *testing.T) {
	m := Build(fixture())
	assert.Equal(t, []string{"wf-backfill", "wf-enrich", "wf-intake"}, m.Keys())

	intake := m.Workflows["wf-intake"]
	require.NotNil(t, intake)
	assert.Equal(t, testutil.TypeWebhook, intake.Trigger)
	assert.Equal(t, []Call{
		{Node: "Call", WorkflowID: "wf-enrich", WorkflowName: "Enrich", Resolved: true},
		{Node: "Legacy", WorkflowID: "gone"},
	}, intake.Calls)

	backfill := m.Workflows["wf-backfill"]
	require.Len(t, backfill.Calls, 1)
	assert.True(t, backfill.Calls[0].Resolved, "resolved by name")
	assert.Equal(t, "wf-enrich", backfill.Calls[0].WorkflowID)
}

func TestBuild_CalledBy(t *testing.T) {
	m := Build(fixture())

	assert.Equal(t, []impact.Caller{
		{WorkflowID: "wf-intake", WorkflowName: "Intake", NodeName: "Call"},
		{WorkflowID: "wf-backfill", WorkflowName: "Backfill", NodeName: "Run enrich"},
	}, m.Workflows["wf-enrich"].CalledBy)
	assert.Empty(t, m.Workflows["wf-intake"].CalledBy)
	assert.Empty(t, m.Workflows["wf-enrich"].Calls, "the sub-workflow trigger is not a call")
}

func TestBuild_ReverseIndexes(t *testing.T) {
	m := Build(fixture())

	assert.Equal(t, map[string][]string{"slackApi": {"wf-backfill", "wf-intake"}}, m.CredentialUsers)
	assert.Equal(t, []string{"wf-enrich"}, m.ServiceUsers["http"])
	assert.Equal(t, []string{"wf-backfill", "wf-intake"}, m.ServiceUsers["slack"])
}

func TestMap_GetAndUnresolved(t *testing.T) {
	m := Build(fixture())

	require.NotNil(t, m.Get("Backfill"))
	assert.Equal(t, "wf-backfill", m.Get("Backfill").ID)
	assert.Equal(t, "Intake", m.Get("wf-intake").Name)
	assert.Nil(t, m.Get("nope"))

	assert.Equal(t, map[string][]Call{
		"wf-intake": {{Node: "Legacy", WorkflowID: "gone"}},
	}, m.Unresolved())
}

func TestBuild_WorkflowsWithoutID(t *testing.T) {
	a := testutil.NewWorkflow("", "Draft", testutil.Node("Set", testutil.TypeSet))
	m := Build([]*schema.Workflow{a, nil})
	require.Len(t, m.Workflows, 1)
	assert.Equal(t, "Draft", Key(a))
	assert.NotNil(t, m.Workflows["Draft"])
	assert.Empty(t, m.Workflows["Draft"].Services)
}
