package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/internal/testutil"
)

func TestRenderMermaid_Shapes(t *testing.T) {
	output := RenderMermaid(Build(etlWorkflow(), nil))

	assert.Contains(t, output, "flowchart TD\n")
	assert.Contains(t, output, "    %% ETL Pipeline\n")

	assert.Contains(t, output, `n0(["Webhook"])`)
	assert.Contains(t, output, `n1{"IF"}`)
	assert.Contains(t, output, `n2["HTTP"]`)
	assert.Contains(t, output, `n3[/"Log"/]`)

	assert.Contains(t, output, "    n1 -->|true| n2\n")
	assert.Contains(t, output, "    n1 -->|false| n3\n")
	assert.Contains(t, output, "    n0 --> n1\n")

	assert.NotContains(t, output, "classDef", "no overlay, no classes")
}

func TestRenderMermaid_DiffOverlay(t *testing.T) {
	old, next := etlWorkflow(), etlChanged()
	output := RenderMermaid(Build(next, diff.Compute(old, next)))

	assert.Contains(t, output, "    n2 ==> n3\n")
	assert.Contains(t, output, "    n1 -.->|false| n4\n")

	assert.Contains(t, output, "classDef added")
	assert.Contains(t, output, "classDef removed")
	assert.Contains(t, output, "    class n2 modified\n")
	assert.Contains(t, output, "    class n3 added\n")
	assert.Contains(t, output, "    class n4 removed\n")
}

func TestRenderMermaid_DisabledAndEscaping(t *testing.T) {
	wf := testutil.NewWorkflow("wf", "Quotes",
		testutil.Node(`Say "hi"`, testutil.TypeSlack, testutil.Disabled()),
	)
	output := RenderMermaid(Build(wf, nil))

	assert.Contains(t, output, `n0["Say #quot;hi#quot;"]`)
	assert.Contains(t, output, "    class n0 disabled\n")
}

func TestRenderMermaid_Deterministic(t *testing.T) {
	first := RenderMermaid(Build(etlWorkflow(), nil))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, RenderMermaid(Build(etlWorkflow(), nil)))
	}
}
