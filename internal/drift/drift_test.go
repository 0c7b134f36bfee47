package drift

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/internal/store"
	"github.com/rendis/flowguard/internal/testutil"
	"github.com/rendis/flowguard/pkg/schema"
)

type fakeFetcher struct {
	mu        sync.Mutex
	workflows map[string]*schema.Workflow
}

func newFakeFetcher(wfs ...*schema.Workflow) *fakeFetcher {
	f := &fakeFetcher{workflows: map[string]*schema.Workflow{}}
	for _, wf := range wfs {
		f.set(wf)
	}
	return f
}

func (f *fakeFetcher) set(wf *schema.Workflow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[wf.ID] = testutil.Clone(wf)
}

func (f *fakeFetcher) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return testutil.Clone(wf), nil
}

type chanNotifier chan *Report

func (c chanNotifier) NotifyDrift(_ context.Context, r *Report) { c <- r }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "drift.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intake(id string) *schema.Workflow {
	wf := testutil.NewWorkflow(id, "Intake "+id,
		testutil.Node("Webhook", testutil.TypeWebhook),
		testutil.Node("HTTP", testutil.TypeHTTPRequest, testutil.WithParams(map[string]any{"url": "https://api.example.com"})),
		testutil.Node("Slack", testutil.TypeSlack, testutil.WithCredentials(map[string]any{"slackApi": "cred-1"})),
	)
	wf = testutil.Connect(wf, "Webhook", "HTTP")
	return testutil.Connect(wf, "HTTP", "Slack")
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, code, fe.Code)
}

func TestCheck_WithoutBaseline(t *testing.T) {
	d := NewDetector(newTestStore(t), newFakeFetcher(intake("wf-1")), discardLogger())
	_, err := d.Check(context.Background(), "wf-1")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestCheck_NoDrift(t *testing.T) {
	ctx := context.Background()
	live := newFakeFetcher(intake("wf-1"))
	d := NewDetector(newTestStore(t), live, discardLogger())

	snap, err := d.Baseline(ctx, "wf-1")
	require.NoError(t, err)

	// n8n bumps versionId on every save even when nothing changed.
	bumped := intake("wf-1")
	bumped.VersionID = "v2"
	live.set(bumped)

	r, err := d.Check(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, r.Drifted)
	assert.True(t, r.Diff.IsEmpty())
	assert.Nil(t, r.Impact)
	assert.Equal(t, snap.ID, r.Baseline.SnapshotID)
	assert.Equal(t, snap.Checksum, r.LiveChecksum)
	assert.Equal(t, "v2", r.LiveVersionID)
}

func TestCheck_Drifted(t *testing.T) {
	ctx := context.Background()
	live := newFakeFetcher()
	d := NewDetector(newTestStore(t), live, discardLogger())

	_, err := d.SaveBaseline(ctx, intake("wf-1"))
	require.NoError(t, err)

	edited := intake("wf-1")
	edited.Nodes[1].Parameters["url"] = "https://api.example.org"
	edited.Nodes = edited.Nodes[:2]
	delete(edited.Connections, "HTTP")
	live.set(edited)

	r, err := d.Check(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, r.Drifted)
	assert.Len(t, r.Diff.RemovedNodes(), 1)
	assert.Len(t, r.Diff.ModifiedNodes(), 1)
	assert.Len(t, r.Diff.RemovedConnections(), 1)
	require.NotNil(t, r.Impact)
	assert.NotEmpty(t, r.Impact.BreakingChanges)
	assert.NotEqual(t, impact.RiskLevel(""), r.Impact.RiskLevel)

	baseline, current := r.Workflows()
	assert.Len(t, baseline.Nodes, 3)
	assert.Len(t, current.Nodes, 2)
}

func TestCheck_FetchError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := NewDetector(s, newFakeFetcher(), discardLogger())

	_, err := d.SaveBaseline(ctx, intake("wf-gone"))
	require.NoError(t, err)

	_, err = d.Check(ctx, "wf-gone")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestSaveBaseline_Invalid(t *testing.T) {
	d := NewDetector(newTestStore(t), newFakeFetcher(), discardLogger())
	_, err := d.SaveBaseline(context.Background(), testutil.NewWorkflow("", "no id"))
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	live := newFakeFetcher()
	d := NewDetector(newTestStore(t), live, discardLogger())
	for _, id := range []string{"wf-a", "wf-b", "wf-c"} {
		_, err := d.SaveBaseline(ctx, intake(id))
		require.NoError(t, err)
	}

	// wf-a unchanged, wf-b drifted, wf-c deleted in n8n.
	live.set(intake("wf-a"))
	drifted := intake("wf-b")
	drifted.Active = false
	live.set(drifted)

	notes := make(chanNotifier, 4)
	s, err := NewSweeper(d, "*/5 * * * *", notes, discardLogger())
	require.NoError(t, err)

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	require.Len(t, res.Drifted, 1)
	assert.Equal(t, "wf-b", res.Drifted[0].WorkflowID)
	assert.Equal(t, []string{"wf-c"}, res.Failed)

	require.Len(t, notes, 1)
	assert.Equal(t, "wf-b", (<-notes).WorkflowID)
}

func TestSweeper_StartRunsImmediately(t *testing.T) {
	ctx := context.Background()
	live := newFakeFetcher()
	d := NewDetector(newTestStore(t), live, discardLogger())
	_, err := d.SaveBaseline(ctx, intake("wf-1"))
	require.NoError(t, err)

	changed := intake("wf-1")
	changed.Name = "Renamed"
	live.set(changed)

	notes := make(chanNotifier, 1)
	s, err := NewSweeper(d, "0 3 * * *", notes, discardLogger())
	require.NoError(t, err)
	s.SetPollInterval(10 * time.Millisecond)

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start")

	select {
	case r := <-notes:
		assert.Equal(t, "wf-1", r.WorkflowID)
		assert.Equal(t, "Renamed", r.WorkflowName)
	case <-time.After(5 * time.Second):
		t.Fatal("no drift notification")
	}

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	d := NewDetector(newTestStore(t), newFakeFetcher(), discardLogger())
	for _, spec := range []string{"", "every hour", "0 0 * * * *"} {
		_, err := NewSweeper(d, spec, nil, nil)
		requireCode(t, err, schema.ErrCodeValidation)
	}
}

func TestSweeper_Next(t *testing.T) {
	d := NewDetector(newTestStore(t), newFakeFetcher(), discardLogger())
	s, err := NewSweeper(d, "0 * * * *", nil, nil)
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), s.Next(from))
}
