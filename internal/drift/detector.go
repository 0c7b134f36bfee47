// Package drift compares live n8n workflows against stored baselines.
package drift

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/internal/logging"
	"github.com/rendis/flowguard/internal/store"
	"github.com/rendis/flowguard/pkg/schema"
)

// Fetcher reads the live version of a workflow. Satisfied by *n8n.Client.
type Fetcher interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// Baseline describes the snapshot a check compared against.
type Baseline struct {
	SnapshotID string    `json:"snapshot_id"`
	VersionID  string    `json:"version_id,omitempty"`
	Source     string    `json:"source"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// Report is the outcome of one drift check.
type Report struct {
	WorkflowID    string         `json:"workflow_id"`
	WorkflowName  string         `json:"workflow_name"`
	Drifted       bool           `json:"drifted"`
	Baseline      Baseline       `json:"baseline"`
	LiveVersionID string         `json:"live_version_id,omitempty"`
	LiveChecksum  string         `json:"live_checksum"`
	Diff          *diff.Diff     `json:"diff"`
	Impact        *impact.Report `json:"impact,omitempty"`
	CheckedAt     time.Time      `json:"checked_at"`

	baseline *schema.Workflow
	live     *schema.Workflow
}

// Workflows returns the baseline and live workflows the report was computed from.
func (r *Report) Workflows() (baseline, live *schema.Workflow) {
	return r.baseline, r.live
}

// Detector saves baselines and checks live workflows against them.
type Detector struct {
	store   store.Store
	fetcher Fetcher
	logger  *slog.Logger
}

// NewDetector creates a Detector. A nil logger logs to stderr.
func NewDetector(s store.Store, f Fetcher, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Detector{store: s, fetcher: f, logger: logger}
}

// SaveBaseline stores wf as the reference version. Saving a workflow equal to
// the latest baseline returns that baseline.
func (d *Detector) SaveBaseline(ctx context.Context, wf *schema.Workflow) (*store.Snapshot, error) {
	snap, err := store.NewSnapshot(wf, store.SourceBaseline)
	if err != nil {
		return nil, err
	}
	saved, err := d.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	d.logger.InfoContext(logging.WithWorkflowID(ctx, wf.ID), "baseline saved",
		slog.String("snapshot_id", saved.ID), slog.String("checksum", saved.Checksum))
	return saved, nil
}

// Baseline fetches the live workflow and saves it as the baseline.
func (d *Detector) Baseline(ctx context.Context, workflowID string) (*store.Snapshot, error) {
	wf, err := d.fetcher.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return d.SaveBaseline(ctx, wf)
}

// Check compares the latest snapshot of workflowID (current) with its live
// version (new). A workflow has drifted when its checksum differs from the
// baseline's, which also catches activation and rename changes the structural
// diff does not list. The impact report is only computed for drifted workflows.
func (d *Detector) Check(ctx context.Context, workflowID string) (*Report, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)

	snap, err := d.store.LatestSnapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	live, err := d.fetcher.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	sum, err := store.Checksum(live)
	if err != nil {
		return nil, err
	}

	r := &Report{
		WorkflowID:   workflowID,
		WorkflowName: live.Name,
		Baseline: Baseline{
			SnapshotID: snap.ID,
			VersionID:  snap.VersionID,
			Source:     snap.Source,
			Checksum:   snap.Checksum,
			CreatedAt:  snap.CreatedAt,
		},
		LiveVersionID: live.VersionID,
		LiveChecksum:  sum,
		CheckedAt:     time.Now().UTC(),
		baseline:      snap.Workflow,
		live:          live,
	}
	r.Diff = diff.Compute(snap.Workflow, live)
	r.Drifted = sum != snap.Checksum
	if r.Drifted {
		r.Impact = impact.Analyze(r.Diff, snap.Workflow, live, nil)
		d.logger.WarnContext(ctx, "workflow drifted from baseline",
			slog.Int("changes", r.Diff.Total()),
			slog.String("risk_level", string(r.Impact.RiskLevel)))
	}
	return r, nil
}

// RecordApplied stores wf as the version flowguard just pushed to n8n, so the
// next check compares against it instead of the pre-change baseline.
func (d *Detector) RecordApplied(ctx context.Context, wf *schema.Workflow) (*store.Snapshot, error) {
	snap, err := store.NewSnapshot(wf, store.SourceApply)
	if err != nil {
		return nil, err
	}
	return d.store.SaveSnapshot(ctx, snap)
}

// Snapshots lists the stored versions of a workflow, newest first.
func (d *Detector) Snapshots(ctx context.Context, workflowID string, limit int) ([]*store.Snapshot, error) {
	return d.store.ListSnapshots(ctx, workflowID, limit)
}
