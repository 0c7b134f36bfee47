// Package store persists workflow snapshots: the baselines drift detection
// compares against and the versions flowguard applied.
package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// SaveSnapshot stores snap unless the latest snapshot of the same workflow
	// has the same checksum, in which case that snapshot is returned unchanged.
	SaveSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, error)
	// LatestSnapshot returns the newest snapshot of a workflow, or NOT_FOUND.
	LatestSnapshot(ctx context.Context, workflowID string) (*Snapshot, error)
	// ListSnapshots returns snapshots newest first. limit <= 0 means no limit.
	ListSnapshots(ctx context.Context, workflowID string, limit int) ([]*Snapshot, error)
	// ListBaselineWorkflowIDs returns the ids of workflows with at least one snapshot, sorted.
	ListBaselineWorkflowIDs(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
