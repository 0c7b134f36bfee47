package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowguard/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowguard.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

// --- Snapshots ---

func (s *LibSQLStore) SaveSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	if snap == nil || snap.WorkflowID == "" || snap.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "snapshot needs a workflow id and a workflow")
	}

	latest, err := s.LatestSnapshot(ctx, snap.WorkflowID)
	var fe *schema.FlowError
	switch {
	case err == nil && latest.Checksum == snap.Checksum:
		return latest, nil
	case err != nil && !(errors.As(err, &fe) && fe.Code == schema.ErrCodeNotFound):
		return nil, err
	}

	data, err := json.Marshal(snap.Workflow)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "failed to encode snapshot workflow").WithCause(err)
	}

	saved := *snap
	saved.CreatedAt = timeOrNow(snap.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, workflow_id, workflow_name, version_id, source, checksum, workflow, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		saved.ID, saved.WorkflowID, saved.WorkflowName, nullStr(saved.VersionID), saved.Source,
		saved.Checksum, string(data), saved.CreatedAt,
	)
	if err != nil {
		return nil, storeError("insert snapshot", err)
	}
	return &saved, nil
}

func (s *LibSQLStore) LatestSnapshot(ctx context.Context, workflowID string) (*Snapshot, error) {
	snaps, err := s.ListSnapshots(ctx, workflowID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, storeNotFound("snapshot for workflow", workflowID)
	}
	return snaps[0], nil
}

func (s *LibSQLStore) ListSnapshots(ctx context.Context, workflowID string, limit int) ([]*Snapshot, error) {
	query := `SELECT id, workflow_id, workflow_name, version_id, source, checksum, workflow, created_at
		FROM snapshots WHERE workflow_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{workflowID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query snapshots", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("read snapshots", err)
	}
	return out, nil
}

func (s *LibSQLStore) ListBaselineWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workflow_id FROM snapshots ORDER BY workflow_id`)
	if err != nil {
		return nil, storeError("query baselines", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("scan baseline", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("read baselines", err)
	}
	return ids, nil
}

func scanSnapshot(rows *sql.Rows) (*Snapshot, error) {
	snap := &Snapshot{}
	var versionID sql.NullString
	var data string
	if err := rows.Scan(&snap.ID, &snap.WorkflowID, &snap.WorkflowName, &versionID,
		&snap.Source, &snap.Checksum, &data, &snap.CreatedAt); err != nil {
		return nil, storeError("scan snapshot", err)
	}
	snap.VersionID = versionID.String

	wf, err := schema.ParseWorkflow([]byte(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "snapshot %s holds invalid workflow JSON", snap.ID).WithCause(err)
	}
	snap.Workflow = wf
	return snap, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
