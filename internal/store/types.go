package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowguard/pkg/schema"
)

// Snapshot sources.
const (
	SourceBaseline = "baseline"
	SourceApply    = "apply"
)

// Snapshot is a stored copy of a workflow.
type Snapshot struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	WorkflowName string           `json:"workflow_name"`
	VersionID    string           `json:"version_id,omitempty"`
	Source       string           `json:"source"`
	Checksum     string           `json:"checksum"`
	Workflow     *schema.Workflow `json:"workflow,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewSnapshot captures wf. The checksum covers the canonical JSON of the
// workflow without its versionId and updatedAt, which n8n bumps on every save.
func NewSnapshot(wf *schema.Workflow, source string) (*Snapshot, error) {
	if wf == nil || wf.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "snapshot needs a workflow with an id")
	}
	if source == "" {
		source = SourceBaseline
	}
	sum, err := Checksum(wf)
	if err != nil {
		return nil, err
	}
	cp, err := wf.Clone()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "failed to copy workflow").WithCause(err)
	}
	return &Snapshot{
		ID:           uuid.New().String(),
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		VersionID:    wf.VersionID,
		Source:       source,
		Checksum:     sum,
		Workflow:     cp,
	}, nil
}

// Checksum returns the hex SHA-256 of the workflow's canonical JSON.
func Checksum(wf *schema.Workflow) (string, error) {
	canonical := *wf
	canonical.VersionID = ""
	canonical.UpdatedAt = ""
	data, err := json.Marshal(&canonical)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "failed to encode workflow").WithCause(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
