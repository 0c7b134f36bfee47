// Package approval tracks the lifecycle of workflow change requests.
package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowguard/pkg/schema"
)

// Status is the lifecycle state of a change request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
)

// ValidTransitions lists the allowed next states. Rejected, applied and failed are terminal.
var ValidTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusApplied, StatusFailed},
}

// CanTransition reports whether from -> to is part of the lifecycle.
// MarkApplied and MarkFailed do not consult it; callers that apply changes do.
func CanTransition(from, to Status) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ChangeRequest is a reviewable proposal to apply changes to a live workflow.
// Changes is an opaque payload (typically the diff and impact report) that the
// registry never inspects.
type ChangeRequest struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	WorkflowName   string     `json:"workflow_name"`
	Changes        any        `json:"changes,omitempty"`
	Reason         string     `json:"reason"`
	Requester      string     `json:"requester"`
	Status         Status     `json:"status"`
	Reviewer       string     `json:"reviewer,omitempty"`
	ReviewComments string     `json:"review_comments,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
}

// CreateParams holds the inputs of a new change request.
type CreateParams struct {
	WorkflowID   string
	WorkflowName string
	Changes      any
	Reason       string
	Requester    string
}

// TransitionHook observes a completed transition. Hooks run under the registry
// lock and must not call back into the Workflow.
type TransitionHook func(req ChangeRequest, from, to Status)

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(gen func() string) Option {
	return func(w *Workflow) { w.newID = gen }
}

// Workflow is the in-memory change request registry with an append-only history.
// All operations are serialized by a single mutex.
type Workflow struct {
	mu       sync.Mutex
	requests map[string]*ChangeRequest
	history  []*ChangeRequest
	hooks    []TransitionHook

	now   func() time.Time
	newID func() string
}

// New creates an empty registry.
func New(opts ...Option) *Workflow {
	w := &Workflow{
		requests: make(map[string]*ChangeRequest),
		now:      time.Now,
		newID:    func() string { return uuid.New().String()[:8] },
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// OnTransition registers a hook called after every status change.
func (w *Workflow) OnTransition(hook TransitionHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, hook)
}

// Create registers a new request in pending state. It always succeeds.
func (w *Workflow) Create(p CreateParams) *ChangeRequest {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.newID()
	for attempt := 0; attempt < 3; attempt++ {
		if _, taken := w.requests[id]; !taken {
			break
		}
		id = w.newID()
	}

	req := &ChangeRequest{
		ID:           id,
		WorkflowID:   p.WorkflowID,
		WorkflowName: p.WorkflowName,
		Changes:      p.Changes,
		Reason:       p.Reason,
		Requester:    p.Requester,
		Status:       StatusPending,
		CreatedAt:    w.now(),
	}
	w.requests[id] = req
	w.history = append(w.history, req)

	cp := *req
	return &cp
}

// Approve moves a pending request to approved.
func (w *Workflow) Approve(id, reviewer, comments string) (*ChangeRequest, error) {
	return w.review(id, reviewer, comments, StatusApproved)
}

// Reject moves a pending request to rejected.
func (w *Workflow) Reject(id, reviewer, reason string) (*ChangeRequest, error) {
	return w.review(id, reviewer, reason, StatusRejected)
}

func (w *Workflow) review(id, reviewer, comments string, to Status) (*ChangeRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, err := w.lookup(id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, schema.NewErrorf(schema.ErrCodeAlreadyReviewed,
			"change request %s already %s", id, req.Status).
			WithDetails(map[string]any{"id": id, "status": string(req.Status)})
	}

	now := w.now()
	req.Reviewer = reviewer
	req.ReviewComments = comments
	req.ReviewedAt = &now
	w.transition(req, to)

	cp := *req
	return &cp, nil
}

// MarkApplied records a successful apply. It performs no status check: callers
// only invoke it after an approved request has been applied.
func (w *Workflow) MarkApplied(id string) (*ChangeRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, err := w.lookup(id)
	if err != nil {
		return nil, err
	}
	now := w.now()
	req.AppliedAt = &now
	w.transition(req, StatusApplied)

	cp := *req
	return &cp, nil
}

// MarkFailed records a failed apply, appending errMsg to the review comments.
// Like MarkApplied it performs no status check.
func (w *Workflow) MarkFailed(id, errMsg string) (*ChangeRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, err := w.lookup(id)
	if err != nil {
		return nil, err
	}
	note := "Apply failed: " + errMsg
	if req.ReviewComments == "" {
		req.ReviewComments = note
	} else {
		req.ReviewComments += "\n" + note
	}
	w.transition(req, StatusFailed)

	cp := *req
	return &cp, nil
}

// Get returns a copy of the request.
func (w *Workflow) Get(id string) (*ChangeRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, err := w.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := *req
	return &cp, nil
}

// Pending returns the requests awaiting review, oldest first.
func (w *Workflow) Pending() []ChangeRequest {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := []ChangeRequest{}
	for _, req := range w.history {
		if req.Status == StatusPending {
			out = append(out, *req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// WorkflowHistory returns every request ever created for a workflow, in creation order.
func (w *Workflow) WorkflowHistory(workflowID string) []ChangeRequest {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := []ChangeRequest{}
	for _, req := range w.history {
		if req.WorkflowID == workflowID {
			out = append(out, *req)
		}
	}
	return out
}

func (w *Workflow) lookup(id string) (*ChangeRequest, error) {
	req, ok := w.requests[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "change request %s not found", id).
			WithDetails(map[string]any{"id": id})
	}
	return req, nil
}

// transition sets the status and notifies hooks. Caller holds w.mu.
func (w *Workflow) transition(req *ChangeRequest, to Status) {
	from := req.Status
	req.Status = to
	for _, h := range w.hooks {
		h(*req, from, to)
	}
}
