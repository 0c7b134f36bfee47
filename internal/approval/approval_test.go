package approval

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowguard/pkg/schema"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Minute)
	}
}

func newWorkflow() *Workflow {
	return New(WithClock(fixedClock()))
}

func create(w *Workflow, workflowID string) *ChangeRequest {
	return w.Create(CreateParams{
		WorkflowID:   workflowID,
		WorkflowName: "Lead intake",
		Changes:      map[string]any{"additions": 1},
		Reason:       "add slack alert",
		Requester:    "alice",
	})
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe), "expected FlowError, got %T", err)
	assert.Equal(t, code, fe.Code)
}

func TestCreate(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")

	assert.Len(t, req.ID, 8)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "alice", req.Requester)
	assert.False(t, req.CreatedAt.IsZero())
	assert.Nil(t, req.ReviewedAt)
}

func TestApprove(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")

	got, err := w.Approve(req.ID, "bob", "looks good")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "bob", got.Reviewer)
	assert.Equal(t, "looks good", got.ReviewComments)
	require.NotNil(t, got.ReviewedAt)
}

func TestApprove_AlreadyApproved(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")
	_, err := w.Approve(req.ID, "bob", "")
	require.NoError(t, err)

	_, err = w.Approve(req.ID, "carol", "")
	requireCode(t, err, schema.ErrCodeAlreadyReviewed)
	assert.Contains(t, err.Error(), "already approved")
}

func TestRejectThenApproveFails(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")

	got, err := w.Reject(req.ID, "bob", "too risky")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "too risky", got.ReviewComments)

	_, err = w.Approve(req.ID, "bob", "")
	requireCode(t, err, schema.ErrCodeAlreadyReviewed)
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "rejected", fe.Details["status"])
}

func TestUnknownID(t *testing.T) {
	w := newWorkflow()

	_, err := w.Approve("nope", "bob", "")
	requireCode(t, err, schema.ErrCodeNotFound)
	_, err = w.Reject("nope", "bob", "")
	requireCode(t, err, schema.ErrCodeNotFound)
	_, err = w.MarkApplied("nope")
	requireCode(t, err, schema.ErrCodeNotFound)
	_, err = w.MarkFailed("nope", "x")
	requireCode(t, err, schema.ErrCodeNotFound)
	_, err = w.Get("nope")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestMarkApplied(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")
	_, err := w.Approve(req.ID, "bob", "")
	require.NoError(t, err)

	got, err := w.MarkApplied(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, got.Status)
	require.NotNil(t, got.AppliedAt)
}

func TestMarkFailed_AppendsToComments(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")
	_, err := w.Approve(req.ID, "bob", "ship it")
	require.NoError(t, err)

	got, err := w.MarkFailed(req.ID, "n8n returned 500")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "ship it\nApply failed: n8n returned 500", got.ReviewComments)
}

func TestMarkWithoutGuard(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")

	got, err := w.MarkFailed(req.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "Apply failed: boom", got.ReviewComments)

	got, err = w.MarkApplied(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, got.Status)
}

func TestQueries(t *testing.T) {
	w := newWorkflow()
	r1 := create(w, "wf-1")
	r2 := create(w, "wf-2")
	r3 := create(w, "wf-1")
	_, err := w.Reject(r1.ID, "bob", "no")
	require.NoError(t, err)

	pending := w.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, r2.ID, pending[0].ID)
	assert.Equal(t, r3.ID, pending[1].ID)

	history := w.WorkflowHistory("wf-1")
	require.Len(t, history, 2)
	assert.Equal(t, r1.ID, history[0].ID)
	assert.Equal(t, StatusRejected, history[0].Status)
	assert.Equal(t, r3.ID, history[1].ID)

	assert.Empty(t, w.WorkflowHistory("wf-unknown"))
}

func TestReturnedCopiesAreDetached(t *testing.T) {
	w := newWorkflow()
	req := create(w, "wf-1")
	req.Status = StatusApplied

	got, err := w.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestIDCollisionRetried(t *testing.T) {
	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	var i int
	w := New(WithIDGenerator(func() string {
		id := ids[i]
		i++
		return id
	}))

	first := create(w, "wf-1")
	second := create(w, "wf-1")
	assert.Equal(t, "aaaaaaaa", first.ID)
	assert.Equal(t, "bbbbbbbb", second.ID)
}

func TestOnTransition(t *testing.T) {
	w := newWorkflow()
	var seen []string
	w.OnTransition(func(req ChangeRequest, from, to Status) {
		seen = append(seen, fmt.Sprintf("%s:%s->%s", req.WorkflowID, from, to))
	})

	req := create(w, "wf-1")
	_, err := w.Approve(req.ID, "bob", "")
	require.NoError(t, err)
	_, err = w.MarkApplied(req.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"wf-1:pending->approved", "wf-1:approved->applied"}, seen)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusApproved))
	assert.True(t, CanTransition(StatusPending, StatusRejected))
	assert.True(t, CanTransition(StatusApproved, StatusApplied))
	assert.True(t, CanTransition(StatusApproved, StatusFailed))
	assert.False(t, CanTransition(StatusPending, StatusApplied))
	assert.False(t, CanTransition(StatusRejected, StatusApproved))
	assert.False(t, CanTransition(StatusApplied, StatusFailed))
}

func TestConcurrentReviewsSerialize(t *testing.T) {
	w := New()
	req := create(w, "wf-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, failed int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = w.Approve(req.ID, "bob", "")
			} else {
				_, err = w.Reject(req.ID, "carol", "")
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else {
				failed++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, failed)
}
