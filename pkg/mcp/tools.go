package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowguard/internal/approval"
	"github.com/rendis/flowguard/internal/depmap"
	"github.com/rendis/flowguard/internal/diagram"
	"github.com/rendis/flowguard/internal/diff"
	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/internal/logging"
	"github.com/rendis/flowguard/internal/migrate"
	"github.com/rendis/flowguard/internal/report"
	"github.com/rendis/flowguard/internal/simulate"
	"github.com/rendis/flowguard/pkg/schema"
)

const defaultSnapshotLimit = 10

// Proposal is the payload stored on a change request: the workflow to push
// and the plan reviewers approved.
type Proposal struct {
	Workflow *schema.Workflow `json:"workflow"`
	Diff     *diff.Diff       `json:"diff"`
	Impact   *impact.Report   `json:"impact"`
}

// handlePlan diffs two workflows and renders the change plan.
func (s *FlowguardServer) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	current, err := s.resolveWorkflow(ctx, req, "current", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("current workflow: %v", err)), nil
	}
	next, err := s.resolveWorkflow(ctx, req, "new", "new_workflow_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("new workflow: %v", err)), nil
	}

	var inventory []*schema.Workflow
	if req.GetBool("include_downstream", false) {
		if inventory, err = s.listWorkflows(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("downstream analysis: %v", err)), nil
		}
	}

	d := diff.Compute(current, next)
	r := impact.Analyze(d, current, next, inventory)

	switch req.GetString("format", "text") {
	case "text":
		return mcp.NewToolResultText(report.FormatPlan(d, r)), nil
	case "json":
		out, err := report.FormatJSON(d, r)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	default:
		return mcp.NewToolResultError("format must be text or json"), nil
	}
}

// handleCompare renders the compact comparison of two workflows.
func (s *FlowguardServer) handleCompare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	old, err := s.resolveWorkflow(ctx, req, "current", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("old workflow: %v", err)), nil
	}
	next, err := s.resolveWorkflow(ctx, req, "new", "new_workflow_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("new workflow: %v", err)), nil
	}
	return mcp.NewToolResultText(report.FormatComparison(old, next, diff.Compute(old, next))), nil
}

// handleDryRun validates a workflow and estimates its cost.
func (s *FlowguardServer) handleDryRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, err := s.resolveWorkflow(ctx, req, "workflow", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(simulate.Simulate(wf, s.validator, s.analyzer))
}

// handleChangeRequest dispatches the change request actions.
func (s *FlowguardServer) handleChangeRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "create":
		return s.createChangeRequest(ctx, req)
	case "approve", "reject":
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}
		reviewer, err := req.RequireString("reviewer")
		if err != nil {
			return mcp.NewToolResultError("reviewer is required"), nil
		}
		var cr *approval.ChangeRequest
		if action == "approve" {
			cr, err = s.approvals.Approve(id, reviewer, req.GetString("comments", ""))
		} else {
			cr, err = s.approvals.Reject(id, reviewer, req.GetString("reason", req.GetString("comments", "")))
		}
		if err != nil {
			return failureResult(err)
		}
		return marshalResult(map[string]any{"success": true, "request": cr})
	case "get":
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}
		cr, err := s.approvals.Get(id)
		if err != nil {
			return failureResult(err)
		}
		return marshalResult(map[string]any{"success": true, "request": cr})
	case "pending":
		return marshalResult(map[string]any{"requests": s.approvals.Pending()})
	case "history":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError("workflow_id is required"), nil
		}
		return marshalResult(map[string]any{"requests": s.approvals.WorkflowHistory(workflowID)})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

func (s *FlowguardServer) createChangeRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	next, err := s.resolveWorkflow(ctx, req, "new", "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("new workflow: %v", err)), nil
	}
	current, err := s.resolveWorkflow(ctx, req, "current", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("current workflow: %v", err)), nil
	}
	if next.ID == "" {
		next.ID = current.ID
	}
	if next.ID == "" {
		return mcp.NewToolResultError("the workflow to change has no id"), nil
	}

	d := diff.Compute(current, next)
	r := impact.Analyze(d, current, next, nil)
	cr := s.approvals.Create(approval.CreateParams{
		WorkflowID:   next.ID,
		WorkflowName: next.Name,
		Changes:      &Proposal{Workflow: next, Diff: d, Impact: r},
		Reason:       req.GetString("reason", ""),
		Requester:    req.GetString("requester", ""),
	})
	s.logger.InfoContext(logging.WithRequestID(ctx, cr.ID), "change request created",
		"risk_level", string(r.RiskLevel), "breaking_changes", len(r.BreakingChanges))

	return marshalResult(map[string]any{
		"success": true,
		"request": cr,
		"plan":    report.FormatPlan(d, r),
	})
}

// handleApply pushes an approved change request to n8n and records the outcome.
func (s *FlowguardServer) handleApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	cr, err := s.approvals.Get(id)
	if err != nil {
		return failureResult(err)
	}
	if !approval.CanTransition(cr.Status, approval.StatusApplied) {
		return failureResult(schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"change request %s is %s; only approved requests can be applied", id, cr.Status))
	}
	proposal, ok := cr.Changes.(*Proposal)
	if !ok || proposal.Workflow == nil {
		return failureResult(schema.NewErrorf(schema.ErrCodeValidation, "change request %s carries no workflow", id))
	}
	if s.client == nil {
		return mcp.NewToolResultError(errNoClient.Error()), nil
	}

	ctx = logging.WithWorkflowID(ctx, cr.WorkflowID)
	updated, err := s.push(ctx, proposal.Workflow)
	if err != nil {
		failed, markErr := s.approvals.MarkFailed(id, err.Error())
		if markErr != nil {
			return failureResult(markErr)
		}
		s.logger.ErrorContext(ctx, "apply failed", "error", err.Error())
		body := map[string]any{"success": false, "error": err.Error(), "request": failed}
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			body["code"] = fe.Code
		}
		res, rerr := marshalResult(body)
		if res != nil {
			res.IsError = true
		}
		return res, rerr
	}

	applied, err := s.approvals.MarkApplied(id)
	if err != nil {
		return failureResult(err)
	}
	out := map[string]any{"success": true, "request": applied, "version_id": updated.VersionID}
	if s.detector != nil {
		if snap, err := s.detector.RecordApplied(ctx, updated); err != nil {
			s.logger.WarnContext(ctx, "could not record applied snapshot", "error", err.Error())
		} else {
			out["snapshot_id"] = snap.ID
		}
	}
	return marshalResult(out)
}

// push updates the workflow definition and then aligns its activation state.
func (s *FlowguardServer) push(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	updated, err := s.client.UpdateWorkflow(ctx, wf)
	if err != nil {
		return nil, err
	}
	if updated.Active != wf.Active {
		if wf.Active {
			err = s.client.Activate(ctx, wf.ID)
		} else {
			err = s.client.Deactivate(ctx, wf.ID)
		}
		if err != nil {
			return nil, err
		}
		updated.Active = wf.Active
	}
	return updated, nil
}

// handleDrift saves baselines and checks live workflows against them.
func (s *FlowguardServer) handleDrift(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.detector == nil {
		return mcp.NewToolResultError("drift detection is not configured"), nil
	}

	switch action {
	case "baseline":
		snap, err := s.detector.Baseline(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("baseline failed: %v", err)), nil
		}
		snap.Workflow = nil
		return marshalResult(map[string]any{"snapshot": snap})
	case "check":
		r, err := s.detector.Check(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("drift check failed: %v", err)), nil
		}
		out := map[string]any{"report": r}
		if r.Drifted {
			out["plan"] = report.FormatPlan(r.Diff, r.Impact)
		}
		return marshalResult(out)
	case "snapshots":
		snaps, err := s.detector.Snapshots(ctx, workflowID, req.GetInt("limit", defaultSnapshotLimit))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing snapshots failed: %v", err)), nil
		}
		for _, snap := range snaps {
			snap.Workflow = nil
		}
		return marshalResult(map[string]any{"snapshots": snaps})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// handleDependencies builds the cross-workflow dependency map.
func (s *FlowguardServer) handleDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows, err := s.listWorkflows(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing workflows failed: %v", err)), nil
	}
	m := depmap.Build(workflows)

	if key := req.GetString("workflow_id", ""); key != "" {
		entry := m.Get(key)
		if entry == nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow %q not found", key)), nil
		}
		return marshalResult(map[string]any{"workflow": entry})
	}
	return marshalResult(map[string]any{
		"workflows":        m.Workflows,
		"credential_users": m.CredentialUsers,
		"service_users":    m.ServiceUsers,
		"unresolved_calls": m.Unresolved(),
	})
}

// handleMigrate previews the default node migrations as a change plan.
func (s *FlowguardServer) handleMigrate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, err := s.resolveWorkflow(ctx, req, "workflow", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	migrated, applied, err := s.migrator.Apply(ctx, wf, migrate.DefaultRules())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("migration failed: %v", err)), nil
	}
	d := diff.Compute(wf, migrated)
	r := impact.Analyze(d, wf, migrated, nil)
	return marshalResult(map[string]any{
		"applied":  applied,
		"plan":     report.FormatPlan(d, r),
		"workflow": migrated,
	})
}

// handleQuery runs a jq expression over the workflow JSON.
func (s *FlowguardServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	wf, err := s.resolveWorkflow(ctx, req, "workflow", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := wf.ToMap()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode workflow: %v", err)), nil
	}
	results, err := s.jq.EvaluateAll(ctx, expression, doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if results == nil {
		results = []any{}
	}
	return marshalResult(map[string]any{"results": results})
}

// handleDiagram renders a workflow, optionally with a change overlay.
func (s *FlowguardServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}
	wf, err := s.resolveWorkflow(ctx, req, "workflow", "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var d *diff.Diff
	if hasWorkflowArg(req, "compare_to", "compare_to_id") {
		old, err := s.resolveWorkflow(ctx, req, "compare_to", "compare_to_id")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("compare_to: %v", err)), nil
		}
		d = diff.Compute(old, wf)
	}

	model := diagram.Build(wf, d)
	if format == "ascii" {
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// --- Internal helpers ---

var errNoClient = schema.NewError(schema.ErrCodeValidation,
	"the n8n API is not configured; pass the workflow JSON inline or set FLOWGUARD_N8N_URL")

// resolveWorkflow reads an inline workflow object from objKey, or fetches the
// workflow whose id is in idKey. An empty idKey allows inline input only.
func (s *FlowguardServer) resolveWorkflow(ctx context.Context, req mcp.CallToolRequest, objKey, idKey string) (*schema.Workflow, error) {
	if raw := mcp.ParseStringMap(req, objKey, nil); raw != nil {
		return schema.WorkflowFromMap(raw)
	}
	id := ""
	if idKey != "" {
		id = req.GetString(idKey, "")
	}
	if id == "" {
		if idKey == "" {
			return nil, fmt.Errorf("%s is required", objKey)
		}
		return nil, fmt.Errorf("one of %s or %s is required", objKey, idKey)
	}
	if s.client == nil {
		return nil, errNoClient
	}
	return s.client.GetWorkflow(ctx, id)
}

func (s *FlowguardServer) listWorkflows(ctx context.Context) ([]*schema.Workflow, error) {
	if s.client == nil {
		return nil, errNoClient
	}
	return s.client.ListWorkflows(ctx)
}

func hasWorkflowArg(req mcp.CallToolRequest, objKey, idKey string) bool {
	return mcp.ParseStringMap(req, objKey, nil) != nil || req.GetString(idKey, "") != ""
}

// failureResult renders a request-state error as {"success": false, "error", "code"}.
func failureResult(err error) (*mcp.CallToolResult, error) {
	body := map[string]any{"success": false, "error": err.Error()}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		body["error"] = fe.Message
		body["code"] = fe.Code
	}
	res, rerr := marshalResult(body)
	if res != nil {
		res.IsError = true
	}
	return res, rerr
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
