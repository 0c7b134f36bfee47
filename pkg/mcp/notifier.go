package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowguard/internal/drift"
)

// DriftNotifier pushes drift sweep findings to every connected MCP client as
// a logging notification. Implements drift.Notifier.
type DriftNotifier struct {
	mcpServer *server.MCPServer
}

// NewDriftNotifier creates a notifier bound to the server's MCP sessions.
func NewDriftNotifier(s *FlowguardServer) *DriftNotifier {
	return &DriftNotifier{mcpServer: s.mcpServer}
}

// NotifyDrift sends a warning-level notifications/message. Best-effort: clients
// that are not connected simply miss it.
func (n *DriftNotifier) NotifyDrift(_ context.Context, r *drift.Report) {
	n.mcpServer.SendNotificationToAllClients("notifications/message", driftPayload(r))
}

func driftPayload(r *drift.Report) map[string]any {
	data := map[string]any{
		"workflow_id":   r.WorkflowID,
		"workflow_name": r.WorkflowName,
		"baseline_id":   r.Baseline.SnapshotID,
		"changes":       r.Diff.Total(),
		"checked_at":    r.CheckedAt,
	}
	if r.Impact != nil {
		data["risk_level"] = string(r.Impact.RiskLevel)
		data["risk_score"] = r.Impact.OverallRiskScore
		data["breaking_changes"] = len(r.Impact.BreakingChanges)
	}
	return map[string]any{
		"level":  "warning",
		"logger": "flowguard.drift",
		"data":   data,
	}
}

var _ drift.Notifier = (*DriftNotifier)(nil)
