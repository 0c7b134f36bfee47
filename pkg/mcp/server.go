package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowguard/internal/approval"
	"github.com/rendis/flowguard/internal/drift"
	"github.com/rendis/flowguard/internal/expressions"
	"github.com/rendis/flowguard/internal/logging"
	"github.com/rendis/flowguard/internal/migrate"
	"github.com/rendis/flowguard/internal/validation"
	"github.com/rendis/flowguard/pkg/schema"
)

// WorkflowClient is the n8n API surface the tools use. Satisfied by *n8n.Client.
type WorkflowClient interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
}

// ServerDeps holds the dependencies for creating a FlowguardServer. Only
// Client and Detector are optional at runtime: tools that need them report an
// error when they are missing. The rest get defaults.
type ServerDeps struct {
	Client    WorkflowClient
	Detector  *drift.Detector
	Approvals *approval.Workflow
	Validator *validation.WorkflowValidator
	Analyzer  *validation.SemanticAnalyzer
	Migrator  *migrate.Migrator
	JQ        *expressions.JQEngine
	Logger    *slog.Logger
}

// FlowguardServer wraps an MCP server with the flowguard tool handlers.
type FlowguardServer struct {
	client    WorkflowClient
	detector  *drift.Detector
	approvals *approval.Workflow
	validator *validation.WorkflowValidator
	analyzer  *validation.SemanticAnalyzer
	migrator  *migrate.Migrator
	jq        *expressions.JQEngine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowguardServer creates a FlowguardServer with all tools registered.
func NewFlowguardServer(deps ServerDeps) (*FlowguardServer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowguardServer{
		client:    deps.Client,
		detector:  deps.Detector,
		approvals: deps.Approvals,
		validator: deps.Validator,
		analyzer:  deps.Analyzer,
		migrator:  deps.Migrator,
		jq:        deps.JQ,
		logger:    logger,
	}
	if s.approvals == nil {
		s.approvals = approval.New()
	}
	if s.validator == nil {
		v, err := validation.NewWorkflowValidator()
		if err != nil {
			return nil, err
		}
		s.validator = v
	}
	if s.analyzer == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		a, err := validation.NewSemanticAnalyzer(cel, nil)
		if err != nil {
			return nil, err
		}
		s.analyzer = a
	}
	if s.migrator == nil {
		s.migrator = migrate.New()
	}
	if s.jq == nil {
		s.jq = expressions.NewJQEngine()
	}

	s.approvals.OnTransition(func(req approval.ChangeRequest, from, to approval.Status) {
		logger.Info("change request transition",
			slog.String(logging.AttrRequestID, req.ID),
			slog.String(logging.AttrWorkflowID, req.WorkflowID),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
	})

	mcpSrv := server.NewMCPServer(
		"flowguard",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowguard plans and reviews changes to n8n workflows. Use flowguard.plan to see what a change does and how risky it is, flowguard.change_request and flowguard.apply to review and ship it, flowguard.drift to compare live workflows with their baselines, and flowguard.dry_run, flowguard.dependencies, flowguard.migrate, flowguard.query and flowguard.diagram for inspection."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s, nil
}

// Version is reported to MCP clients. Overridden at build time by cmd/flowguard.
var Version = "dev"

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowguardServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowguardServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// SetPolicies swaps the CEL policy rules used by flowguard.dry_run.
func (s *FlowguardServer) SetPolicies(rules []validation.PolicyRule) error {
	return s.analyzer.SetPolicies(rules)
}

// Approvals returns the change request registry.
func (s *FlowguardServer) Approvals() *approval.Workflow {
	return s.approvals
}

func (s *FlowguardServer) tools() []server.ServerTool {
	entries := []struct {
		tool    mcp.Tool
		handler server.ToolHandlerFunc
	}{
		{planTool(), s.handlePlan},
		{compareTool(), s.handleCompare},
		{dryRunTool(), s.handleDryRun},
		{changeRequestTool(), s.handleChangeRequest},
		{applyTool(), s.handleApply},
		{driftTool(), s.handleDrift},
		{dependenciesTool(), s.handleDependencies},
		{migrateTool(), s.handleMigrate},
		{queryTool(), s.handleQuery},
		{diagramTool(), s.handleDiagram},
	}
	out := make([]server.ServerTool, 0, len(entries))
	for _, e := range entries {
		out = append(out, server.ServerTool{Tool: e.tool, Handler: s.instrument(e.tool.Name, e.handler)})
	}
	return out
}

// instrument tags the context with the tool name and logs each call.
func (s *FlowguardServer) instrument(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = logging.WithTool(ctx, name)
		if id := req.GetString("workflow_id", ""); id != "" {
			ctx = logging.WithWorkflowID(ctx, id)
		}
		if id := req.GetString("id", ""); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		}
		start := time.Now()
		res, err := h(ctx, req)
		failed := err != nil || (res != nil && res.IsError)
		s.logger.DebugContext(ctx, "tool call",
			slog.Duration("duration", time.Since(start)),
			slog.Bool("failed", failed))
		return res, err
	}
}

// --- Tool definitions ---

func planTool() mcp.Tool {
	return mcp.NewTool("flowguard.plan",
		mcp.WithDescription("Show what changing a workflow would do: structural diff, breaking changes, impact and risk score"),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the current workflow (fetched from n8n)")),
		mcp.WithObject("current", mcp.Description("Current workflow JSON, instead of workflow_id")),
		mcp.WithObject("new", mcp.Description("Proposed workflow JSON")),
		mcp.WithString("new_workflow_id", mcp.Description("n8n id of a workflow to use as the proposed version, instead of new")),
		mcp.WithString("format", mcp.Enum("text", "json"), mcp.Description("Output format (default: text)")),
		mcp.WithBoolean("include_downstream", mcp.Description("Fetch all workflows to find callers of this one (default: false)")),
	)
}

func compareTool() mcp.Tool {
	return mcp.NewTool("flowguard.compare",
		mcp.WithDescription("Compact side-by-side comparison of two workflows"),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the old workflow")),
		mcp.WithObject("current", mcp.Description("Old workflow JSON, instead of workflow_id")),
		mcp.WithObject("new", mcp.Description("New workflow JSON")),
		mcp.WithString("new_workflow_id", mcp.Description("n8n id of the new workflow, instead of new")),
	)
}

func dryRunTool() mcp.Tool {
	return mcp.NewTool("flowguard.dry_run",
		mcp.WithDescription("Validate a workflow and estimate its cost without running it"),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the workflow")),
		mcp.WithObject("workflow", mcp.Description("Workflow JSON, instead of workflow_id")),
	)
}

func changeRequestTool() mcp.Tool {
	return mcp.NewTool("flowguard.change_request",
		mcp.WithDescription("Create, review and list workflow change requests"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "approve", "reject", "get", "pending", "history"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("id", mcp.Description("Change request id (approve, reject, get)")),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the workflow (create, history)")),
		mcp.WithObject("current", mcp.Description("Current workflow JSON, instead of fetching workflow_id (create)")),
		mcp.WithObject("new", mcp.Description("Proposed workflow JSON (create)")),
		mcp.WithString("reason", mcp.Description("Why the change is needed (create) or why it is rejected (reject)")),
		mcp.WithString("requester", mcp.Description("Who asks for the change (create)")),
		mcp.WithString("reviewer", mcp.Description("Who reviews the change (approve, reject)")),
		mcp.WithString("comments", mcp.Description("Review comments (approve)")),
	)
}

func applyTool() mcp.Tool {
	return mcp.NewTool("flowguard.apply",
		mcp.WithDescription("Push an approved change request to n8n"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Change request id")),
	)
}

func driftTool() mcp.Tool {
	return mcp.NewTool("flowguard.drift",
		mcp.WithDescription("Save a baseline of a live workflow or check it for drift"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("baseline", "check", "snapshots"),
			mcp.Description("baseline stores the live version, check compares live with the latest snapshot, snapshots lists stored versions"),
		),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("n8n id of the workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum snapshots to list (default: 10)")),
	)
}

func dependenciesTool() mcp.Tool {
	return mcp.NewTool("flowguard.dependencies",
		mcp.WithDescription("Map sub-workflow calls, services and credentials across all workflows"),
		mcp.WithString("workflow_id", mcp.Description("Limit the answer to one workflow (id or name)")),
	)
}

func migrateTool() mcp.Tool {
	return mcp.NewTool("flowguard.migrate",
		mcp.WithDescription("Preview migrating deprecated nodes to their replacements, as a change plan"),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the workflow")),
		mcp.WithObject("workflow", mcp.Description("Workflow JSON, instead of workflow_id")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flowguard.query",
		mcp.WithDescription("Run a jq expression over a workflow's JSON"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("jq expression, e.g. [.nodes[].type] | unique")),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the workflow")),
		mcp.WithObject("workflow", mcp.Description("Workflow JSON, instead of workflow_id")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowguard.diagram",
		mcp.WithDescription("Render a workflow as a Mermaid flowchart or ASCII art, optionally highlighting changes against another version"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "ascii"),
			mcp.Description("Output format"),
		),
		mcp.WithString("workflow_id", mcp.Description("n8n id of the workflow")),
		mcp.WithObject("workflow", mcp.Description("Workflow JSON, instead of workflow_id")),
		mcp.WithObject("compare_to", mcp.Description("Older workflow JSON; changes from it are highlighted")),
		mcp.WithString("compare_to_id", mcp.Description("n8n id of the older workflow, instead of compare_to")),
	)
}
