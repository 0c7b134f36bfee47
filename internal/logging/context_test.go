package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewCorrelationHandler(inner))
}

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", WorkflowID(ctx))
	assert.Equal(t, "", RequestID(ctx))
	assert.Equal(t, "", Tool(ctx))

	ctx = WithWorkflowID(ctx, "wf-123")
	ctx = WithRequestID(ctx, "a1b2c3d4")
	ctx = WithTool(ctx, "flowguard.plan")

	assert.Equal(t, "wf-123", WorkflowID(ctx))
	assert.Equal(t, "a1b2c3d4", RequestID(ctx))
	assert.Equal(t, "flowguard.plan", Tool(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithTool(WithWorkflowID(context.Background(), "wf-abc"), "flowguard.drift")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "workflow_id=wf-abc")
	assert.Contains(t, output, "tool=flowguard.drift")
	assert.NotContains(t, output, "request_id")
	assert.Contains(t, output, "test message")
}

func TestCorrelationHandler(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name: "all values",
			ctx: WithTool(WithRequestID(WithWorkflowID(context.Background(),
				"wf-auto"), "req-auto"), "flowguard.apply"),
			want: []string{`"workflow_id":"wf-auto"`, `"request_id":"req-auto"`, `"tool":"flowguard.apply"`},
		},
		{
			name:    "workflow only",
			ctx:     WithWorkflowID(context.Background(), "wf-only"),
			want:    []string{`"workflow_id":"wf-only"`},
			notWant: []string{"request_id", `"tool"`},
		},
		{
			name:    "empty context",
			ctx:     context.Background(),
			notWant: []string{"workflow_id", "request_id", `"tool"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			jsonLogger(&buf).InfoContext(tt.ctx, "record")

			output := buf.String()
			assert.Contains(t, output, "record")
			for _, w := range tt.want {
				assert.Contains(t, output, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, output, w)
			}
		})
	}
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner).WithAttrs([]slog.Attr{slog.String("component", "drift")}))

	logger.InfoContext(WithWorkflowID(context.Background(), "wf-attr"), "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"workflow_id":"wf-attr"`)
	assert.Contains(t, output, `"component":"drift"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner).WithGroup("sweep"))

	logger.InfoContext(WithWorkflowID(context.Background(), "wf-grp"), "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "wf-grp")
	assert.Contains(t, output, "grouped")
}

func TestCorrelationHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))

	logger.InfoContext(WithWorkflowID(context.Background(), "wf"), "hidden")
	assert.Empty(t, buf.String())

	level.Set(slog.LevelInfo)
	logger.InfoContext(WithWorkflowID(context.Background(), "wf"), "shown")
	assert.Contains(t, buf.String(), "shown")
}
