package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rendis/flowguard/internal/drift"
	"github.com/rendis/flowguard/internal/expressions"
	"github.com/rendis/flowguard/internal/logging"
	"github.com/rendis/flowguard/internal/n8n"
	"github.com/rendis/flowguard/internal/store"
	"github.com/rendis/flowguard/internal/validation"
	"github.com/rendis/flowguard/pkg/mcp"
)

const usage = `usage: flowguard <command>

commands:
  serve     run the MCP server on stdio (default)
  reload    ask a running server to reload settings.json
  version   print the version
`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		runServe()
	case "reload":
		if !signalRunningServer() {
			fmt.Fprintln(os.Stderr, "no running flowguard server found")
			os.Exit(1)
		}
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func runServe() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	l, err := parseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	level.Set(l)

	// stdout carries the MCP protocol; logs go to stderr only.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, level, logger); err != nil {
		logger.Error("flowguard stopped", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) error {
	mcp.Version = version
	deps := mcp.ServerDeps{Logger: logger}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	if deps.Analyzer, err = validation.NewSemanticAnalyzer(cel, cfg.Policies); err != nil {
		return fmt.Errorf("policies: %w", err)
	}

	if cfg.N8nURL == "" {
		logger.Warn("n8n_url is not set; tools accept inline workflow JSON only and drift detection is off")
	} else {
		timeout, err := cfg.httpTimeout()
		if err != nil {
			return err
		}
		client, err := n8n.NewClient(n8n.Config{
			BaseURL:    cfg.N8nURL,
			APIKey:     cfg.N8nAPIKey,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger.With("component", "n8n"),
		})
		if err != nil {
			return err
		}
		deps.Client = client

		st, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Detector = drift.NewDetector(st, client, logger.With("component", "drift"))
	}

	srv, err := mcp.NewFlowguardServer(deps)
	if err != nil {
		return err
	}

	if deps.Detector != nil && cfg.DriftSchedule != "" {
		sweeper, err := drift.NewSweeper(deps.Detector, cfg.DriftSchedule, mcp.NewDriftNotifier(srv), logger.With("component", "drift"))
		if err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
		logger.Info("drift sweep scheduled", "schedule", cfg.DriftSchedule)
	}

	if err := writePID(); err != nil {
		logger.Warn("could not write pid file; reload is unavailable", "error", err)
	} else {
		defer os.Remove(pidPath())
	}
	go watchReload(ctx, cfg, level, srv, logger)

	logger.Info("flowguard serving on stdio", "version", version, "n8n", cfg.N8nURL != "")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	st, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// watchReload re-reads settings on SIGHUP and applies what can change live.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, srv policySetter, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := loadConfig()
			if err != nil {
				logger.Error("reload failed", "error", err)
				continue
			}
			current = applyReload(current, next, level, srv, logger)
		}
	}
}

func writePID() error {
	if err := os.MkdirAll(flowguardDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// signalRunningServer sends SIGHUP to a running flowguard server (via pidfile).
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
