// Command delfos runs the analytics agent pipeline, either as an HTTP
// service or for a single question from the command line.
//
// Usage:
//
//	delfos serve --config config.yaml
//	delfos ask "¿Cuál es el total de préstamos por tipo?"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/delfos-ai/delfos/pkg/config"
	"github.com/delfos-ai/delfos/pkg/llms"
	"github.com/delfos-ai/delfos/pkg/logger"
	"github.com/delfos-ai/delfos/pkg/server"
	"github.com/delfos-ai/delfos/pkg/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Ask     AskCmd     `cmd:"" help:"Run the pipeline for a single question."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("delfos version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.GetLogger().Info("shutting down")
		cancel()
	}()

	orch, cfg, err := buildOrchestrator(cli)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.HTTPAddr = c.Addr
	}

	return server.New(cfg, orch).Start(ctx)
}

// AskCmd runs one question through the pipeline and prints the response.
type AskCmd struct {
	Question string `arg:"" help:"Question to answer."`
	UserID   string `name:"user-id" help:"User identifier for the audit log." default:"anonymous"`
}

func (c *AskCmd) Run(cli *CLI) error {
	orch, _, err := buildOrchestrator(cli)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := orch.Run(ctx, c.Question, c.UserID)

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	fmt.Println(string(out))
	if !resp.Success {
		os.Exit(1)
	}
	return nil
}

func buildOrchestrator(cli *CLI) (*workflow.Orchestrator, *config.Settings, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cli.LogLevel
	if level == "" {
		level = cfg.LogLevel
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.LogFormat
	}
	output := os.Stderr
	if cli.LogFile != "" {
		f, _, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}
	logger.Init(logger.ParseLevel(level), output, format)

	provider, err := llms.NewOpenAIProvider(cfg.ModelAPIBase, cfg.ModelAPIKey, cfg.MCPRequestTimeout())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	return workflow.New(cfg, provider), cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("delfos"),
		kong.Description("Delfos - analytics agent pipeline"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
