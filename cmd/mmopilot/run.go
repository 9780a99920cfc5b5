package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jllopis/mmopilot/pkg/artifacts"
	"github.com/jllopis/mmopilot/pkg/config"
	"github.com/jllopis/mmopilot/pkg/mcp"
	"github.com/jllopis/mmopilot/pkg/runtime"
	"github.com/jllopis/mmopilot/pkg/telemetry"
)

func (a *App) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agent for every configured character",
		Long: `Run an agent for every configured character found on the account.

On first run a sample settings file is written and mmopilot exits so you
can add your API token and characters.

Examples:
  # Run with settings.yaml from the current directory
  mmopilot run

  # Run with another settings file and the MCP control tools on stdio
  mmopilot run -c bots/farm.yaml --mcp`,
		Args: cobra.NoArgs,
		RunE: a.runFleet,
	}
	cmd.Flags().BoolVar(&a.mcp, "mcp", false, "Serve the MCP control tools on stdio")
	return cmd
}

func (a *App) runFleet(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path := a.configPath

	written, err := config.WriteDefault(path)
	if err != nil {
		return NewConfigError(err, path)
	}
	if written {
		fmt.Fprintf(a.stdout, "Wrote default settings to %s. Add your API token and characters, then run mmopilot again.\n", path)
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return NewConfigError(err, path)
	}
	if err := cfg.RequireToken(); err != nil {
		return NewUnauthorizedError(err.Error())
	}

	useMCP := a.mcp || cfg.Control.MCP
	// stdout carries the MCP protocol when the control tools are enabled.
	var logOut io.Writer = a.stdout
	if useMCP {
		logOut = a.stderr
	}
	logger := telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, Version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.Endpoint,
		OTLPInsecure:       cfg.Telemetry.Insecure,
		OTLPTimeoutSeconds: cfg.Telemetry.TimeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}()
	metrics, err := telemetry.NewAgentMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, closeAudit, err := runtime.OpenAuditStore(cfg.Audit)
	if err != nil {
		return NewConfigError(err, path)
	}
	defer closeAudit()

	client, clients, err := runtime.Connect(ctx, cfg, logger, artifacts.WithMetrics(metrics))
	if err != nil {
		return wrapStartupError(err, "list characters")
	}

	fleet, err := runtime.New(cfg, clients,
		runtime.WithLogger(logger),
		runtime.WithAuditStore(store),
		runtime.WithMetrics(metrics),
		runtime.WithBreakerHealth("artifacts", client.Breaker()),
	)
	if err != nil {
		return wrapStartupError(err, "start agents")
	}

	watcher, err := config.NewWatcher(path, config.WithWatchLogger(logger))
	if err != nil {
		return NewConfigError(err, path)
	}
	fleet.Watch(watcher)
	watcher.Start(ctx)
	defer watcher.Stop()

	if useMCP {
		srv := mcp.NewServer("mmopilot", Version, fleet, mcp.WithAuditStore(store), mcp.WithLogger(logger))
		go func() {
			if err := srv.ServeStdio(ctx, a.stdin, a.stdout); err != nil && ctx.Err() == nil {
				logger.Error("mcp.serve.error", slog.String("error", err.Error()))
			}
		}()
	}

	return fleet.Run(ctx)
}
