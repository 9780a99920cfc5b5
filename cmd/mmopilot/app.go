package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jllopis/mmopilot/pkg/config"
)

// Version information set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App is the mmopilot command line.
type App struct {
	root   *cobra.Command
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	mcp        bool
}

// NewApp creates the command tree. Without a subcommand it runs the fleet.
func NewApp() *App {
	app := &App{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "mmopilot",
		Short: "Rule-driven pilot for Artifacts MMO characters",
		Long: `mmopilot runs one agent per character of your Artifacts MMO account.
Each agent picks the first matching rule of its character, queues the rule's
action lines and dispatches them one at a time, waiting out the game
cooldown between actions. Failures are routed to on_failure handlers.

Settings are read from settings.yaml (or --config) and reloaded on change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          app.runFleet,
	}
	app.root.PersistentFlags().StringVarP(&app.configPath, "config", "c", config.DefaultPath, "Path to the settings file")
	app.root.Flags().BoolVar(&app.mcp, "mcp", false, "Serve the MCP control tools on stdio")

	app.root.AddCommand(
		app.newRunCmd(),
		app.newValidateCmd(),
		app.newInitCmd(),
		app.newVersionCmd(),
	)
	return app
}

// WithIO sets custom streams.
func (a *App) WithIO(stdin io.Reader, stdout, stderr io.Writer) *App {
	a.stdin = stdin
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetIn(stdin)
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the command line until it completes or a signal arrives.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the command line with args.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "mmopilot version %s\n", Version)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(a.stdout, "  Build date: %s\n", BuildDate)
		},
	}
}
