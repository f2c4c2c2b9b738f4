package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	stepflow.SetupLogger()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stepflow",
		Short:         "Workflow engine with approval gates",
		Long:          "stepflow runs versioned multi-step workflows with retries, timeouts and human approval steps. Configuration is read from SFLOW_* environment variables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the engine and the HTTP API (default)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return stepflow.Migrate()
			},
		},
		&cobra.Command{
			Use:   "validate FILE...",
			Short: "Check YAML workflow definitions without touching the database",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return stepflow.ValidateDefinitionFiles(args...)
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return stepflow.Start(ctx, stepflow.Options{
		Functions: map[string]stepflow.Function{
			// echo returns its step config, handy for trying out definitions
			"echo": func(ctx context.Context, req stepflow.StepRequest) (map[string]any, error) {
				return req.Step.Config, nil
			},
		},
	})
}
