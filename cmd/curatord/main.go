// Curatord runs multi-agent curatorial workflows.
//
// The daemon exposes sessions over HTTP with a server-sent-events stream per
// session. The same binary can run a single session in-process, list
// workflow templates and report user autonomy levels.
//
// Usage:
//
//	# Start the HTTP daemon
//	curatord serve
//
//	# Run one session and print its events
//	curatord run --user alice --mode autonomous "plan an exhibition on tidal ecology"
//
//	# Configure via environment
//	CURATORD_SERVER_PORT=9000 CURATORD_LLM_PROVIDER=ollama curatord serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "curatord",
		Short: "Multi-agent workflow orchestration for curatorial work",
		Long: `curatord turns free-form requests into phased workflows executed by
specialised agents, with approval gates, progress streaming and
history-aware execution.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/curatord/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newTemplatesCmd(),
		newAutonomyCmd(),
		newExhibitionCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "curatord by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
