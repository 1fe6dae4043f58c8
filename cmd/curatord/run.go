package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/logging"
	"github.com/fyrsmithlabs/curatord/internal/orchestrator"
)

type runOptions struct {
	user    string
	mode    string
	approve bool
	json    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [command]",
		Short: "Run one session in-process and print its events",
		Long: `Run a single session without the HTTP daemon.

In conversational mode the session pauses at approval gates. With
--approve every gate is approved automatically; otherwise you are asked
on stdin.

Examples:
  curatord run --user alice "draft a budget for a touring textile show"
  curatord run --user alice --mode autonomous --json "plan a school workshop"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			warn := zapcore.WarnLevel
			a, err := newApp(cmd.Context(), cfg, appOptions{logLevel: &warn})
			if err != nil {
				return err
			}
			defer a.Close()
			return runSession(cmd.Context(), a, opts, strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "cli", "user id the session runs as")
	cmd.Flags().StringVar(&opts.mode, "mode", string(execution.ModeConversational), "conversational or autonomous")
	cmd.Flags().BoolVar(&opts.approve, "approve", false, "approve every approval gate automatically")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print events as JSON lines")
	return cmd
}

// runSession executes one session and blocks until it ends. Approval
// prompts read from in.
func runSession(ctx context.Context, a *app, opts *runOptions, command string, in io.Reader, out io.Writer) error {
	// The session id is unknown until Execute returns, but session-started
	// is emitted before that; collect everything and filter below.
	evs := make(chan events.Event, 64)
	unsubscribe := a.bus.OnAny(func(e events.Event) { evs <- e })
	defer unsubscribe()

	snap, err := a.orch.Execute(ctx, orchestrator.Request{
		UserID:  opts.user,
		Command: command,
		Mode:    execution.Mode(opts.mode),
	})
	if err != nil {
		return err
	}
	sessionID := snap.SessionID()

	fmt.Fprintf(out, "session %s: %s (%d phases)\n", sessionID, snap.Workflow.Name, len(snap.Workflow.Phases))
	reader := bufio.NewReader(in)

	for {
		select {
		case <-ctx.Done():
			_ = a.orch.Cancel(sessionID)
			return ctx.Err()
		case e := <-evs:
			if e.SessionID != sessionID {
				continue
			}
			printEvent(ctx, a.logger, out, e, opts.json)
			switch {
			case e.Type == events.EventApprovalRequired:
				d := orchestrator.Decision{Approved: true}
				if !opts.approve {
					d = promptDecision(reader, out, e.Phase)
				}
				if _, err := a.orch.Approve(ctx, sessionID, d); err != nil {
					return fmt.Errorf("approval: %w", err)
				}
			case e.Type == events.EventSessionFailed:
				return fmt.Errorf("session %s failed: %s", sessionID, e.Error)
			case e.Type.Terminal():
				return nil
			}
		}
	}
}

func promptDecision(r *bufio.Reader, out io.Writer, phase string) orchestrator.Decision {
	fmt.Fprintf(out, "approve %q? [y/N/comment]: ", phase)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return orchestrator.Decision{Approved: false, Comment: "no input"}
	}
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "y", "yes":
		return orchestrator.Decision{Approved: true}
	case "", "n", "no":
		return orchestrator.Decision{Approved: false}
	}
	// Anything else approves with the text kept as a modification note.
	return orchestrator.Decision{Approved: true, Feedback: execution.FeedbackModified, Comment: line}
}

func printEvent(ctx context.Context, logger *logging.Logger, out io.Writer, e events.Event, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			logger.Warn(ctx, "encoding event failed", zap.String("type", string(e.Type)), zap.Error(err))
			return
		}
		fmt.Fprintln(out, string(data))
		return
	}

	line := fmt.Sprintf("%-18s", e.Type)
	if e.PhaseID != "" {
		line += " " + e.PhaseID
	}
	if e.Agent != "" {
		line += " (" + e.Agent + ")"
	}
	if p, ok := e.Data["progress"]; ok {
		line += fmt.Sprintf(" %v%%", p)
	}
	if e.Error != "" {
		line += " error: " + e.Error
	}
	fmt.Fprintln(out, line)
}
