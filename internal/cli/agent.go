package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KafClaw/NetClaw/internal/agent"
	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/config"
	"github.com/KafClaw/NetClaw/internal/executor"
)

var (
	agentMessage string
	agentYes     bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Ask the agent a single question from the CLI",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().BoolVarP(&agentYes, "yes", "y", false, "Approve a requested change without prompting")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(agentMessage) == "" {
		return fmt.Errorf("--message is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.Logging.Level)

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.start(ctx)
	defer rt.close()
	defer cancel()

	out := cmd.OutOrStdout()
	printHeader(out, "🤖 NetClaw Agent")
	fmt.Fprintf(out, "Model: %s\nThinking...\n", cfg.Model.Name)

	requester := cliUser()
	res := rt.loop.Run(ctx, agent.Request{
		Message:     agentMessage,
		RequestedBy: requester,
		Origin:      approval.Origin{Channel: "cli"},
		TraceID:     uuid.NewString(),
	})
	if nc, ok := res.(executor.NeedsConfirmation); ok {
		printResult(out, res)
		if !agentYes && !promptYes(cmd.InOrStdin(), out, "Approve this change? [y/N] ") {
			res = rt.executor.Deny(nc.Action.Token, requester)
		} else {
			if nc.Action.Tier.RequiresMFA() {
				fmt.Fprintln(out, "Waiting for MFA push approval...")
			}
			res = rt.executor.Confirm(ctx, nc.Action.Token, requester)
		}
	}
	printResult(out, res)
	if f, ok := res.(executor.Failure); ok {
		return f
	}
	return nil
}

func printResult(w io.Writer, res executor.Result) {
	text := executor.Describe(res)
	switch res.(type) {
	case executor.Failure:
		fmt.Fprintln(w, color.RedString(text))
	case executor.NeedsConfirmation:
		fmt.Fprintln(w, color.YellowString(text))
	default:
		fmt.Fprintln(w, "\n"+text)
	}
}

func promptYes(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// cliUser names the local operator as the requester and approver.
func cliUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	if h, err := os.Hostname(); err == nil {
		return "cli:" + h
	}
	return "cli"
}
