package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/NetClaw/internal/config"
	"github.com/KafClaw/NetClaw/internal/timeline"
)

var (
	actionsStatus string
	actionsTool   string
	actionsLimit  int
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Inspect the pending-action audit trail",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded actions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openTimeline()
		if err != nil {
			return err
		}
		defer svc.Close()

		records, err := svc.ListActions(timeline.FilterArgs{Status: actionsStatus, Tool: actionsTool, Limit: actionsLimit})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "REF\tTOOL\tTIER\tSTATUS\tREQUESTED BY\tCREATED")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.TokenID, r.ToolName, r.Tier, r.Status, r.RequestedBy, r.CreatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var actionsShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show one action and its transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openTimeline()
		if err != nil {
			return err
		}
		defer svc.Close()

		rec, err := svc.GetAction(args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("action %s not found", args[0])
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Ref:         %s\n", rec.TokenID)
		fmt.Fprintf(out, "Tool:        %s %s\n", rec.ToolName, rec.Arguments)
		fmt.Fprintf(out, "Tier:        %s\n", rec.Tier)
		fmt.Fprintf(out, "Description: %s\n", rec.Description)
		fmt.Fprintf(out, "Impact:      %s\n", rec.Impact)
		fmt.Fprintf(out, "Status:      %s %s\n", rec.Status, rec.Reason)
		fmt.Fprintf(out, "Requested:   %s via %s\n", rec.RequestedBy, rec.Channel)
		if rec.ResolvedBy != "" {
			fmt.Fprintf(out, "Resolved by: %s\n", rec.ResolvedBy)
		}

		transitions, err := svc.ListTransitions(rec.TokenID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "\nTransitions:")
		for _, t := range transitions {
			from := t.FromStatus
			if from == "" {
				from = "-"
			}
			fmt.Fprintf(out, "  %s  %s -> %s  %s %s\n", t.Timestamp.Local().Format(time.DateTime), from, t.ToStatus, t.Actor, t.Reason)
		}
		return nil
	},
}

var actionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count recorded actions by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openTimeline()
		if err != nil {
			return err
		}
		defer svc.Close()

		counts, err := svc.CountByStatus()
		if err != nil {
			return err
		}
		statuses := make([]string, 0, len(counts))
		for st := range counts {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %d\n", st, counts[st])
		}
		return nil
	},
}

func init() {
	actionsListCmd.Flags().StringVar(&actionsStatus, "status", "", "Only actions in this status")
	actionsListCmd.Flags().StringVar(&actionsTool, "tool", "", "Only actions for this tool")
	actionsListCmd.Flags().IntVar(&actionsLimit, "limit", 20, "Maximum rows")
	actionsCmd.AddCommand(actionsListCmd, actionsShowCmd, actionsStatsCmd)
}

func openTimeline() (*timeline.TimelineService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Approvals.DBPath)); err != nil {
		return nil, err
	}
	return timeline.NewTimelineService(cfg.Approvals.DBPath)
}
