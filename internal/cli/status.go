package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "netclaw %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration summary and open actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 NetClaw Status")
		fmt.Fprintf(out, "Version:    %s\n", version)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		fmt.Fprintf(out, "Controller: %s (site %s)\n", cfg.Controller.BaseURL, cfg.Controller.Site)
		fmt.Fprintf(out, "Model:      %s %s\n", cfg.Model.Provider, cfg.Model.Name)
		fmt.Fprintf(out, "Slack:      %s\n", enabledLabel(cfg.Slack.Enabled()))
		fmt.Fprintf(out, "MFA:        %s\n", enabledLabel(cfg.MFA.Enabled()))

		svc, err := openTimeline()
		if err != nil {
			fmt.Fprintf(out, "Audit db:   unavailable (%v)\n", err)
			return nil
		}
		defer svc.Close()
		counts, err := svc.CountByStatus()
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		fmt.Fprintf(out, "Audit db:   %s (%d actions, %d executed, %d denied)\n",
			cfg.Approvals.DBPath, total, counts[string(approval.StatusExecuted)], counts[string(approval.StatusDenied)])
		return nil
	},
}

func enabledLabel(on bool) string {
	if on {
		return "✓ enabled"
	}
	return "✗ not configured"
}
