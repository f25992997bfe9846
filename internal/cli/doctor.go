package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/NetClaw/internal/auditstream"
	"github.com/KafClaw/NetClaw/internal/config"
	"github.com/KafClaw/NetClaw/internal/provider"
	"github.com/KafClaw/NetClaw/internal/timeline"
)

type checkStatus string

const (
	checkPass checkStatus = "PASS"
	checkWarn checkStatus = "WARN"
	checkFail checkStatus = "FAIL"
)

type doctorCheck struct {
	Name    string
	Status  checkStatus
	Message string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run config and setup diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := runDoctor()
		failures := 0
		for _, check := range checks {
			symbol := color.GreenString(string(check.Status))
			switch check.Status {
			case checkWarn:
				symbol = color.YellowString(string(check.Status))
			case checkFail:
				symbol = color.RedString(string(check.Status))
				failures++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", symbol, check.Name, check.Message)
		}
		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func runDoctor() []doctorCheck {
	var checks []doctorCheck
	add := func(name string, st checkStatus, format string, a ...any) {
		checks = append(checks, doctorCheck{Name: name, Status: st, Message: fmt.Sprintf(format, a...)})
	}

	path, err := config.ConfigPath()
	switch {
	case err != nil:
		add("config_file", checkWarn, "cannot resolve config path: %v", err)
	default:
		if _, statErr := os.Stat(path); statErr != nil {
			add("config_file", checkWarn, "%s not found, using defaults and environment", path)
		} else {
			add("config_file", checkPass, "%s", path)
		}
	}

	for _, p := range config.EnvFileCandidates() {
		if _, statErr := os.Stat(p); statErr == nil {
			add("env_file", checkPass, "%s", p)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		add("config_load", checkFail, "%v", err)
		return checks
	}
	add("config_load", checkPass, "loaded")

	if cfg.Controller.BaseURL == "" {
		add("controller", checkFail, "UNIFI_BASE_URL is not set")
	} else {
		add("controller", checkPass, "%s (site %s)", cfg.Controller.BaseURL, cfg.Controller.Site)
	}
	if cfg.Controller.HasSession() {
		add("controller_session", checkPass, "credentials set for %s", cfg.Controller.Username)
	} else {
		add("controller_session", checkWarn, "UNIFI_USERNAME/UNIFI_PASSWORD not set; reads and writes through the session API will fail")
	}
	if cfg.Controller.APIToken == "" {
		add("controller_integration", checkWarn, "UNIFI_API_TOKEN not set; site and inventory tools disabled")
	} else {
		add("controller_integration", checkPass, "token set")
	}

	if _, err := provider.Resolve(cfg); err != nil {
		add("model_provider", checkFail, "%v", err)
	} else {
		add("model_provider", checkPass, "%s %s", cfg.Model.Provider, cfg.Model.Name)
	}

	if _, err := buildClassifier(cfg); err != nil {
		add("policy_overrides", checkFail, "%v", err)
	} else if cfg.Policy.OverridesPath != "" {
		add("policy_overrides", checkPass, "%s", cfg.Policy.OverridesPath)
	}

	if cfg.MFA.Enabled() {
		add("mfa", checkPass, "push approvals via %s for %s", cfg.MFA.APIHost, cfg.MFA.User)
	} else {
		add("mfa", checkWarn, "DUO_* not configured; critical actions will always be refused")
	}
	if cfg.Slack.Enabled() {
		add("slack", checkPass, "socket mode, default channel %s", cfg.Slack.Channel)
	} else {
		add("slack", checkWarn, "SLACK_BOT_TOKEN/SLACK_APP_TOKEN not set; chat adapter disabled")
	}
	if cfg.Gateway.AuthToken == "" {
		add("gateway_auth", checkWarn, "NETCLAW_GATEWAY_AUTH_TOKEN not set; HTTP API is unauthenticated")
	} else {
		add("gateway_auth", checkPass, "bearer token set")
	}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		res, err := auditstream.Probe(context.Background(), cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, 5*time.Second)
		if err != nil {
			add("audit_stream", checkWarn, "%v; transitions will be dropped until the broker is reachable", err)
		} else {
			add("audit_stream", checkPass, "%s topic %s (%d partitions, %d with leaders)", res.Broker, cfg.Audit.KafkaTopic, res.Partitions, res.Leaders)
		}
	}

	if err := config.EnsureDir(filepath.Dir(cfg.Approvals.DBPath)); err != nil {
		add("audit_db", checkFail, "%v", err)
	} else if svc, err := timeline.NewTimelineService(cfg.Approvals.DBPath); err != nil {
		add("audit_db", checkFail, "%v", err)
	} else {
		_ = svc.Close()
		add("audit_db", checkPass, "%s", cfg.Approvals.DBPath)
	}
	return checks
}
