package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KafClaw/NetClaw/internal/executor"
)

// maxAnalysisData bounds the JSON embedded into analysis prompts.
const maxAnalysisData = 60000

// AnalyzeHealth asks the model to review device health data collected by a
// workflow. Devices are passed through opaquely.
func (l *Loop) AnalyzeHealth(ctx context.Context, devices []map[string]any, summary string, req Request) executor.Result {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return executor.Failure{Kind: executor.FailureTool, Detail: fmt.Sprintf("encode devices: %v", err)}
	}
	req.Message = fmt.Sprintf(HealthAnalysisPrompt, truncateStr(string(data), maxAnalysisData), summary)
	return l.Run(ctx, req)
}

// AuditInput is the configuration snapshot an audit workflow collected.
type AuditInput struct {
	Findings      []map[string]any `json:"findings"`
	Networks      []map[string]any `json:"networks"`
	WLANs         []map[string]any `json:"wlans"`
	FirewallRules []map[string]any `json:"firewall_rules"`
	Devices       []map[string]any `json:"devices"`
}

// AnalyzeAudit asks the model for remediation steps for audit findings.
func (l *Loop) AnalyzeAudit(ctx context.Context, in AuditInput, req Request) executor.Result {
	findings, err := json.MarshalIndent(in.Findings, "", "  ")
	if err != nil {
		return executor.Failure{Kind: executor.FailureTool, Detail: fmt.Sprintf("encode findings: %v", err)}
	}
	req.Message = fmt.Sprintf(AuditAnalysisPrompt,
		truncateStr(string(findings), maxAnalysisData),
		len(in.Networks), len(in.WLANs), len(in.FirewallRules), len(in.Devices))
	return l.Run(ctx, req)
}
