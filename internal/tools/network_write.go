package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var macPattern = regexp.MustCompile(`^[0-9a-fA-F]{2}([:-][0-9a-fA-F]{2}){5}$`)

func requireMAC(params map[string]any, key string) error {
	mac := strings.TrimSpace(GetString(params, key, ""))
	if mac == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgs, key)
	}
	if !macPattern.MatchString(mac) {
		return fmt.Errorf("%w: %s %q is not a MAC address", ErrInvalidArgs, key, mac)
	}
	return nil
}

func requireString(params map[string]any, key string) error {
	if strings.TrimSpace(GetString(params, key, "")) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgs, key)
	}
	return nil
}

func requireBool(params map[string]any, key string) error {
	if _, ok := GetBool(params, key); !ok {
		return fmt.Errorf("%w: %s must be true or false", ErrInvalidArgs, key)
	}
	return nil
}

func requireCommand(params map[string]any, commands map[string]string) error {
	cmd := GetString(params, "command", "")
	if _, ok := commands[cmd]; !ok {
		return fmt.Errorf("%w: command %q must be one of %s", ErrInvalidArgs, cmd, strings.Join(sortedKeys(commands), ", "))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func enumOf(m map[string]string) []any {
	keys := sortedKeys(m)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

// deviceCommands maps the tool's command names to devmgr commands.
var deviceCommands = map[string]string{
	"locate":    "set-locate",
	"unlocate":  "unset-locate",
	"restart":   "restart",
	"upgrade":   "upgrade",
	"adopt":     "adopt",
	"provision": "force-provision",
}

var deviceImpact = map[string]string{
	"locate":    "Device LED blinks until unlocated. No traffic impact.",
	"unlocate":  "Device LED returns to normal. No traffic impact.",
	"provision": "Configuration is re-pushed to the device. Brief interruption possible.",
	"adopt":     "Device is adopted into this site and reprovisioned.",
	"restart":   "Device reboots. Clients on it lose connectivity for 1-3 minutes.",
	"upgrade":   "Firmware is flashed and the device reboots. Connectivity lost for several minutes; a failed flash may need physical recovery.",
}

// DeviceCommandTool issues devmgr commands to an adopted device.
type DeviceCommandTool struct{ ctrl Controller }

func (t *DeviceCommandTool) Name() string { return "device_command" }
func (t *DeviceCommandTool) Description() string {
	return "Run a command on a network device: locate, unlocate, restart, upgrade, adopt or provision"
}
func (t *DeviceCommandTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{
			"type": "string",
			"enum": enumOf(deviceCommands),
		},
		"mac_address": map[string]any{
			"type":        "string",
			"description": "Device MAC address",
		},
	}, "command", "mac_address")
}

func (t *DeviceCommandTool) Validate(params map[string]any) error {
	if err := requireCommand(params, deviceCommands); err != nil {
		return err
	}
	return requireMAC(params, "mac_address")
}

func (t *DeviceCommandTool) Describe(params map[string]any) (string, string) {
	cmd := GetString(params, "command", "")
	mac := GetString(params, "mac_address", "")
	impact, ok := deviceImpact[cmd]
	if !ok {
		impact = "Unknown impact"
	}
	return fmt.Sprintf("%s device %s", capitalize(cmd), mac), impact
}

func (t *DeviceCommandTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if err := t.Validate(params); err != nil {
		return "", err
	}
	cmd := GetString(params, "command", "")
	mac := GetString(params, "mac_address", "")
	if err := t.ctrl.DeviceCommand(ctx, deviceCommands[cmd], mac); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sent %s to device %s.", cmd, mac), nil
}

// clientCommands maps the tool's command names to stamgr commands.
var clientCommands = map[string]string{
	"kick":    "kick-sta",
	"block":   "block-sta",
	"unblock": "unblock-sta",
}

var clientImpact = map[string]string{
	"kick":    "Client is disconnected and may reconnect immediately.",
	"block":   "Client is disconnected and cannot rejoin until unblocked.",
	"unblock": "Client is allowed to rejoin the network.",
}

// ClientCommandTool issues stamgr commands for a wireless or wired client.
type ClientCommandTool struct{ ctrl Controller }

func (t *ClientCommandTool) Name() string { return "client_command" }
func (t *ClientCommandTool) Description() string {
	return "Kick, block or unblock a network client by MAC address"
}
func (t *ClientCommandTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{
			"type": "string",
			"enum": enumOf(clientCommands),
		},
		"mac_address": map[string]any{
			"type":        "string",
			"description": "Client MAC address",
		},
	}, "command", "mac_address")
}

func (t *ClientCommandTool) Validate(params map[string]any) error {
	if err := requireCommand(params, clientCommands); err != nil {
		return err
	}
	return requireMAC(params, "mac_address")
}

func (t *ClientCommandTool) Describe(params map[string]any) (string, string) {
	cmd := GetString(params, "command", "")
	impact, ok := clientImpact[cmd]
	if !ok {
		impact = "Unknown impact"
	}
	return fmt.Sprintf("%s client %s", capitalize(cmd), GetString(params, "mac_address", "")), impact
}

func (t *ClientCommandTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if err := t.Validate(params); err != nil {
		return "", err
	}
	cmd := GetString(params, "command", "")
	mac := GetString(params, "mac_address", "")
	if err := t.ctrl.ClientCommand(ctx, clientCommands[cmd], mac); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sent %s for client %s.", cmd, mac), nil
}

// WLANToggleTool enables or disables an SSID.
type WLANToggleTool struct{ ctrl Controller }

func (t *WLANToggleTool) Name() string { return "set_wlan_enabled" }
func (t *WLANToggleTool) Description() string {
	return "Enable or disable a wireless network by its ID (see get_wlan_config)"
}
func (t *WLANToggleTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"wlan_id": map[string]any{"type": "string"},
		"enabled": map[string]any{"type": "boolean"},
	}, "wlan_id", "enabled")
}

func (t *WLANToggleTool) Validate(params map[string]any) error {
	if err := requireString(params, "wlan_id"); err != nil {
		return err
	}
	return requireBool(params, "enabled")
}

func (t *WLANToggleTool) Describe(params map[string]any) (string, string) {
	id := GetString(params, "wlan_id", "")
	if enabled, _ := GetBool(params, "enabled"); enabled {
		return "Enable WLAN " + id, "SSID starts broadcasting and clients can join."
	}
	return "Disable WLAN " + id, "SSID stops broadcasting. All connected clients are disconnected."
}

func (t *WLANToggleTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if err := t.Validate(params); err != nil {
		return "", err
	}
	id := GetString(params, "wlan_id", "")
	enabled, _ := GetBool(params, "enabled")
	if err := t.ctrl.UpdateWLAN(ctx, id, map[string]any{"enabled": enabled}); err != nil {
		return "", err
	}
	return fmt.Sprintf("WLAN %s %s.", id, enabledWord(enabled)), nil
}

// FirewallRuleToggleTool enables or disables one firewall rule.
type FirewallRuleToggleTool struct{ ctrl Controller }

func (t *FirewallRuleToggleTool) Name() string { return "set_firewall_rule_enabled" }
func (t *FirewallRuleToggleTool) Description() string {
	return "Enable or disable a firewall rule by its ID (see get_firewall_rules)"
}
func (t *FirewallRuleToggleTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"rule_id": map[string]any{"type": "string"},
		"enabled": map[string]any{"type": "boolean"},
	}, "rule_id", "enabled")
}

func (t *FirewallRuleToggleTool) Validate(params map[string]any) error {
	if err := requireString(params, "rule_id"); err != nil {
		return err
	}
	return requireBool(params, "enabled")
}

func (t *FirewallRuleToggleTool) Describe(params map[string]any) (string, string) {
	id := GetString(params, "rule_id", "")
	if enabled, _ := GetBool(params, "enabled"); enabled {
		return "Enable firewall rule " + id, "Rule starts matching traffic immediately."
	}
	return "Disable firewall rule " + id, "Traffic the rule matched is no longer filtered by it."
}

func (t *FirewallRuleToggleTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if err := t.Validate(params); err != nil {
		return "", err
	}
	id := GetString(params, "rule_id", "")
	enabled, _ := GetBool(params, "enabled")
	if err := t.ctrl.UpdateFirewallRule(ctx, id, map[string]any{"enabled": enabled}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Firewall rule %s %s.", id, enabledWord(enabled)), nil
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
