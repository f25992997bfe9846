package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/NetClaw/internal/unifi"
)

// Controller is the session-API surface the network tools need.
type Controller interface {
	Networks(ctx context.Context) ([]unifi.Network, error)
	WLANs(ctx context.Context) ([]unifi.WLAN, error)
	FirewallRules(ctx context.Context) ([]unifi.FirewallRule, error)
	Devices(ctx context.Context) ([]unifi.Device, error)
	DeviceByMAC(ctx context.Context, mac string) (unifi.Device, error)
	Health(ctx context.Context) ([]unifi.HealthSubsystem, error)
	DeviceCommand(ctx context.Context, cmd, mac string) error
	ClientCommand(ctx context.Context, cmd, mac string) error
	UpdateWLAN(ctx context.Context, id string, fields map[string]any) error
	UpdateFirewallRule(ctx context.Context, id string, fields map[string]any) error
}

// Inventory is the token-header integration surface.
type Inventory interface {
	Sites(ctx context.Context) ([]unifi.Site, error)
	SiteByReference(ctx context.Context, ref string) (unifi.Site, error)
	Devices(ctx context.Context, siteID string) ([]unifi.SiteDevice, error)
}

// RegisterNetworkTools registers every network tool. inv may be nil when no
// integration token is configured; the inventory tools are then skipped.
func RegisterNetworkTools(r *Registry, ctrl Controller, inv Inventory, site string) {
	if inv != nil {
		r.Register(&SitesTool{inv: inv})
		r.Register(&SiteDevicesTool{inv: inv, site: site})
	}
	r.Register(&DeviceDetailsTool{ctrl: ctrl})
	r.Register(&NetworkConfigTool{ctrl: ctrl})
	r.Register(&WLANConfigTool{ctrl: ctrl})
	r.Register(&FirewallRulesTool{ctrl: ctrl})
	r.Register(&SiteHealthTool{ctrl: ctrl})
	r.Register(&DeviceCommandTool{ctrl: ctrl})
	r.Register(&ClientCommandTool{ctrl: ctrl})
	r.Register(&WLANToggleTool{ctrl: ctrl})
	r.Register(&FirewallRuleToggleTool{ctrl: ctrl})
}

// SitesTool lists controller sites.
type SitesTool struct{ inv Inventory }

func (t *SitesTool) Name() string        { return "get_unifi_sites" }
func (t *SitesTool) Description() string { return "Get list of all UniFi sites available" }
func (t *SitesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *SitesTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	sites, err := t.inv.Sites(ctx)
	if err != nil {
		return "", err
	}
	if len(sites) == 0 {
		return "No sites found.", nil
	}
	lines := []string{fmt.Sprintf("Found %d site(s):", len(sites))}
	for _, s := range sites {
		lines = append(lines, fmt.Sprintf("- **%s** (%s): ID=%s", orDefault(s.InternalReference, "unknown"), orDefault(s.Name, "unnamed"), s.ID))
	}
	return strings.Join(lines, "\n"), nil
}

// SiteDevicesTool summarizes device state for a site.
type SiteDevicesTool struct {
	inv  Inventory
	site string
}

func (t *SiteDevicesTool) Name() string { return "get_unifi_devices" }
func (t *SiteDevicesTool) Description() string {
	return "Get all devices for a site with status, model, firmware info"
}
func (t *SiteDevicesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"site_id": map[string]any{
			"type":        "string",
			"description": "Optional site ID. If not provided, uses default site.",
		},
	})
}

func (t *SiteDevicesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	siteID := GetString(params, "site_id", "")
	if siteID == "" {
		site, err := t.inv.SiteByReference(ctx, t.site)
		if err != nil {
			return "", err
		}
		siteID = site.ID
	}
	devices, err := t.inv.Devices(ctx, siteID)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "No devices found.", nil
	}

	var online, offline, other, upgradable []string
	for _, d := range devices {
		name := orDefault(d.Name, orDefault(d.MACAddress, "Unknown"))
		info := fmt.Sprintf("- **%s** (%s): v%s", name, d.Model, d.FirmwareVersion())
		if d.UpgradeAvailable() {
			upgradable = append(upgradable, name)
			info += " [UPGRADE AVAILABLE]"
		}
		switch state := strings.ToUpper(d.State); state {
		case "ONLINE", "CONNECTED":
			online = append(online, info)
		case "OFFLINE", "DISCONNECTED":
			offline = append(offline, info+" - **"+state+"**")
		default:
			other = append(other, info+" - "+state)
		}
	}

	lines := []string{fmt.Sprintf("**Device Status** (%d total)", len(devices))}
	if len(offline) > 0 {
		lines = append(lines, fmt.Sprintf("\n:x: **Offline (%d):**", len(offline)))
		lines = append(lines, offline...)
	}
	if len(other) > 0 {
		lines = append(lines, fmt.Sprintf("\n:warning: **Other States (%d):**", len(other)))
		lines = append(lines, other...)
	}
	lines = append(lines, fmt.Sprintf("\n:white_check_mark: **Online (%d):**", len(online)))
	if len(online) > 10 {
		lines = append(lines, online[:10]...)
		lines = append(lines, fmt.Sprintf("  ... and %d more", len(online)-10))
	} else {
		lines = append(lines, online...)
	}
	if len(upgradable) > 0 {
		lines = append(lines, "\n:arrow_up: **Firmware Updates Available:** "+strings.Join(upgradable, ", "))
	}
	return strings.Join(lines, "\n"), nil
}

// DeviceDetailsTool shows one device by MAC.
type DeviceDetailsTool struct{ ctrl Controller }

func (t *DeviceDetailsTool) Name() string { return "get_device_details" }
func (t *DeviceDetailsTool) Description() string {
	return "Get detailed information about a specific device by MAC address"
}
func (t *DeviceDetailsTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"mac_address": map[string]any{
			"type":        "string",
			"description": "Device MAC address (e.g., '00:11:22:33:44:55')",
		},
	}, "mac_address")
}

func (t *DeviceDetailsTool) Validate(params map[string]any) error {
	return requireMAC(params, "mac_address")
}

func (t *DeviceDetailsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	mac := GetString(params, "mac_address", "")
	d, err := t.ctrl.DeviceByMAC(ctx, mac)
	if err != nil {
		return "", err
	}
	lines := []string{
		"**Device Details: " + d.DisplayName() + "**",
		"- Model: " + orDefault(d.Model, "Unknown"),
		"- State: " + d.StateLabel(),
		"- Firmware: " + orDefault(d.Version, "?"),
		"- IP Address: " + orDefault(d.IP, "N/A"),
		"- Uptime: " + formatUptime(d.Uptime),
		"- CPU: " + orDefault(d.SystemStats.CPU.String(), "N/A") + "%",
		"- Memory: " + orDefault(d.SystemStats.Mem.String(), "N/A") + "%",
	}
	if d.Upgradable || d.UpgradeToFirmware != "" {
		lines = append(lines, "- :arrow_up: **Upgrade Available**: "+orDefault(d.UpgradeToFirmware, "available"))
	}
	return strings.Join(lines, "\n"), nil
}

// NetworkConfigTool lists networks and VLANs.
type NetworkConfigTool struct{ ctrl Controller }

func (t *NetworkConfigTool) Name() string        { return "get_network_config" }
func (t *NetworkConfigTool) Description() string { return "Get network/VLAN configuration for the site" }
func (t *NetworkConfigTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *NetworkConfigTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	networks, err := t.ctrl.Networks(ctx)
	if err != nil {
		return "", err
	}
	return FormatNetworks(networks), nil
}

// FormatNetworks renders networkconf entries.
func FormatNetworks(networks []unifi.Network) string {
	if len(networks) == 0 {
		return "No networks configured."
	}
	lines := []string{fmt.Sprintf("**Network Configuration** (%d networks):", len(networks))}
	for _, n := range networks {
		dhcp := "disabled"
		if n.DHCPDEnabled {
			dhcp = "enabled"
		}
		lines = append(lines,
			fmt.Sprintf("\n**%s** (VLAN %s)", orDefault(n.Name, "unnamed"), orDefault(n.VLAN.String(), "untagged")),
			"  - Purpose: "+orDefault(n.Purpose, "unknown"),
			"  - Subnet: "+orDefault(n.Subnet, "N/A"),
			"  - DHCP: "+dhcp,
		)
	}
	return strings.Join(lines, "\n")
}

// WLANConfigTool lists SSIDs with their security posture.
type WLANConfigTool struct{ ctrl Controller }

func (t *WLANConfigTool) Name() string { return "get_wlan_config" }
func (t *WLANConfigTool) Description() string {
	return "Get wireless network (SSID) configuration including security settings and IDs"
}
func (t *WLANConfigTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *WLANConfigTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	wlans, err := t.ctrl.WLANs(ctx)
	if err != nil {
		return "", err
	}
	return FormatWLANs(wlans), nil
}

// FormatWLANs renders wlanconf entries.
func FormatWLANs(wlans []unifi.WLAN) string {
	if len(wlans) == 0 {
		return "No wireless networks configured."
	}
	lines := []string{fmt.Sprintf("**Wireless Networks** (%d SSIDs):", len(wlans))}
	for _, w := range wlans {
		lines = append(lines,
			fmt.Sprintf("\n%s **%s** (id %s)", checkmark(w.Enabled), orDefault(w.Name, "unnamed"), w.ID),
			fmt.Sprintf("  - Security: %s (%s)", orDefault(w.Security, "unknown"), w.WPAMode),
		)
		if w.WPA3Support {
			lines = append(lines, "  - WPA3: :white_check_mark: Enabled")
		} else {
			lines = append(lines, "  - WPA3: :x: Disabled")
		}
		switch w.PMFMode {
		case "required":
			lines = append(lines, "  - PMF: :white_check_mark: Required")
		case "optional":
			lines = append(lines, "  - PMF: :warning: Optional")
		default:
			lines = append(lines, "  - PMF: :x: Disabled")
		}
		if w.IsGuest {
			lines = append(lines, "  - Type: Guest Network")
		}
		if w.HideSSID {
			lines = append(lines, "  - Hidden: Yes")
		}
	}
	return strings.Join(lines, "\n")
}

// FirewallRulesTool lists custom firewall rules.
type FirewallRulesTool struct{ ctrl Controller }

func (t *FirewallRulesTool) Name() string        { return "get_firewall_rules" }
func (t *FirewallRulesTool) Description() string { return "Get firewall rules for the site, including rule IDs" }
func (t *FirewallRulesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *FirewallRulesTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	rules, err := t.ctrl.FirewallRules(ctx)
	if err != nil {
		return "", err
	}
	return FormatFirewallRules(rules), nil
}

// FormatFirewallRules renders firewallrule entries.
func FormatFirewallRules(rules []unifi.FirewallRule) string {
	if len(rules) == 0 {
		return "No custom firewall rules configured."
	}
	lines := []string{fmt.Sprintf("**Firewall Rules** (%d rules):", len(rules))}
	for _, r := range rules {
		icon := ":arrow_right:"
		if r.Action == "drop" || r.Action == "reject" {
			icon = ":no_entry:"
		}
		lines = append(lines, fmt.Sprintf("- %s %s **%s**: %s (%s) id %s",
			checkmark(r.Enabled), icon, orDefault(r.Name, "unnamed"), orDefault(r.Action, "?"), orDefault(r.Ruleset, "?"), r.ID))
	}
	return strings.Join(lines, "\n")
}

// SiteHealthTool summarizes stat/health.
type SiteHealthTool struct{ ctrl Controller }

func (t *SiteHealthTool) Name() string { return "get_site_health" }
func (t *SiteHealthTool) Description() string {
	return "Get site health per subsystem (wan, lan, wlan, vpn) with client and device counts"
}
func (t *SiteHealthTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *SiteHealthTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	subsystems, err := t.ctrl.Health(ctx)
	if err != nil {
		return "", err
	}
	return FormatHealth(subsystems), nil
}

// FormatHealth renders stat/health entries.
func FormatHealth(subsystems []unifi.HealthSubsystem) string {
	if len(subsystems) == 0 {
		return "No health data reported."
	}
	lines := []string{"**Site Health**"}
	for _, h := range subsystems {
		icon := ":white_check_mark:"
		if h.Status != "ok" {
			icon = ":warning:"
		}
		line := fmt.Sprintf("- %s **%s**: %s", icon, h.Subsystem, orDefault(h.Status, "unknown"))
		var counts []string
		if h.NumUser > 0 || h.NumGuest > 0 {
			counts = append(counts, fmt.Sprintf("%d users, %d guests", h.NumUser, h.NumGuest))
		}
		if h.NumAP > 0 {
			counts = append(counts, fmt.Sprintf("%d APs", h.NumAP))
		}
		if h.NumSw > 0 {
			counts = append(counts, fmt.Sprintf("%d switches", h.NumSw))
		}
		if h.NumGw > 0 {
			counts = append(counts, fmt.Sprintf("%d gateways", h.NumGw))
		}
		if h.NumDisc > 0 {
			counts = append(counts, fmt.Sprintf("%d disconnected", h.NumDisc))
		}
		if len(counts) > 0 {
			line += " (" + strings.Join(counts, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatDevices renders stat/device entries for analysis prompts.
func FormatDevices(devices []unifi.Device) string {
	if len(devices) == 0 {
		return "No devices reported."
	}
	lines := make([]string, 0, len(devices))
	for _, d := range devices {
		line := fmt.Sprintf("- %s (%s, %s): %s, fw %s, uptime %s, cpu %s%%, mem %s%%",
			d.DisplayName(), orDefault(d.Model, "?"), d.MAC, d.StateLabel(), orDefault(d.Version, "?"),
			formatUptime(d.Uptime), orDefault(d.SystemStats.CPU.String(), "?"), orDefault(d.SystemStats.Mem.String(), "?"))
		if d.Upgradable {
			line += " [upgrade available]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatUptime(seconds int64) string {
	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

func checkmark(ok bool) string {
	if ok {
		return ":white_check_mark:"
	}
	return ":x:"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
