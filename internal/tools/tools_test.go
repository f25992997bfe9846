package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/NetClaw/internal/unifi"
)

type fakeController struct {
	devices  []unifi.Device
	networks []unifi.Network
	wlans    []unifi.WLAN
	rules    []unifi.FirewallRule
	health   []unifi.HealthSubsystem
	err      error

	calls []string
}

func (f *fakeController) Networks(context.Context) ([]unifi.Network, error) {
	return f.networks, f.err
}
func (f *fakeController) WLANs(context.Context) ([]unifi.WLAN, error) { return f.wlans, f.err }
func (f *fakeController) FirewallRules(context.Context) ([]unifi.FirewallRule, error) {
	return f.rules, f.err
}
func (f *fakeController) Devices(context.Context) ([]unifi.Device, error) { return f.devices, f.err }
func (f *fakeController) Health(context.Context) ([]unifi.HealthSubsystem, error) {
	return f.health, f.err
}

func (f *fakeController) DeviceByMAC(_ context.Context, mac string) (unifi.Device, error) {
	if f.err != nil {
		return unifi.Device{}, f.err
	}
	for _, d := range f.devices {
		if unifi.NormalizeMAC(d.MAC) == unifi.NormalizeMAC(mac) {
			return d, nil
		}
	}
	return unifi.Device{}, unifi.ErrNotFound
}

func (f *fakeController) DeviceCommand(_ context.Context, cmd, mac string) error {
	f.calls = append(f.calls, "devmgr:"+cmd+":"+mac)
	return f.err
}

func (f *fakeController) ClientCommand(_ context.Context, cmd, mac string) error {
	f.calls = append(f.calls, "stamgr:"+cmd+":"+mac)
	return f.err
}

func (f *fakeController) UpdateWLAN(_ context.Context, id string, fields map[string]any) error {
	b, _ := json.Marshal(fields)
	f.calls = append(f.calls, "wlan:"+id+":"+string(b))
	return f.err
}

func (f *fakeController) UpdateFirewallRule(_ context.Context, id string, fields map[string]any) error {
	b, _ := json.Marshal(fields)
	f.calls = append(f.calls, "rule:"+id+":"+string(b))
	return f.err
}

type fakeInventory struct {
	sites   []unifi.Site
	devices map[string][]unifi.SiteDevice
}

func (f *fakeInventory) Sites(context.Context) ([]unifi.Site, error) { return f.sites, nil }

func (f *fakeInventory) SiteByReference(_ context.Context, ref string) (unifi.Site, error) {
	for _, s := range f.sites {
		if s.InternalReference == ref {
			return s, nil
		}
	}
	return unifi.Site{}, unifi.ErrNotFound
}

func (f *fakeInventory) Devices(_ context.Context, siteID string) ([]unifi.SiteDevice, error) {
	return f.devices[siteID], nil
}

func TestRegisterNetworkTools(t *testing.T) {
	r := NewRegistry()
	RegisterNetworkTools(r, &fakeController{}, &fakeInventory{}, "default")

	want := []string{
		"client_command", "device_command", "get_device_details", "get_firewall_rules",
		"get_network_config", "get_site_health", "get_unifi_devices", "get_unifi_sites",
		"get_wlan_config", "set_firewall_rule_enabled", "set_wlan_enabled",
	}
	defs := r.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("tool %d: expected %s, got %s", i, want[i], d.Name)
		}
		if d.Parameters["type"] != "object" {
			t.Errorf("%s: schema type = %v", d.Name, d.Parameters["type"])
		}
	}
}

func TestRegisterWithoutInventory(t *testing.T) {
	r := NewRegistry()
	RegisterNetworkTools(r, &fakeController{}, nil, "default")
	if _, ok := r.Get("get_unifi_sites"); ok {
		t.Error("inventory tools should be skipped without an integration client")
	}
	if _, ok := r.Get("get_site_health"); !ok {
		t.Error("session tools should still be registered")
	}
}

func TestRegistryExecuteUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Execute(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestSiteDevicesUsesDefaultSite(t *testing.T) {
	inv := &fakeInventory{
		sites: []unifi.Site{{ID: "s1", InternalReference: "default", Name: "HQ"}},
		devices: map[string][]unifi.SiteDevice{
			"s1": {
				{Name: "ap-lobby", Model: "U6-Pro", State: "ONLINE", Version: "6.6.55"},
				{Name: "sw-core", Model: "USW-24", State: "OFFLINE", Version: "7.0.1", Upgradable: true},
			},
		},
	}
	tool := &SiteDevicesTool{inv: inv, site: "default"}
	out, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, s := range []string{"(2 total)", ":x: **Offline (1):**", "sw-core", "**OFFLINE**", "Firmware Updates Available:** sw-core"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}

func TestDeviceDetails(t *testing.T) {
	ctrl := &fakeController{devices: []unifi.Device{{
		MAC: "aa:bb:cc:dd:ee:ff", Name: "gw", Model: "UDM", State: 1, Version: "4.0.6",
		IP: "10.0.0.1", Uptime: 90061, SystemStats: unifi.SystemStats{CPU: "12.5", Mem: "40"},
	}}}
	tool := &DeviceDetailsTool{ctrl: ctrl}

	out, err := tool.Execute(context.Background(), map[string]any{"mac_address": "AA-BB-CC-DD-EE-FF"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, s := range []string{"**Device Details: gw**", "State: connected", "Uptime: 1d 1h 1m", "CPU: 12.5%"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"mac_address": "00:00:00:00:00:01"}); !errors.Is(err, unifi.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFormatWLANs(t *testing.T) {
	out := FormatWLANs([]unifi.WLAN{
		{ID: "w1", Name: "corp", Enabled: true, Security: "wpapsk", WPAMode: "wpa2", WPA3Support: true, PMFMode: "required"},
		{ID: "w2", Name: "guest", Security: "open", IsGuest: true, HideSSID: true},
	})
	for _, s := range []string{"(2 SSIDs)", ":white_check_mark: **corp** (id w1)", "PMF: :white_check_mark: Required", ":x: **guest**", "Type: Guest Network", "Hidden: Yes"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
	if got := FormatWLANs(nil); got != "No wireless networks configured." {
		t.Errorf("empty: %q", got)
	}
}

func TestFormatHealthAndRules(t *testing.T) {
	health := FormatHealth([]unifi.HealthSubsystem{
		{Subsystem: "wan", Status: "ok"},
		{Subsystem: "wlan", Status: "warning", NumUser: 12, NumGuest: 3, NumAP: 4, NumDisc: 1},
	})
	if !strings.Contains(health, ":warning: **wlan**: warning (12 users, 3 guests, 4 APs, 1 disconnected)") {
		t.Errorf("unexpected health output:\n%s", health)
	}

	rules := FormatFirewallRules([]unifi.FirewallRule{{ID: "r1", Name: "block iot", Enabled: true, Action: "drop", Ruleset: "LAN_IN"}})
	if !strings.Contains(rules, ":no_entry: **block iot**: drop (LAN_IN) id r1") {
		t.Errorf("unexpected rules output:\n%s", rules)
	}

	nets := FormatNetworks([]unifi.Network{{Name: "IoT", VLAN: "30", Purpose: "corporate", Subnet: "10.30.0.1/24", DHCPDEnabled: true}})
	if !strings.Contains(nets, "**IoT** (VLAN 30)") || !strings.Contains(nets, "DHCP: enabled") {
		t.Errorf("unexpected networks output:\n%s", nets)
	}
}

func TestDeviceCommandMapsToDevmgr(t *testing.T) {
	ctrl := &fakeController{}
	tool := &DeviceCommandTool{ctrl: ctrl}
	cases := map[string]string{
		"locate":    "set-locate",
		"unlocate":  "unset-locate",
		"provision": "force-provision",
		"restart":   "restart",
		"upgrade":   "upgrade",
	}
	for op, want := range cases {
		ctrl.calls = nil
		if _, err := tool.Execute(context.Background(), map[string]any{"command": op, "mac_address": "aa:bb:cc:dd:ee:ff"}); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if len(ctrl.calls) != 1 || ctrl.calls[0] != "devmgr:"+want+":aa:bb:cc:dd:ee:ff" {
			t.Errorf("%s: calls = %v", op, ctrl.calls)
		}
	}
}

func TestWriteToolValidation(t *testing.T) {
	ctrl := &fakeController{}
	cases := []struct {
		tool   Tool
		params map[string]any
	}{
		{&DeviceCommandTool{ctrl: ctrl}, map[string]any{"command": "explode", "mac_address": "aa:bb:cc:dd:ee:ff"}},
		{&DeviceCommandTool{ctrl: ctrl}, map[string]any{"command": "restart", "mac_address": "not-a-mac"}},
		{&ClientCommandTool{ctrl: ctrl}, map[string]any{"command": "block"}},
		{&WLANToggleTool{ctrl: ctrl}, map[string]any{"wlan_id": "w1", "enabled": "yes"}},
		{&FirewallRuleToggleTool{ctrl: ctrl}, map[string]any{"enabled": true}},
	}
	for _, tc := range cases {
		if err := Validate(tc.tool, tc.params); !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("%s %v: expected ErrInvalidArgs, got %v", tc.tool.Name(), tc.params, err)
		}
		if _, err := tc.tool.Execute(context.Background(), tc.params); !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("%s: execute should refuse invalid args, got %v", tc.tool.Name(), err)
		}
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("controller should not be called, got %v", ctrl.calls)
	}
}

func TestToggleTools(t *testing.T) {
	ctrl := &fakeController{}
	wlan := &WLANToggleTool{ctrl: ctrl}
	out, err := wlan.Execute(context.Background(), map[string]any{"wlan_id": "w1", "enabled": false})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "WLAN w1 disabled." {
		t.Errorf("unexpected output %q", out)
	}
	rule := &FirewallRuleToggleTool{ctrl: ctrl}
	if _, err := rule.Execute(context.Background(), map[string]any{"rule_id": "r1", "enabled": true}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{`wlan:w1:{"enabled":false}`, `rule:r1:{"enabled":true}`}
	if strings.Join(ctrl.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v", ctrl.calls)
	}
}

func TestDescribe(t *testing.T) {
	desc, impact := Describe(&DeviceCommandTool{}, map[string]any{"command": "restart", "mac_address": "aa:bb:cc:dd:ee:ff"})
	if desc != "Restart device aa:bb:cc:dd:ee:ff" {
		t.Errorf("description = %q", desc)
	}
	if !strings.Contains(impact, "reboots") {
		t.Errorf("impact = %q", impact)
	}

	desc, impact = Describe(&SiteHealthTool{}, nil)
	if desc != "Run get_site_health" || impact != "Unknown impact" {
		t.Errorf("default describe = %q / %q", desc, impact)
	}

	desc, _ = Describe(&WLANToggleTool{}, map[string]any{"wlan_id": "w9", "enabled": false})
	if desc != "Disable WLAN w9" {
		t.Errorf("wlan describe = %q", desc)
	}
}

func TestControllerErrorPropagates(t *testing.T) {
	authErr := &unifi.AuthError{StatusCode: 401, Op: "GET /stat/health", Retried: true}
	tool := &SiteHealthTool{ctrl: &fakeController{err: authErr}}
	_, err := tool.Execute(context.Background(), nil)
	if !unifi.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
