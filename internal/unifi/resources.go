package unifi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Network is a networkconf entry (LAN/VLAN).
type Network struct {
	ID           string      `json:"_id"`
	Name         string      `json:"name"`
	Purpose      string      `json:"purpose"`
	VLAN         json.Number `json:"vlan,omitempty"`
	VLANEnabled  bool        `json:"vlan_enabled"`
	Subnet       string      `json:"ip_subnet"`
	DHCPDEnabled bool        `json:"dhcpd_enabled"`
}

// WLAN is a wlanconf entry (SSID).
type WLAN struct {
	ID             string `json:"_id"`
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	Security       string `json:"security"`
	WPAMode        string `json:"wpa_mode"`
	WPA3Support    bool   `json:"wpa3_support"`
	WPA3Transition bool   `json:"wpa3_transition"`
	PMFMode        string `json:"pmf_mode"`
	IsGuest        bool   `json:"is_guest"`
	HideSSID       bool   `json:"hide_ssid"`
	NetworkConfID  string `json:"networkconf_id"`
}

// FirewallRule is a firewallrule entry.
type FirewallRule struct {
	ID         string      `json:"_id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Action     string      `json:"action"`
	Ruleset    string      `json:"ruleset"`
	RuleIndex  json.Number `json:"rule_index,omitempty"`
	Protocol   string      `json:"protocol"`
	SrcAddress string      `json:"src_address"`
	DstAddress string      `json:"dst_address"`
	DstPort    string      `json:"dst_port"`
}

// SystemStats holds device load; the controller reports them as strings.
type SystemStats struct {
	CPU json.Number `json:"cpu,omitempty"`
	Mem json.Number `json:"mem,omitempty"`
}

// Device is a stat/device entry.
type Device struct {
	ID                string      `json:"_id"`
	MAC               string      `json:"mac"`
	Name              string      `json:"name"`
	Model             string      `json:"model"`
	Type              string      `json:"type"`
	State             int         `json:"state"`
	Version           string      `json:"version"`
	IP                string      `json:"ip"`
	Uptime            int64       `json:"uptime"`
	Adopted           bool        `json:"adopted"`
	Upgradable        bool        `json:"upgradable"`
	UpgradeToFirmware string      `json:"upgrade_to_firmware"`
	NumSta            int         `json:"num_sta"`
	SystemStats       SystemStats `json:"system-stats"`
}

// DisplayName prefers the configured name over the MAC.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.MAC
}

// StateLabel maps the numeric device state.
func (d Device) StateLabel() string {
	switch d.State {
	case 0:
		return "disconnected"
	case 1:
		return "connected"
	case 2:
		return "pending adoption"
	case 4:
		return "upgrading"
	case 5:
		return "provisioning"
	case 6:
		return "heartbeat missed"
	}
	return fmt.Sprintf("state %d", d.State)
}

// HealthSubsystem is a stat/health entry.
type HealthSubsystem struct {
	Subsystem   string `json:"subsystem"`
	Status      string `json:"status"`
	NumUser     int    `json:"num_user"`
	NumGuest    int    `json:"num_guest"`
	NumAP       int    `json:"num_ap"`
	NumAdopted  int    `json:"num_adopted"`
	NumDisabled int    `json:"num_disabled"`
	NumDisc     int    `json:"num_disconnected"`
	NumPending  int    `json:"num_pending"`
	NumSw       int    `json:"num_sw"`
	NumGw       int    `json:"num_gw"`
	WANIP       string `json:"wan_ip"`
}

// Networks lists networkconf.
func (c *Client) Networks(ctx context.Context) ([]Network, error) {
	var out []Network
	if err := c.Read(ctx, "/rest/networkconf", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WLANs lists wlanconf.
func (c *Client) WLANs(ctx context.Context) ([]WLAN, error) {
	var out []WLAN
	if err := c.Read(ctx, "/rest/wlanconf", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FirewallRules lists firewallrule.
func (c *Client) FirewallRules(ctx context.Context) ([]FirewallRule, error) {
	var out []FirewallRule
	if err := c.Read(ctx, "/rest/firewallrule", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Devices lists stat/device.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.Read(ctx, "/stat/device", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health lists stat/health.
func (c *Client) Health(ctx context.Context) ([]HealthSubsystem, error) {
	var out []HealthSubsystem
	if err := c.Read(ctx, "/stat/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeviceByMAC finds a device; MACs are compared case-insensitively and
// dashes are accepted as separators.
func (c *Client) DeviceByMAC(ctx context.Context, mac string) (Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return Device{}, err
	}
	want := NormalizeMAC(mac)
	for _, d := range devices {
		if NormalizeMAC(d.MAC) == want {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("device %s: %w", mac, ErrNotFound)
}

// DeviceCommand posts a devmgr command such as "restart" or "set-locate".
func (c *Client) DeviceCommand(ctx context.Context, cmd, mac string) error {
	return c.Write(ctx, http.MethodPost, "/cmd/devmgr", map[string]string{
		"cmd": cmd,
		"mac": NormalizeMAC(mac),
	}, nil)
}

// ClientCommand posts a stamgr command such as "block-sta".
func (c *Client) ClientCommand(ctx context.Context, cmd, mac string) error {
	return c.Write(ctx, http.MethodPost, "/cmd/stamgr", map[string]string{
		"cmd": cmd,
		"mac": NormalizeMAC(mac),
	}, nil)
}

// UpdateWLAN applies a partial update to one wlanconf entry.
func (c *Client) UpdateWLAN(ctx context.Context, id string, fields map[string]any) error {
	return c.Write(ctx, http.MethodPut, "/rest/wlanconf/"+url.PathEscape(id), fields, nil)
}

// UpdateFirewallRule applies a partial update to one firewallrule entry.
func (c *Client) UpdateFirewallRule(ctx context.Context, id string, fields map[string]any) error {
	return c.Write(ctx, http.MethodPut, "/rest/firewallrule/"+url.PathEscape(id), fields, nil)
}

// NormalizeMAC lower-cases a MAC and converts dashes to colons.
func NormalizeMAC(mac string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mac)), "-", ":")
}
