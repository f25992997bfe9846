package policy

// DefaultRules is the built-in table for the network tools.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"get_unifi_sites":    {Tier: Safe},
		"get_unifi_devices":  {Tier: Safe},
		"get_device_details": {Tier: Safe},
		"get_network_config": {Tier: Safe},
		"get_wlan_config":    {Tier: Safe},
		"get_firewall_rules": {Tier: Safe},
		"get_site_health":    {Tier: Safe},

		"device_command": {
			OpField: "command",
			Ops: map[string]Tier{
				"locate":    Safe,
				"unlocate":  Safe,
				"provision": Moderate,
				"adopt":     Moderate,
				"restart":   Dangerous,
				"upgrade":   Critical,
			},
		},
		"client_command": {
			OpField: "command",
			Ops: map[string]Tier{
				"kick":    Moderate,
				"unblock": Moderate,
				"block":   Dangerous,
			},
		},
		"set_wlan_enabled":          {Tier: Dangerous},
		"set_firewall_rule_enabled": {Tier: Dangerous},
	}
}
