package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

// isolate points config and the audit db at a temp home with no provider
// credentials.
func isolate(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("NETCLAW_HOME", home)
	t.Setenv("NETCLAW_CONFIG", "")
	t.Setenv("NETCLAW_ENV_FILE", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_BASE", "")
	t.Setenv("NETCLAW_POLICY_OVERRIDES_PATH", "")
	classifyList = false
	return home
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "netclaw "+version {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestClassifyCommand(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "classify", "device_command", "command=upgrade", "mac=aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(out, "device_command: critical") {
		t.Fatalf("expected critical tier, got %q", out)
	}
	if !strings.Contains(out, "MFA push") {
		t.Fatalf("expected MFA note, got %q", out)
	}

	out, err = runRootCommand(t, "classify", "get_site_health")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(out, "runs without confirmation") {
		t.Fatalf("expected safe tier, got %q", out)
	}
}

func TestClassifyUnknownToolReportsGap(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "classify", "factory_reset")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(out, "factory_reset: dangerous") || !strings.Contains(out, "classification gap") {
		t.Fatalf("expected dangerous with gap, got %q", out)
	}
}

func TestClassifyList(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "classify", "--list")
	classifyList = false
	if err != nil {
		t.Fatalf("classify --list: %v", err)
	}
	for _, want := range []string{"get_unifi_sites", "device_command", "command=upgrade", "set_wlan_enabled"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"enabled=false", "count=3", "mac=aa:bb"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["enabled"] != false {
		t.Fatalf("enabled = %#v", params["enabled"])
	}
	if params["count"] != float64(3) {
		t.Fatalf("count = %#v", params["count"])
	}
	if params["mac"] != "aa:bb" {
		t.Fatalf("mac = %#v", params["mac"])
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestDoctorFailsWithoutModelCredentials(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "doctor")
	if err == nil {
		t.Fatal("expected doctor failure without a model api key")
	}
	for _, want := range []string{"[WARN] config_file:", "[PASS] config_load:", "[FAIL] model_provider:", "[PASS] audit_db:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestDoctorPassesWithModelCredentials(t *testing.T) {
	isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	out, err := runRootCommand(t, "doctor")
	if err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[WARN] mfa:") {
		t.Fatalf("expected mfa warning, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("debug").String(); got != "DEBUG" {
		t.Fatalf("debug -> %s", got)
	}
	if got := parseLevel("nonsense").String(); got != "INFO" {
		t.Fatalf("nonsense -> %s", got)
	}
}
