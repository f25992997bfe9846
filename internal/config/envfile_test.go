package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEnv(t *testing.T) {
	vars, err := parseEnv(strings.NewReader(`
# controller
export UNIFI_USERNAME=netops
UNIFI_PASSWORD="s3cret # not a comment"
SLACK_CHANNEL='#alerts'
LOG_LEVEL=debug # verbose while onboarding
INVALID_LINE
=novalue
`))
	if err != nil {
		t.Fatalf("parseEnv: %v", err)
	}
	want := [][2]string{
		{"UNIFI_USERNAME", "netops"},
		{"UNIFI_PASSWORD", "s3cret # not a comment"},
		{"SLACK_CHANNEL", "#alerts"},
		{"LOG_LEVEL", "debug"},
	}
	if len(vars) != len(want) {
		t.Fatalf("got %d vars %v, want %d", len(vars), vars, len(want))
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("var %d = %v, want %v", i, vars[i], want[i])
		}
	}
}

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "env")
	if err := os.WriteFile(envPath, []byte("UNIFI_SITE=branch\nUNIFI_USERNAME=fromfile\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("UNIFI_USERNAME", "fromenv")
	t.Setenv("UNIFI_SITE", "")
	_ = os.Unsetenv("UNIFI_SITE")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("UNIFI_USERNAME"); got != "fromenv" {
		t.Fatalf("expected process value preserved, got %q", got)
	}
	if got := os.Getenv("UNIFI_SITE"); got != "branch" {
		t.Fatalf("expected UNIFI_SITE loaded, got %q", got)
	}
}

func TestLoadEnvFileCandidatesFromExplicitPath(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "netclaw.env")
	if err := os.WriteFile(envPath, []byte("NETCLAW_EXPLICIT_KEY=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NETCLAW_ENV_FILE", envPath)
	t.Setenv("NETCLAW_EXPLICIT_KEY", "")
	_ = os.Unsetenv("NETCLAW_EXPLICIT_KEY")

	loaded := LoadEnvFileCandidates()

	if got := os.Getenv("NETCLAW_EXPLICIT_KEY"); got != "42" {
		t.Fatalf("expected key loaded from explicit env file, got %q", got)
	}
	if len(loaded) == 0 || loaded[0] != envPath {
		t.Fatalf("expected %s reported first, got %v", envPath, loaded)
	}
	if cands := EnvFileCandidates(); cands[0] != envPath {
		t.Fatalf("explicit file should be first candidate, got %v", cands)
	}
}
