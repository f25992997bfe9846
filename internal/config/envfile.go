package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileCandidates lists the dotenv files Load consults, in priority order.
// NETCLAW_ENV_FILE comes first when set.
func EnvFileCandidates() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" {
			return
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(strings.TrimSpace(os.Getenv("NETCLAW_ENV_FILE")))
	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", "netclaw", "env"))
		add(filepath.Join(home, ConfigDir, ".env"))
	}
	add(".env")
	return out
}

// LoadEnvFileCandidates loads every candidate that exists. A variable already
// set in the process, or by an earlier file, keeps its value.
func LoadEnvFileCandidates() []string {
	var loaded []string
	for _, p := range EnvFileCandidates() {
		if err := loadEnvFile(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	vars, err := parseEnv(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, kv := range vars {
		if _, exists := os.LookupEnv(kv[0]); exists {
			continue
		}
		_ = os.Setenv(kv[0], kv[1])
	}
	return nil
}

// parseEnv reads KEY=value lines. Blank lines, # comments and lines without
// '=' are skipped; an "export " prefix is allowed. Quoted values are taken
// verbatim, unquoted values end at " #".
func parseEnv(r io.Reader) ([][2]string, error) {
	var out [][2]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out = append(out, [2]string{key, envValue(strings.TrimSpace(val))})
	}
	return out, sc.Err()
}

func envValue(v string) string {
	if len(v) >= 2 {
		if q := v[0]; (q == '"' || q == '\'') && v[len(v)-1] == q {
			return v[1 : len(v)-1]
		}
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
