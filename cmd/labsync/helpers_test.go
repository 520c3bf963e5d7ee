package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	configPath string
	localRoot  string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) cliTestEnv {
	t.Helper()
	base := t.TempDir()
	localRoot := filepath.Join(base, "local")
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		t.Fatalf("mkdir local root: %v", err)
	}

	content := fmt.Sprintf(`[paths]
local_roots = [%q]
staging_root = %q
scratch_dir = %q
log_dir = %q

[database]
path = %q

[upload]
storage = "data"
parallelism = 2

[storage.data]
protocol = "local"
folder = %q

[worker]
host = "cli-test"

[logging]
level = "error"
`,
		localRoot,
		filepath.Join(base, "staging"),
		filepath.Join(base, "scratch"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "labsync.db"),
		filepath.Join(base, "remote"),
	)

	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cliTestEnv{configPath: configPath, localRoot: localRoot, baseDir: base}
}

func runCLI(t *testing.T, env cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("output %q does not contain %q", haystack, needle)
	}
}
