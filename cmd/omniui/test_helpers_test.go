package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"omniui/internal/config"
	"omniui/internal/testsupport"
)

type cliTestEnv struct {
	backend    *testsupport.Backend
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv(config.BaseURLEnv, "")
	t.Chdir(base)

	backend := testsupport.NewBackend(t)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, backend.URL())

	return &cliTestEnv{backend: backend, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.configPath)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path, baseURL string) {
	t.Helper()
	content := fmt.Sprintf(
		"[api]\nbase_url = %q\ntimeout_seconds = 5\n\n[generation]\npoll_interval_ms = 10\n\n[logging]\nlevel = \"error\"\n",
		baseURL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
