package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func writeTestConfig(t *testing.T, path string, data string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

const validConfig = `listen:
  http: "127.0.0.1:0"
auth:
  provider: gotrue
  url: "https://abcd.supabase.co"
  public_key: "anon-key-secret"
routes:
  protected: ["/dashboard", "/settings"]
  auth_only: ["/login"]
  skip: ["/static/"]
log:
  level: "info"
  format: "json"
`

// withFlags resets the global flags after the test.
func withFlags(t *testing.T, cfgPath string) {
	t.Helper()

	oldCfg, oldExit, oldLevel, oldFormat := configFile, overrideExitCode, logLevel, logFormat
	t.Cleanup(func() {
		configFile = oldCfg
		overrideExitCode = oldExit
		logLevel = oldLevel
		logFormat = oldFormat
	})
	configFile = cfgPath
	overrideExitCode = -1
	logLevel = ""
	logFormat = ""
}

func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd, &stdout, &stderr
}

func TestRunCheckConfig_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeTestConfig(t, cfgPath, validConfig)
	withFlags(t, cfgPath)

	cmd, stdout, _ := newTestCommand()
	if err := runCheckConfig(cmd, nil); err != nil {
		t.Fatalf("runCheckConfig failed: %v", err)
	}
	if overrideExitCode != -1 {
		t.Fatalf("overrideExitCode = %d, want -1 (unset)", overrideExitCode)
	}

	out := stdout.String()
	if !strings.Contains(out, "Session gating:  enabled") {
		t.Errorf("expected gating to be reported enabled, got:\n%s", out)
	}
	if strings.Contains(out, "anon-key-secret") {
		t.Error("public key must be redacted in the summary")
	}
}

func TestRunCheckConfig_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeTestConfig(t, cfgPath, `auth:
  provider: "ldap"
`)
	withFlags(t, cfgPath)

	cmd, _, stderr := newTestCommand()
	if err := runCheckConfig(cmd, nil); err != nil {
		t.Fatalf("runCheckConfig returned error: %v", err)
	}
	if overrideExitCode != ExitConfig {
		t.Fatalf("overrideExitCode = %d, want %d", overrideExitCode, ExitConfig)
	}
	if !strings.Contains(stderr.String(), "auth.provider") {
		t.Errorf("expected provider error, got:\n%s", stderr.String())
	}
}

func TestRunCheckConfig_MissingFile(t *testing.T) {
	withFlags(t, filepath.Join(t.TempDir(), "missing.yaml"))

	cmd, _, _ := newTestCommand()
	if err := runCheckConfig(cmd, nil); err != nil {
		t.Fatalf("runCheckConfig returned error: %v", err)
	}
	if overrideExitCode != ExitConfig {
		t.Fatalf("overrideExitCode = %d, want %d", overrideExitCode, ExitConfig)
	}
}

func TestRunCheckConfig_GatingDisabled(t *testing.T) {
	t.Setenv("INVENTORY_AUTH_URL", "")
	t.Setenv("INVENTORY_AUTH_PUBLIC_KEY", "")
	withFlags(t, "")

	cmd, stdout, _ := newTestCommand()
	if err := runCheckConfig(cmd, nil); err != nil {
		t.Fatalf("runCheckConfig failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "DISABLED") {
		t.Errorf("expected gating to be reported disabled, got:\n%s", stdout.String())
	}
}

func TestRunClassify(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeTestConfig(t, cfgPath, validConfig)
	withFlags(t, cfgPath)

	cmd, stdout, _ := newTestCommand()
	paths := []string{"/dashboard/vehicles", "/settings", "/login", "/vehicles", "/static/app.js", "/auth/callback"}
	if err := runClassify(cmd, paths); err != nil {
		t.Fatalf("runClassify failed: %v", err)
	}

	want := strings.Join([]string{
		"/dashboard/vehicles\tprotected",
		"/settings\tprotected",
		"/login\tauth_only",
		"/vehicles\tpublic",
		"/static/app.js\tskipped",
		"/auth/callback\tskipped",
	}, "\n") + "\n"
	if stdout.String() != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", stdout.String(), want)
	}
}

func TestLoadEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	writeTestConfig(t, envPath, "INVENTORY_TEST_FROM_ENV_FILE=loaded\n")
	t.Cleanup(func() { _ = os.Unsetenv("INVENTORY_TEST_FROM_ENV_FILE") })

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}
	if got := os.Getenv("INVENTORY_TEST_FROM_ENV_FILE"); got != "loaded" {
		t.Errorf("expected variable from env file, got %q", got)
	}

	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestRunVersion(t *testing.T) {
	cmd, stdout, _ := newTestCommand()
	runVersion(cmd, nil)

	if !strings.Contains(stdout.String(), "inventory-web version dev") {
		t.Errorf("unexpected version output: %s", stdout.String())
	}
}
