package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autocopy/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autocopy.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("UHTS_LIMS_URL", "https://lims.test/")
	t.Setenv("UHTS_LIMS_TOKEN", "secret")
	t.Setenv("AUTOCOPY_SMTP_PORT", "2525")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".local", "share", "autocopy", "logs"); cfg.Paths.LogDir != want {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, want)
	}
	if cfg.LIMS.URL != "https://lims.test" {
		t.Fatalf("expected trailing slash trimmed from env url, got %q", cfg.LIMS.URL)
	}
	if cfg.LIMS.Token != "secret" {
		t.Fatalf("expected LIMS token from env, got %q", cfg.LIMS.Token)
	}
	if cfg.Notifications.SMTPPort != 2525 {
		t.Fatalf("expected SMTP port from env, got %d", cfg.Notifications.SMTPPort)
	}
	if cfg.Copy.MaxProcesses != 2 {
		t.Fatalf("unexpected max processes default: %d", cfg.Copy.MaxProcesses)
	}
	if cfg.Copy.DestRunRoot != "~/copied_runs" {
		t.Fatalf("remote run root must not be expanded locally, got %q", cfg.Copy.DestRunRoot)
	}
	if cfg.MinFreeSpaceBytes() != 2<<40 {
		t.Fatalf("unexpected min free space: %d", cfg.MinFreeSpaceBytes())
	}
	if len(cfg.Paths.RunRoots) != 1 || !filepath.IsAbs(cfg.Paths.RunRoots[0]) {
		t.Fatalf("expected one absolute default run root, got %v", cfg.Paths.RunRoots)
	}
}

func TestLoadRequiresLIMSURLWhenEnabled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("UHTS_LIMS_URL", "")

	_, _, _, err := config.Load("")
	if err == nil || !strings.Contains(err.Error(), "lims.url") {
		t.Fatalf("expected lims.url validation error, got %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	path := writeConfig(t, `
[paths]
run_roots = ["`+root+`", "`+root+`/"]

[copy]
dest_host = "cluster.example.org"
dest_user = "seq"
max_processes = 4
restart_after_seconds = 7200

[workflow]
min_free_space = "500GiB"
missing_run_policy = "NOTIFY"

[lims]
enabled = false
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config file %q to be used, got %q (exists=%v)", path, resolved, exists)
	}
	if len(cfg.Paths.RunRoots) != 1 || cfg.Paths.RunRoots[0] != root {
		t.Fatalf("expected duplicate roots collapsed, got %v", cfg.Paths.RunRoots)
	}
	if cfg.Copy.DestHost != "cluster.example.org" || cfg.Copy.DestUser != "seq" {
		t.Fatalf("unexpected destination: %s@%s", cfg.Copy.DestUser, cfg.Copy.DestHost)
	}
	if cfg.Copy.MaxProcesses != 4 {
		t.Fatalf("unexpected max processes: %d", cfg.Copy.MaxProcesses)
	}
	if cfg.StallThreshold().Hours() != 2 {
		t.Fatalf("unexpected stall threshold: %s", cfg.StallThreshold())
	}
	if cfg.MinFreeSpaceBytes() != 500<<30 {
		t.Fatalf("unexpected min free space: %d", cfg.MinFreeSpaceBytes())
	}
	if cfg.Workflow.MissingRunPolicy != config.MissingRunNotify {
		t.Fatalf("expected policy normalized to lowercase, got %q", cfg.Workflow.MissingRunPolicy)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, `
[copy]
dest_hots = "typo"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsUnsafeDestination(t *testing.T) {
	cfg := config.Default()
	cfg.LIMS.Enabled = false
	cfg.Copy.DestUser = "seq"
	cfg.Copy.DestRunRoot = "/data; rm -rf /"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "copy.dest_run_root") {
		t.Fatalf("expected dest_run_root rejection, got %v", err)
	}
}

func TestValidateRejectsUnknownMissingRunPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.LIMS.Enabled = false
	cfg.Copy.DestUser = "seq"
	cfg.Workflow.MissingRunPolicy = "panic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid policy to fail validation")
	}
}

func TestValidateSMTPRequiresRecipients(t *testing.T) {
	cfg := config.Default()
	cfg.LIMS.Enabled = false
	cfg.Copy.DestUser = "seq"
	cfg.Notifications.SMTPServer = "smtp.example.org"
	cfg.Notifications.SMTPPort = 587
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "email_to") {
		t.Fatalf("expected email_to error, got %v", err)
	}
}

func TestWithOverridesDryRun(t *testing.T) {
	cfg := config.Default()
	out := cfg.WithOverrides(config.Overrides{DryRun: true})
	if out.Copy.MaxProcesses != 0 || out.LIMS.Enabled || out.Notifications.Enabled {
		t.Fatalf("dry run should disable copy, lims and email: %+v", out)
	}
	if cfg.Copy.MaxProcesses != 2 {
		t.Fatal("overrides must not mutate the source config")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Workflow.CompletedSubdir != "Runs_Completed" || cfg.Workflow.AbortedSubdir != "Runs_Aborted" {
		t.Fatalf("unexpected archive subdirs: %+v", cfg.Workflow)
	}
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(encoded), "dest_run_root") {
		t.Fatalf("expected encoded config to contain dest_run_root:\n%s", encoded)
	}
}
