package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autocopy/internal/config"
	"autocopy/internal/ledger"
	"autocopy/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Workflow.MinFreeSpace = "1KiB"
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
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

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[copy]")
	requireContains(t, out, "dest_host")
	requireContains(t, out, "localhost")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[copy]\nmax_processes = -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStatusWithoutDaemonOrHistory(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon:  not running")
	requireContains(t, out, "No transfer history recorded")
	if _, err := os.Stat(env.cfg.LedgerPath()); !os.IsNotExist(err) {
		t.Fatalf("status created the ledger: %v", err)
	}
}

func TestStatusListsLedgerHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenLedger(t, env.cfg)
	ctx := context.Background()
	started := time.Date(2020, 1, 2, 8, 0, 0, 0, time.UTC)

	id, err := store.RecordStart(ctx, ledger.Attempt{
		RunName:     "200101_M00123_0001_000000000-ABCDE",
		Root:        testsupport.RunRoot(env.cfg),
		Destination: "localhost:/remote/runs",
		PID:         4321,
		StartedAt:   started,
	})
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := store.RecordFinish(ctx, id, ledger.OutcomeSucceeded, 0, started.Add(90*time.Minute)); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}
	if err := store.RecordMove(ctx, ledger.Move{
		RunName: "200101_M00123_0001_000000000-ABCDE",
		Kind:    ledger.MoveCompleted,
		From:    "/runs/200101_M00123_0001_000000000-ABCDE",
		To:      "/runs/Runs_Completed/200101_M00123_0001_000000000-ABCDE",
		MovedAt: started.Add(91 * time.Minute),
	}); err != nil {
		t.Fatalf("RecordMove: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Recent transfers")
	requireContains(t, out, "200101_M00123_0001_000000000-ABCDE")
	requireContains(t, out, "succeeded")
	requireContains(t, out, "1h30m0s")
	requireContains(t, out, "4321")
	requireContains(t, out, "Recent moves")
	requireContains(t, out, "Runs_Completed")
}

func TestSummaryRequiresRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"summary"}, env.configPath)
	if err == nil {
		t.Fatal("expected summary to fail without a daemon")
	}
	requireContains(t, err.Error(), "not running")
	requireContains(t, err.Error(), "autocopy run")
}

func TestCheckCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "rsync:")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "All checks passed")

	missing := setupCLITestEnv(t)
	missing.cfg.Copy.RsyncBinary = "autocopy-missing-rsync"
	writeTestConfig(t, missing.configPath, missing.cfg)
	out, _, err = runCLI(t, []string{"check"}, missing.configPath)
	if err == nil {
		t.Fatal("expected check to fail with a missing binary")
	}
	requireContains(t, out, "[FAIL]")
}

func TestArchiveCommandExitStatusCountsFailures(t *testing.T) {
	root := t.TempDir()
	run := testsupport.WriteRunDir(t, root, "200101_M00123_0001_000000000-ABCDE", testsupport.DefaultRunDir())
	dest := filepath.Join(t.TempDir(), "tarballs")

	out, _, err := runCLI(t, []string{"archive", "--dest-dir", dest, run}, "")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	requireContains(t, out, filepath.Join(dest, "200101_M00123_0001_000000000-ABCDE.tar.gz"))

	_, stderr, err := runCLI(t, []string{"archive", "--dest-dir", dest, filepath.Join(root, "missing"), filepath.Join(root, "also-missing")}, "")
	var exit exitError
	if !errors.As(err, &exit) || exit.code != 2 {
		t.Fatalf("archive error = %v, want exit status 2", err)
	}
	requireContains(t, stderr, "failed")
}
