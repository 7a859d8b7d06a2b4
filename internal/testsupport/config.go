package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"autocopy/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// One run root is created under the temp dir; LIMS and notifications are
// disabled so tests opt in explicitly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RunRoots = []string{filepath.Join(base, "runs")}
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Copy.DestHost = "localhost"
	cfgVal.Copy.DestUser = "autocopy"
	cfgVal.Copy.DestGroup = "autocopy"
	cfgVal.Copy.DestRunRoot = "/remote/runs"
	cfgVal.LIMS.Enabled = false
	cfgVal.Notifications.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, root := range builder.cfg.Paths.RunRoots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			t.Fatalf("mkdir run root %s: %v", root, err)
		}
	}

	return builder.cfg
}

// WithMaxProcesses overrides the transfer concurrency cap.
func WithMaxProcesses(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Copy.MaxProcesses = n
	}
}

// WithRunRoots replaces the run roots with the named subdirectories of the
// temp dir.
func WithRunRoots(names ...string) ConfigOption {
	return func(b *configBuilder) {
		roots := make([]string, 0, len(names))
		for _, name := range names {
			roots = append(roots, filepath.Join(b.baseDir, name))
		}
		b.cfg.Paths.RunRoots = roots
	}
}

// WithLIMS enables the status oracle at url.
func WithLIMS(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LIMS.Enabled = true
		b.cfg.LIMS.URL = url
		b.cfg.LIMS.Token = "test-token"
		b.cfg.LIMS.RequestTimeout = 2
	}
}

// WithMissingRunPolicy sets the policy applied to runs that vanish from disk.
func WithMissingRunPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MissingRunPolicy = policy
	}
}

// WithStubbedBinaries writes stub executables that exit 0 for the provided
// names and prepends them to PATH. If names is empty, rsync and ssh are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"rsync", "ssh"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			StubBinary(b.t, binDir, name, "exit 0\n")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// StubBinary writes an executable /bin/sh script named name into dir and
// returns its path. body is appended after the shebang line.
func StubBinary(t testing.TB, dir, name, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}

// RunRoot returns the first configured run root.
func RunRoot(cfg *config.Config) string {
	return cfg.Paths.RunRoots[0]
}
