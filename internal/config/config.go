package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	RunRoots []string `toml:"run_roots"`
	LogDir   string   `toml:"log_dir"`
	StateDir string   `toml:"state_dir"`
}

// Copy contains the remote destination and transfer command settings.
type Copy struct {
	DestHost            string   `toml:"dest_host"`
	DestUser            string   `toml:"dest_user"`
	DestGroup           string   `toml:"dest_group"`
	DestRunRoot         string   `toml:"dest_run_root"`
	MaxProcesses        int      `toml:"max_processes"`
	RsyncBinary         string   `toml:"rsync_binary"`
	SSHBinary           string   `toml:"ssh_binary"`
	Excludes            []string `toml:"excludes"`
	Chmod               string   `toml:"chmod"`
	RestartAfterSeconds int      `toml:"restart_after_seconds"`
	MarkerTimeout       int      `toml:"marker_timeout"`
}

// Workflow contains control loop timing and archive layout settings.
type Workflow struct {
	PollInterval           int    `toml:"poll_interval"`
	FreespaceCheckInterval int    `toml:"freespace_check_interval"`
	SummaryInterval        int    `toml:"summary_interval"`
	MinFreeSpace           string `toml:"min_free_space"`
	CompletedSubdir        string `toml:"completed_subdir"`
	AbortedSubdir          string `toml:"aborted_subdir"`
	MissingRunPolicy       string `toml:"missing_run_policy"`
}

// LIMS contains the status oracle connection settings.
type LIMS struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	APIVersion     string `toml:"api_version"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Notifications contains operator notification settings. Mail is sent when
// smtp_server is set; ntfy push is sent when ntfy_topic is set.
type Notifications struct {
	Enabled        bool     `toml:"enabled"`
	EmailTo        []string `toml:"email_to"`
	EmailFrom      string   `toml:"email_from"`
	SMTPServer     string   `toml:"smtp_server"`
	SMTPPort       int      `toml:"smtp_port"`
	SMTPUsername   string   `toml:"smtp_username"`
	SMTPToken      string   `toml:"smtp_token"`
	NtfyTopic      string   `toml:"ntfy_topic"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Autocopy.
//
// Configuration sections by subsystem:
//   - Paths: monitored run roots, log and state directories
//   - Copy: remote destination and rsync/ssh invocation
//   - Workflow: poll and housekeeping intervals, archive subdirectories
//   - LIMS: status oracle connection
//   - Notifications: SMTP mail and ntfy push settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Copy          Copy          `toml:"copy"`
	Workflow      Workflow      `toml:"workflow"`
	LIMS          LIMS          `toml:"lims"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`

	minFreeSpace int64
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/autocopy/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// local path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autocopy.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns the fixed sleep between control loop iterations.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// FreespaceCheckInterval returns the minimum time between free-space checks.
func (c *Config) FreespaceCheckInterval() time.Duration {
	return time.Duration(c.Workflow.FreespaceCheckInterval) * time.Second
}

// SummaryInterval returns the minimum time between status summaries.
func (c *Config) SummaryInterval() time.Duration {
	return time.Duration(c.Workflow.SummaryInterval) * time.Second
}

// StallThreshold returns how long a transfer may run before it is presumed hung.
func (c *Config) StallThreshold() time.Duration {
	return time.Duration(c.Copy.RestartAfterSeconds) * time.Second
}

// MarkerTimeout bounds the remote completion marker command.
func (c *Config) MarkerTimeout() time.Duration {
	return time.Duration(c.Copy.MarkerTimeout) * time.Second
}

// LIMSTimeout bounds a single status oracle request.
func (c *Config) LIMSTimeout() time.Duration {
	return time.Duration(c.LIMS.RequestTimeout) * time.Second
}

// MinFreeSpaceBytes returns the parsed free-space warning threshold.
func (c *Config) MinFreeSpaceBytes() int64 {
	if c.minFreeSpace > 0 {
		return c.minFreeSpace
	}
	parsed, err := units.ParseStrictBytes(c.Workflow.MinFreeSpace)
	if err != nil {
		return 0
	}
	return parsed
}

// DaemonLogPath returns the dated daemon log file under the log directory.
func (c *Config) DaemonLogPath(now time.Time) string {
	return filepath.Join(c.Paths.LogDir, fmt.Sprintf("autocopy_%s.log", now.Format("060102")))
}

// TransferLogDir is where each transfer's rsync output is appended.
func (c *Config) TransferLogDir() string {
	return filepath.Join(c.Paths.LogDir, "transfers")
}

// LedgerPath returns the SQLite transfer ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "autocopy.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "autocopy.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func currentUserAndGroup() (string, string) {
	u, err := user.Current()
	if err != nil {
		return "", ""
	}
	group := ""
	if g, err := user.LookupGroupId(u.Gid); err == nil {
		group = g.Name
	}
	return u.Username, group
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML, with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	if masked.LIMS.Token != "" {
		masked.LIMS.Token = "***"
	}
	if masked.Notifications.SMTPToken != "" {
		masked.Notifications.SMTPToken = "***"
	}
	return toml.Marshal(masked)
}
