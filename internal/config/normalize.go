package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/units"
)

// applyEnv overlays credentials that are conventionally supplied through the
// environment rather than the config file.
func (c *Config) applyEnv() {
	if value, ok := lookupEnv("UHTS_LIMS_URL"); ok {
		c.LIMS.URL = value
	}
	if value, ok := lookupEnv("UHTS_LIMS_TOKEN"); ok {
		c.LIMS.Token = value
	}
	if value, ok := lookupEnv("AUTOCOPY_SMTP_SERVER"); ok {
		c.Notifications.SMTPServer = value
	}
	if value, ok := lookupEnv("AUTOCOPY_SMTP_PORT"); ok {
		if port, err := strconv.Atoi(value); err == nil {
			c.Notifications.SMTPPort = port
		}
	}
	if value, ok := lookupEnv("AUTOCOPY_SMTP_USERNAME"); ok {
		c.Notifications.SMTPUsername = value
	}
	if value, ok := lookupEnv("AUTOCOPY_SMTP_TOKEN"); ok {
		c.Notifications.SMTPToken = value
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCopy()
	if err := c.normalizeWorkflow(); err != nil {
		return err
	}
	c.normalizeLIMS()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	roots := make([]string, 0, len(c.Paths.RunRoots))
	seen := make(map[string]struct{}, len(c.Paths.RunRoots))
	for _, root := range c.Paths.RunRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(root))
		if err != nil {
			return fmt.Errorf("paths.run_roots: %w", err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		roots = append(roots, expanded)
	}
	c.Paths.RunRoots = roots

	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

// normalizeCopy trims the remote settings. DestRunRoot is a remote path, so
// "~" is left for the remote shell to expand.
func (c *Config) normalizeCopy() {
	c.Copy.DestHost = strings.TrimSpace(c.Copy.DestHost)
	c.Copy.DestUser = strings.TrimSpace(c.Copy.DestUser)
	c.Copy.DestGroup = strings.TrimSpace(c.Copy.DestGroup)
	c.Copy.DestRunRoot = strings.TrimRight(strings.TrimSpace(c.Copy.DestRunRoot), "/")
	if c.Copy.DestRunRoot == "" {
		c.Copy.DestRunRoot = defaultDestRunRoot
	}
	c.Copy.RsyncBinary = strings.TrimSpace(c.Copy.RsyncBinary)
	if c.Copy.RsyncBinary == "" {
		c.Copy.RsyncBinary = defaultRsyncBinary
	}
	c.Copy.SSHBinary = strings.TrimSpace(c.Copy.SSHBinary)
	if c.Copy.SSHBinary == "" {
		c.Copy.SSHBinary = defaultSSHBinary
	}
	c.Copy.Chmod = strings.TrimSpace(c.Copy.Chmod)
	excludes := c.Copy.Excludes[:0]
	for _, pattern := range c.Copy.Excludes {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			excludes = append(excludes, pattern)
		}
	}
	c.Copy.Excludes = excludes
}

func (c *Config) normalizeWorkflow() error {
	c.Workflow.CompletedSubdir = strings.Trim(strings.TrimSpace(c.Workflow.CompletedSubdir), "/")
	c.Workflow.AbortedSubdir = strings.Trim(strings.TrimSpace(c.Workflow.AbortedSubdir), "/")
	c.Workflow.MissingRunPolicy = strings.ToLower(strings.TrimSpace(c.Workflow.MissingRunPolicy))
	if c.Workflow.MissingRunPolicy == "" {
		c.Workflow.MissingRunPolicy = MissingRunForget
	}
	if strings.TrimSpace(c.Workflow.MinFreeSpace) == "" {
		c.Workflow.MinFreeSpace = defaultMinFreeSpace
	}
	parsed, err := units.ParseStrictBytes(strings.TrimSpace(c.Workflow.MinFreeSpace))
	if err != nil {
		return fmt.Errorf("workflow.min_free_space: %w", err)
	}
	c.minFreeSpace = parsed
	return nil
}

func (c *Config) normalizeLIMS() {
	c.LIMS.URL = strings.TrimRight(strings.TrimSpace(c.LIMS.URL), "/")
	c.LIMS.Token = strings.TrimSpace(c.LIMS.Token)
	c.LIMS.APIVersion = strings.TrimSpace(c.LIMS.APIVersion)
	if c.LIMS.APIVersion == "" {
		c.LIMS.APIVersion = defaultLIMSAPIVersion
	}
}

func (c *Config) normalizeNotifications() {
	recipients := make([]string, 0, len(c.Notifications.EmailTo))
	for _, addr := range c.Notifications.EmailTo {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	c.Notifications.EmailTo = recipients
	c.Notifications.EmailFrom = strings.TrimSpace(c.Notifications.EmailFrom)
	c.Notifications.SMTPServer = strings.TrimSpace(c.Notifications.SMTPServer)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
