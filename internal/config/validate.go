package config

import (
	"errors"
	"fmt"
	"regexp"
)

var cmdlineSafe = regexp.MustCompile(`^[0-9a-zA-Z./_~-]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCopy(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLIMS(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if len(c.Paths.RunRoots) == 0 {
		return errors.New("paths.run_roots must include at least one directory")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateCopy() error {
	fields := []struct {
		key   string
		value string
	}{
		{"copy.dest_host", c.Copy.DestHost},
		{"copy.dest_user", c.Copy.DestUser},
		{"copy.dest_group", c.Copy.DestGroup},
		{"copy.dest_run_root", c.Copy.DestRunRoot},
	}
	for _, field := range fields {
		if !cmdlineSafe.MatchString(field.value) {
			return fmt.Errorf("%s %q must match %s", field.key, field.value, cmdlineSafe.String())
		}
	}
	if c.Copy.DestHost == "" {
		return errors.New("copy.dest_host must be set")
	}
	if c.Copy.DestUser == "" {
		return errors.New("copy.dest_user must be set")
	}
	if c.Copy.MaxProcesses < 0 {
		return errors.New("copy.max_processes must be >= 0")
	}
	return ensurePositive(map[string]int{
		"copy.restart_after_seconds": c.Copy.RestartAfterSeconds,
		"copy.marker_timeout":        c.Copy.MarkerTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositive(map[string]int{
		"workflow.poll_interval":            c.Workflow.PollInterval,
		"workflow.freespace_check_interval": c.Workflow.FreespaceCheckInterval,
		"workflow.summary_interval":         c.Workflow.SummaryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.CompletedSubdir == "" || c.Workflow.AbortedSubdir == "" {
		return errors.New("workflow.completed_subdir and workflow.aborted_subdir must be set")
	}
	if c.Workflow.CompletedSubdir == c.Workflow.AbortedSubdir {
		return errors.New("workflow.completed_subdir and workflow.aborted_subdir must differ")
	}
	switch c.Workflow.MissingRunPolicy {
	case MissingRunForget, MissingRunNotify:
	default:
		return fmt.Errorf("workflow.missing_run_policy must be %q or %q", MissingRunForget, MissingRunNotify)
	}
	return nil
}

func (c *Config) validateLIMS() error {
	if !c.LIMS.Enabled {
		return nil
	}
	if c.LIMS.URL == "" {
		return errors.New("lims.url is required when lims.enabled is true (set UHTS_LIMS_URL or pass --no-lims)")
	}
	if c.LIMS.RequestTimeout <= 0 {
		return errors.New("lims.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if !c.Notifications.Enabled {
		return nil
	}
	if c.Notifications.SMTPServer != "" {
		if c.Notifications.SMTPPort <= 0 || c.Notifications.SMTPPort > 65535 {
			return errors.New("notifications.smtp_port must be between 1 and 65535 when smtp_server is set")
		}
		if len(c.Notifications.EmailTo) == 0 {
			return errors.New("notifications.email_to must include at least one address when smtp_server is set")
		}
		if c.Notifications.EmailFrom == "" {
			return errors.New("notifications.email_from must be set when smtp_server is set")
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func ensurePositive(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
