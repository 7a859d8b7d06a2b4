package config

// Overrides carries the command-line switches that disable external effects.
type Overrides struct {
	NoCopy  bool
	NoLIMS  bool
	NoEmail bool
	DryRun  bool
}

// WithOverrides returns a copy of the configuration with the switches applied.
// DryRun implies all three.
func (c *Config) WithOverrides(o Overrides) *Config {
	out := *c
	if o.DryRun {
		o.NoCopy, o.NoLIMS, o.NoEmail = true, true, true
	}
	if o.NoCopy {
		out.Copy.MaxProcesses = 0
	}
	if o.NoLIMS {
		out.LIMS.Enabled = false
	}
	if o.NoEmail {
		out.Notifications.Enabled = false
	}
	return &out
}
