// Package config loads, normalizes, and validates Autocopy configuration.
//
// Configuration is read from TOML (default ~/.config/autocopy/config.toml or
// ./autocopy.toml), overlaid with environment variables for LIMS and SMTP
// credentials, and then normalized so every local path is absolute. The
// resulting *Config is treated as immutable: the daemon and its components
// receive it at construction and never mutate it afterwards.
//
// Keep new settings grouped by subsystem and give every one a default in
// defaults.go plus a check in validate.go.
package config
