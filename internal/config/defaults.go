package config

const (
	defaultLogDir                 = "~/.local/share/autocopy/logs"
	defaultStateDir               = "~/.local/share/autocopy"
	defaultDestHost               = "localhost"
	defaultDestRunRoot            = "~/copied_runs"
	defaultMaxProcesses           = 2
	defaultRsyncBinary            = "rsync"
	defaultSSHBinary              = "ssh"
	defaultChmod                  = "Dug=rwX,Do=rX,Fug=rw,Fo=r"
	defaultRestartAfterSeconds    = 3600 * 24
	defaultMarkerTimeout          = 60
	defaultPollInterval           = 600
	defaultFreespaceCheckInterval = 3600
	defaultSummaryInterval        = 3600 * 24
	defaultMinFreeSpace           = "2TiB"
	defaultCompletedSubdir        = "Runs_Completed"
	defaultAbortedSubdir          = "Runs_Aborted"
	defaultLIMSAPIVersion         = "v1"
	defaultLIMSRequestTimeout     = 30
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	// MissingRunForget drops runs that vanished from disk with only a log line.
	MissingRunForget = "forget"
	// MissingRunNotify drops vanished runs and sends an operator message for each.
	MissingRunNotify = "notify"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	destUser, destGroup := currentUserAndGroup()
	return Config{
		Paths: Paths{
			RunRoots: []string{"."},
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Copy: Copy{
			DestHost:            defaultDestHost,
			DestUser:            destUser,
			DestGroup:           destGroup,
			DestRunRoot:         defaultDestRunRoot,
			MaxProcesses:        defaultMaxProcesses,
			RsyncBinary:         defaultRsyncBinary,
			SSHBinary:           defaultSSHBinary,
			Excludes:            []string{"Thumbnail_Images/"},
			Chmod:               defaultChmod,
			RestartAfterSeconds: defaultRestartAfterSeconds,
			MarkerTimeout:       defaultMarkerTimeout,
		},
		Workflow: Workflow{
			PollInterval:           defaultPollInterval,
			FreespaceCheckInterval: defaultFreespaceCheckInterval,
			SummaryInterval:        defaultSummaryInterval,
			MinFreeSpace:           defaultMinFreeSpace,
			CompletedSubdir:        defaultCompletedSubdir,
			AbortedSubdir:          defaultAbortedSubdir,
			MissingRunPolicy:       MissingRunForget,
		},
		LIMS: LIMS{
			Enabled:        true,
			APIVersion:     defaultLIMSAPIVersion,
			RequestTimeout: defaultLIMSRequestTimeout,
		},
		Notifications: Notifications{
			Enabled:        true,
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
