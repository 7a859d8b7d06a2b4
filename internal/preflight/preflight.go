package preflight

import (
	"context"
	"fmt"

	"autocopy/internal/config"
	"autocopy/internal/lims"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	for _, status := range CheckBinaries([]Requirement{
		{Name: "rsync", Command: cfg.Copy.RsyncBinary, Description: "Required for run transfers"},
		{Name: "ssh", Command: cfg.Copy.SSHBinary, Description: "Required for transfers and completion markers"},
	}) {
		detail := status.Description
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}

	for _, root := range cfg.Paths.RunRoots {
		results = append(results, CheckDirectoryAccess("Run root", root))
		results = append(results, CheckFreeSpace(fmt.Sprintf("Free space %s", root), root, cfg.MinFreeSpaceBytes()))
	}
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.LIMS.Enabled {
		client := lims.NewClient(lims.Config{
			URL:        cfg.LIMS.URL,
			Token:      cfg.LIMS.Token,
			APIVersion: cfg.LIMS.APIVersion,
			Timeout:    cfg.LIMSTimeout(),
		}, lims.WithRetryBackoff(0, 0))
		results = append(results, CheckLIMS(ctx, client))
	}

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
