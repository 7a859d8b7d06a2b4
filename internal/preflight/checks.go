package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"golang.org/x/sys/unix"

	"autocopy/internal/lims"
)

// limsProbeRun is a run name no LIMS holds; a 404 proves the API answers.
const limsProbeRun = "000000_autocopy_preflight"

// Requirement defines an external binary the daemon relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// BinaryStatus reports the availability of a binary.
type BinaryStatus struct {
	Requirement
	Available bool
	Detail    string
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []BinaryStatus {
	results := make([]BinaryStatus, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := BinaryStatus{Requirement: req}
		switch {
		case req.Command == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(req.Command); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", req.Command)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// FormatGB renders a byte count the way operator messages report it.
func FormatGB(bytes int64) string {
	return fmt.Sprintf("%0.1f GB", float64(bytes)/float64(units.GiB))
}

// CheckFreeSpace passes when path has at least min bytes available.
func CheckFreeSpace(name, path string, min int64) Result {
	free, err := FreeSpace(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free (warning below %s)", FormatGB(free), FormatGB(min))
	return Result{Name: name, Passed: free >= min, Detail: detail}
}

// RunInfoFetcher is the LIMS lookup the reachability check needs.
type RunInfoFetcher interface {
	RunInfo(ctx context.Context, runName string) (*lims.Record, error)
}

// CheckLIMS verifies that the LIMS API answers with a 10-second timeout and
// a single attempt.
func CheckLIMS(ctx context.Context, client RunInfoFetcher) Result {
	const name = "LIMS"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.RunInfo(checkCtx, limsProbeRun)
	switch {
	case err == nil, errors.Is(err, lims.ErrNotFound):
		return Result{Name: name, Passed: true, Detail: "API reachable"}
	case errors.Is(err, context.DeadlineExceeded):
		return Result{Name: name, Detail: "request timed out (LIMS unresponsive)"}
	default:
		return Result{Name: name, Detail: err.Error()}
	}
}
