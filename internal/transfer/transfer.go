package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"autocopy/internal/config"
)

const (
	// CompleteMarker is created in the remote run directory after a successful copy.
	CompleteMarker = "Autocopy_complete.txt"

	killWaitTimeout = 10 * time.Second
)

// ErrLaunch reports that the transfer command could not be started.
var ErrLaunch = errors.New("transfer launch failed")

// Request describes one transfer of a run directory.
type Request struct {
	RunName  string
	Source   string
	DestHost string
	DestUser string
	DestRoot string
}

// Destination returns the rsync remote target, host:root.
func (r Request) Destination() string {
	return fmt.Sprintf("%s:%s", r.DestHost, strings.TrimRight(r.DestRoot, "/"))
}

// RemoteRunPath returns the run directory path on the destination host.
func (r Request) RemoteRunPath() string {
	return path.Join(strings.TrimRight(r.DestRoot, "/"), r.RunName)
}

// Process is a handle on a running transfer.
type Process interface {
	PID() int
	// Poll reports the exit code once the process has exited.
	Poll() (exitCode int, exited bool)
	// Kill terminates the transfer and waits briefly for it to exit.
	Kill() error
}

// Launcher starts transfers and marks remote completion.
type Launcher interface {
	Launch(ctx context.Context, req Request) (Process, error)
	MarkComplete(ctx context.Context, req Request) error
}

// ExecLauncher runs rsync and ssh binaries.
type ExecLauncher struct {
	rsync         string
	ssh           string
	excludes      []string
	chmod         string
	logDir        string
	markerTimeout time.Duration
	now           func() time.Time
}

// NewExecLauncher builds a launcher from the copy configuration.
func NewExecLauncher(cfg *config.Config) *ExecLauncher {
	rsync := strings.TrimSpace(cfg.Copy.RsyncBinary)
	if rsync == "" {
		rsync = "rsync"
	}
	ssh := strings.TrimSpace(cfg.Copy.SSHBinary)
	if ssh == "" {
		ssh = "ssh"
	}
	timeout := cfg.MarkerTimeout()
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ExecLauncher{
		rsync:         rsync,
		ssh:           ssh,
		excludes:      append([]string(nil), cfg.Copy.Excludes...),
		chmod:         cfg.Copy.Chmod,
		logDir:        cfg.TransferLogDir(),
		markerTimeout: timeout,
		now:           time.Now,
	}
}

// Args returns the rsync argument list for req. The list is identical for
// every launch of the same request, so a relaunch after a kill or a crash
// resumes the copy.
func (l *ExecLauncher) Args(req Request) []string {
	args := []string{"-rlptc", "-e", fmt.Sprintf("%s -l %s", l.ssh, req.DestUser)}
	for _, exclude := range l.excludes {
		args = append(args, "--exclude="+exclude)
	}
	if l.chmod != "" {
		args = append(args, "--chmod="+l.chmod)
	}
	return append(args, strings.TrimRight(req.Source, "/"), req.Destination())
}

// LogPath returns the file the transfer's output is appended to.
func (l *ExecLauncher) LogPath(req Request) string {
	return filepath.Join(l.logDir, req.RunName+".log")
}

// Launch starts rsync for req. The child runs in its own process group and
// outlives ctx.
func (l *ExecLauncher) Launch(_ context.Context, req Request) (Process, error) {
	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create transfer log dir: %w", ErrLaunch, err)
	}
	logFile, err := os.OpenFile(l.LogPath(req), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open transfer log: %w", ErrLaunch, err)
	}

	args := l.Args(req)
	fmt.Fprintf(logFile, "[%s] %s %s\n", l.now().Format(time.RFC3339), l.rsync, strings.Join(args, " "))

	cmd := exec.Command(l.rsync, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, l.rsync, err)
	}

	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	go proc.wait(logFile)
	return proc, nil
}

// MarkComplete creates the completion marker inside the remote run directory.
func (l *ExecLauncher) MarkComplete(ctx context.Context, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, l.markerTimeout)
	defer cancel()

	target := path.Join(req.RemoteRunPath(), CompleteMarker)
	cmd := exec.CommandContext(ctx, l.ssh, "-l", req.DestUser, req.DestHost, "touch", target)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("create remote marker %s:%s: %w: %s", req.DestHost, target, err, strings.TrimSpace(string(output)))
	}
	return nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) wait(logFile *os.File) {
	err := p.cmd.Wait()
	code := -1
	if state := p.cmd.ProcessState; state != nil {
		code = state.ExitCode()
	}
	if err != nil && code == 0 {
		code = -1
	}
	_ = logFile.Close()

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Poll() (int, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, true
	default:
		return 0, false
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	pid := p.PID()
	if pid <= 0 {
		return errors.New("kill transfer: process not started")
	}
	// The negative pid signals rsync and the ssh it spawned.
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill transfer %d: %w", pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killWaitTimeout):
		return fmt.Errorf("kill transfer %d: process did not exit within %s", pid, killWaitTimeout)
	}
}
