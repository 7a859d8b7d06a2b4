package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/units"

	"autocopy/internal/config"
	"autocopy/internal/lims"
	"autocopy/internal/logging"
	"autocopy/internal/notifications"
	"autocopy/internal/rundir"
	"autocopy/internal/testsupport"
	"autocopy/internal/transfer"
	"autocopy/internal/workflow"
)

type fakeProcess struct {
	pid      int
	exitCode int
	exited   bool
	killed   bool
	killErr  error
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Poll() (int, bool) { return p.exitCode, p.exited }

func (p *fakeProcess) Kill() error {
	if p.killErr != nil {
		return p.killErr
	}
	p.killed = true
	p.exited = true
	p.exitCode = -1
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.exited = true
	p.exitCode = code
}

type fakeLauncher struct {
	requests  []transfer.Request
	procs     []*fakeProcess
	marked    []transfer.Request
	launchErr error
	markErr   error
}

func (l *fakeLauncher) Launch(_ context.Context, req transfer.Request) (transfer.Process, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	proc := &fakeProcess{pid: 1000 + len(l.procs)}
	l.requests = append(l.requests, req)
	l.procs = append(l.procs, proc)
	return proc, nil
}

func (l *fakeLauncher) MarkComplete(_ context.Context, req transfer.Request) error {
	l.marked = append(l.marked, req)
	return l.markErr
}

// procFor returns the most recent process launched for the run.
func (l *fakeLauncher) procFor(name string) *fakeProcess {
	for i := len(l.requests) - 1; i >= 0; i-- {
		if l.requests[i].RunName == name {
			return l.procs[i]
		}
	}
	return nil
}

func (l *fakeLauncher) launchesFor(name string) int {
	n := 0
	for _, req := range l.requests {
		if req.RunName == name {
			n++
		}
	}
	return n
}

type fakeOracle struct {
	records     map[string]*lims.Record
	errs        map[string]error
	lookups     map[string]int
	failedFlags []string
	started     []string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		records: make(map[string]*lims.Record),
		errs:    make(map[string]error),
		lookups: make(map[string]int),
	}
}

func (o *fakeOracle) RunInfo(_ context.Context, name string) (*lims.Record, error) {
	o.lookups[name]++
	if err := o.errs[name]; err != nil {
		return nil, err
	}
	record, ok := o.records[name]
	if !ok {
		return nil, lims.ErrNotFound
	}
	return record, nil
}

func (o *fakeOracle) MarkSequencingFailed(_ context.Context, name string) error {
	o.failedFlags = append(o.failedFlags, name)
	return nil
}

func (o *fakeOracle) MarkAnalysisStarted(_ context.Context, name string) error {
	o.started = append(o.started, name)
	return nil
}

// matchingRecord is the LIMS view of testsupport.DefaultRunDir.
func matchingRecord(name string) *lims.Record {
	return &lims.Record{
		RunName:              name,
		SequencingInstrument: "M00123",
		SequencerSoftware:    "miseq_control_software_2_6_2_1",
		PairedEnd:            true,
		Read1Cycles:          151,
		Read2Cycles:          151,
		IndexRead:            true,
		SequencingStatus:     "sequencing done",
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notifications.Message
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

// find returns messages whose subject starts with prefix.
func (n *recordingNotifier) find(prefix string) []notifications.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifications.Message
	for _, msg := range n.messages {
		if strings.HasPrefix(msg.Subject, prefix) {
			out = append(out, msg)
		}
	}
	return out
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type env struct {
	t        *testing.T
	cfg      *config.Config
	root     string
	launcher *fakeLauncher
	oracle   *fakeOracle
	notifier *recordingNotifier
	clock    *fakeClock
	free     map[string]int64
	manager  *workflow.Manager
}

type envOption func(*envSetup)

type envSetup struct {
	cfgOpts  []testsupport.ConfigOption
	noOracle bool
	evidence workflow.Evidence
	history  workflow.History
}

func withConfig(opts ...testsupport.ConfigOption) envOption {
	return func(s *envSetup) { s.cfgOpts = append(s.cfgOpts, opts...) }
}

func withoutOracle() envOption {
	return func(s *envSetup) { s.noOracle = true }
}

func withEvidence(e workflow.Evidence) envOption {
	return func(s *envSetup) { s.evidence = e }
}

func withHistory(h workflow.History) envOption {
	return func(s *envSetup) { s.history = h }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	setup := &envSetup{}
	for _, opt := range opts {
		opt(setup)
	}

	cfg := testsupport.NewConfig(t, setup.cfgOpts...)
	e := &env{
		t:        t,
		cfg:      cfg,
		root:     testsupport.RunRoot(cfg),
		launcher: &fakeLauncher{},
		oracle:   newFakeOracle(),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2020, 1, 2, 8, 0, 0, 0, time.UTC)},
		free:     make(map[string]int64),
	}

	managerOpts := []workflow.ManagerOption{
		workflow.WithLauncher(e.launcher),
		workflow.WithNotifier(e.notifier),
		workflow.WithClock(e.clock.Now),
		workflow.WithFreeSpace(e.freeSpace),
		workflow.WithSessionID("test-session"),
	}
	if !setup.noOracle {
		managerOpts = append(managerOpts, workflow.WithOracle(e.oracle))
	}
	if setup.evidence != nil {
		managerOpts = append(managerOpts, workflow.WithEvidence(setup.evidence))
	}
	if setup.history != nil {
		managerOpts = append(managerOpts, workflow.WithHistory(setup.history))
	}
	e.manager = workflow.NewManager(cfg, logging.NewNop(), managerOpts...)
	if err := e.manager.PrepareRoots(); err != nil {
		t.Fatalf("PrepareRoots: %v", err)
	}
	return e
}

func (e *env) freeSpace(path string) (int64, error) {
	if free, ok := e.free[path]; ok {
		return free, nil
	}
	return int64(10 * units.TiB), nil
}

func (e *env) writeRun(name string, opts testsupport.RunDirOptions) string {
	e.t.Helper()
	return testsupport.WriteRunDir(e.t, e.root, name, opts)
}

func (e *env) cycle() {
	e.t.Helper()
	if err := e.manager.RunCycle(context.Background()); err != nil {
		e.t.Fatalf("RunCycle: %v", err)
	}
}

func (e *env) status(name string) (workflow.RunStatus, bool) {
	for _, st := range e.manager.Runs() {
		if st.Name == name {
			return st, true
		}
	}
	return workflow.RunStatus{}, false
}

func (e *env) copyingCount() int {
	n := 0
	for _, st := range e.manager.Runs() {
		if st.PID != 0 {
			n++
		}
	}
	return n
}

func (e *env) completedPath(name string) string {
	return filepath.Join(e.root, e.cfg.Workflow.CompletedSubdir, name)
}

func (e *env) abortedPath(name string) string {
	return filepath.Join(e.root, e.cfg.Workflow.AbortedSubdir, name)
}

// panickyEvidence panics when asked whether the named run is finished.
type panickyEvidence struct {
	*rundir.Reader
	name string
}

func (p panickyEvidence) IsFinished(path string) bool {
	if filepath.Base(path) == p.name {
		panic("corrupt run directory " + p.name)
	}
	return p.Reader.IsFinished(path)
}

var errNetwork = errors.New("dial tcp 10.0.0.1:443: connect: network is unreachable")
