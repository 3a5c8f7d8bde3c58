package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobsched/internal/platform/logger"
	"jobsched/internal/shared"
)

// ExitKilled is the exit status recorded for runs cancelled while running
// and for runs lost by a previous process.
const ExitKilled = -1

// Hooks contains optional callbacks for observability and persistence.
type Hooks struct {
	// OnTransition is called with the run's new snapshot after every
	// transition, while the job lock is held. It must not block or call
	// back into the job.
	OnTransition func(jobName string, snap Snapshot)
}

// MergeHooks calls every non-nil callback of hs in order.
func MergeHooks(hs ...Hooks) Hooks {
	var fns []func(string, Snapshot)
	for _, h := range hs {
		if h.OnTransition != nil {
			fns = append(fns, h.OnTransition)
		}
	}
	if len(fns) == 0 {
		return Hooks{}
	}
	return Hooks{OnTransition: func(jobName string, snap Snapshot) {
		for _, fn := range fns {
			fn(jobName, snap)
		}
	}}
}

// Option configures a Job.
type Option func(*Job)

// WithCommand sets the command template.
func WithCommand(tmpl string) Option {
	return func(j *Job) { j.command = tmpl }
}

// WithScheduler sets the scheduler. A job without one never produces scheduled runs.
func WithScheduler(s Scheduler) Option {
	return func(j *Job) { j.scheduler = s }
}

// WithQueueing selects whether overlapping runs are queued (true) or cancelled (false).
func WithQueueing(q bool) Option {
	return func(j *Job) { j.queueing = q }
}

// WithResources attaches resource gates.
func WithResources(rs ...Resource) Option {
	return func(j *Job) { j.resources = append(j.resources, rs...) }
}

// WithNode sets the execution target.
func WithNode(n Node) Option {
	return func(j *Job) { j.node = n }
}

// WithOutputDir sets the log destination: a directory or a file path.
func WithOutputDir(dir string) Option {
	return func(j *Job) { j.outputDir = dir }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithHooks sets transition hooks.
func WithHooks(h Hooks) Option {
	return func(j *Job) { j.hooks = h }
}

type completion struct {
	run        *Run
	exitStatus int
}

// Job owns the history of its runs and reacts to their completion.
type Job struct {
	name      string
	command   string
	scheduler Scheduler
	queueing  bool
	node      Node
	outputDir string
	now       func() time.Time
	logger    *slog.Logger
	hooks     Hooks

	// createMu serializes run creation: picking prev, asking the scheduler
	// and appending happen as one step. Taken before mu, never inside it.
	createMu sync.Mutex

	mu         sync.Mutex
	draining   bool
	runs       []*Run
	byID       map[string]*Run
	seq        int
	resources  []Resource
	dependants []*Job

	completions chan completion

	outMu  sync.Mutex
	output io.WriteCloser
}

// New creates a job named name.
func New(name string, opts ...Option) *Job {
	j := &Job{
		name:        name,
		now:         time.Now,
		logger:      slog.Default(),
		byID:        make(map[string]*Run),
		completions: make(chan completion, 64),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("job", name)
	return j
}

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// CommandTemplate returns the unrendered command.
func (j *Job) CommandTemplate() string { return j.command }

// Queueing reports the overlap policy.
func (j *Job) Queueing() bool { return j.queueing }

// Now returns the current time of the job's clock.
func (j *Job) Now() time.Time { return j.now() }

// AddResource attaches a resource gate.
func (j *Job) AddResource(r Resource) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resources = append(j.resources, r)
}

// Resources returns the attached resource gates.
func (j *Job) Resources() []Resource {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Resource(nil), j.resources...)
}

// AddDependant registers a job to trigger after every successful run.
func (j *Job) AddDependant(d *Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dependants = append(j.dependants, d)
}

// Dependants returns the jobs triggered on success.
func (j *Job) Dependants() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Job(nil), j.dependants...)
}

// Runs returns the history in creation order.
func (j *Job) Runs() []*Run {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Run(nil), j.runs...)
}

// RunsByState returns the runs currently in state, in creation order.
func (j *Job) RunsByState(state State) []*Run {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*Run
	for _, r := range j.runs {
		if r.state == state {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of runs in the history.
func (j *Job) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.runs)
}

// LastRun returns the most recent run, or nil.
func (j *Job) LastRun() *Run {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.runs) == 0 {
		return nil
	}
	return j.runs[len(j.runs)-1]
}

// Run returns the run with the given id.
func (j *Job) Run(id string) (*Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %q of job %q", shared.ErrNotFound, id, j.name)
	}
	return r, nil
}

// BuildRun creates a run due now without consulting the scheduler. It is
// linked to the most recent non-cancelled run in the history.
func (j *Job) BuildRun() *Run {
	j.createMu.Lock()
	defer j.createMu.Unlock()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.newRunLocked(j.now(), j.latestActiveLocked())
}

// StartRun builds a run due now and starts it in the same critical section,
// so no poll can schedule it in between. Used for manual and
// dependency-triggered runs. A draining job refuses new runs.
func (j *Job) StartRun() (*Run, error) {
	var fx effects
	j.createMu.Lock()
	j.mu.Lock()
	if j.draining {
		j.mu.Unlock()
		j.createMu.Unlock()
		return nil, fmt.Errorf("%w: job %q is shutting down", shared.ErrConflict, j.name)
	}
	r := j.newRunLocked(j.now(), j.latestActiveLocked())
	j.startLocked(r, &fx)
	j.mu.Unlock()
	j.createMu.Unlock()

	j.apply(fx)
	return r, nil
}

// NextRun asks the scheduler for the time of the run following prev (the
// most recent run in the history, whatever created it, when prev is nil)
// and appends a SCHEDULED run for it. It returns nil without touching the
// history when no run is due.
//
// No other run can be appended between reading prev and appending the new
// run. The scheduler runs without the state lock and may query the job.
func (j *Job) NextRun(prev *Run) *Run {
	if j.scheduler == nil {
		return nil
	}
	j.createMu.Lock()
	defer j.createMu.Unlock()

	if prev == nil {
		prev = j.LastRun()
	}
	at, ok := j.scheduler.NextRunTime(j, prev)
	if !ok {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.newRunLocked(at, resolvePrev(prev))
}

// Restore rebuilds a run from a snapshot and appends it to the history
// without running the scheduler, the node or any dependant. The snapshot
// must carry id. Malformed snapshots and duplicate ids are integrity
// errors and leave the history unchanged.
func (j *Job) Restore(id string, snap Snapshot) (*Run, error) {
	if snap.ID != id {
		return nil, shared.MarkKind(
			fmt.Errorf("restore %q: snapshot belongs to run %q", id, snap.ID), shared.KindIntegrity)
	}
	if err := snap.Validate(); err != nil {
		return nil, shared.Wrapf(err, "restore %q", id)
	}

	j.createMu.Lock()
	defer j.createMu.Unlock()
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, dup := j.byID[id]; dup {
		return nil, shared.MarkKind(
			shared.MarkKind(fmt.Errorf("restore %q: run id already in history of %q", id, j.name), shared.KindIntegrity),
			shared.KindConflict)
	}

	r := &Run{
		id:            snap.ID,
		job:           j,
		prev:          j.latestActiveLocked(),
		command:       snap.Command,
		scheduledTime: snap.ScheduledTime,
		state:         snap.State,
		startTime:     copyTime(snap.StartTime),
		endTime:       copyTime(snap.EndTime),
		exitStatus:    copyInt(snap.ExitStatus),
	}
	j.appendLocked(r)
	if n, ok := j.sequenceOf(id); ok && n > j.seq {
		j.seq = n
	}
	return r, nil
}

// Resume starts the oldest queued run whose predecessor has already
// finished. Restored histories need it since no transition triggered the
// promotion in this process.
func (j *Job) Resume() {
	var fx effects
	j.mu.Lock()
	j.promoteLocked(&fx)
	j.mu.Unlock()
	j.apply(fx)
}

// Drain freezes the job for shutdown: finished runs no longer promote
// queued runs or trigger dependants, and StartRun is refused. Queued runs
// stay QUEUED so the next process can resume them.
func (j *Job) Drain() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.draining = true
}

// Report delivers a node's completion of r into the job's mailbox. A zero
// exit status succeeds the run, anything else fails it. Serve applies it.
func (j *Job) Report(ctx context.Context, r *Run, exitStatus int) error {
	select {
	case j.completions <- completion{run: r, exitStatus: exitStatus}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve applies reported completions one at a time until ctx is done.
func (j *Job) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-j.completions:
			var err error
			if c.exitStatus == 0 {
				err = c.run.Succeed()
			} else {
				err = c.run.Fail(c.exitStatus)
			}
			if err != nil {
				// the run was cancelled while its command was still running
				j.logger.Debug("completion ignored", "run", c.run.id, "exit_status", c.exitStatus, "error", err)
			}
		}
	}
}

// OutputPath resolves the log destination: <dir>/<job name>.out when the
// output dir is a directory, the path itself otherwise, "" when unset.
func (j *Job) OutputPath() string {
	if j.outputDir == "" {
		return ""
	}
	if fi, err := os.Stat(j.outputDir); err == nil && fi.IsDir() {
		return filepath.Join(j.outputDir, j.name+".out")
	}
	return j.outputDir
}

// Output returns the writer receiving execution output, shared by all runs
// of the job. It discards everything when no destination is configured.
func (j *Job) Output() io.Writer {
	j.outMu.Lock()
	defer j.outMu.Unlock()
	if j.output != nil {
		return j.output
	}
	path := j.OutputPath()
	if path == "" {
		return io.Discard
	}
	j.output = logger.NewOutputFile(path)
	return j.output
}

// Close releases the output file.
func (j *Job) Close() error {
	j.outMu.Lock()
	defer j.outMu.Unlock()
	if j.output == nil {
		return nil
	}
	err := j.output.Close()
	j.output = nil
	return err
}

// effects are collected under the lock and applied after it is released.
type effects struct {
	started    []*Run
	finished   []*Run
	killed     []*Run
	dependants []*Job
}

func (j *Job) scheduledStart(r *Run) error {
	var fx effects
	j.mu.Lock()
	if r.state != StateScheduled {
		j.mu.Unlock()
		return &TransitionError{RunID: r.id, From: r.state, To: StateRunning}
	}
	switch {
	case r.prev == nil || r.prev.state.IsTerminal():
		j.startLocked(r, &fx)
	case j.queueing:
		j.setStateLocked(r, StateQueued)
	default:
		j.setStateLocked(r, StateCancelled)
	}
	j.mu.Unlock()

	j.apply(fx)
	return nil
}

func (j *Job) start(r *Run) error {
	var fx effects
	j.mu.Lock()
	if !r.state.CanTransitionTo(StateRunning) {
		j.mu.Unlock()
		return &TransitionError{RunID: r.id, From: r.state, To: StateRunning}
	}
	j.startLocked(r, &fx)
	j.mu.Unlock()

	j.apply(fx)
	return nil
}

func (j *Job) finish(r *Run, state State, status int) error {
	var fx effects
	j.mu.Lock()
	if r.state != StateRunning {
		j.mu.Unlock()
		return &TransitionError{RunID: r.id, From: r.state, To: state}
	}
	j.endLocked(r, state, status, &fx)
	if state == StateSuccess && !j.draining {
		fx.dependants = append(fx.dependants, j.dependants...)
	}
	j.mu.Unlock()

	j.apply(fx)
	return nil
}

func (j *Job) cancel(r *Run) error {
	var fx effects
	j.mu.Lock()
	switch r.state {
	case StateScheduled, StateQueued:
		j.setStateLocked(r, StateCancelled)
		j.promoteLocked(&fx)
	case StateRunning:
		j.endLocked(r, StateCancelled, ExitKilled, &fx)
		fx.killed = append(fx.killed, r)
	default:
		j.mu.Unlock()
		return &TransitionError{RunID: r.id, From: r.state, To: StateCancelled}
	}
	j.mu.Unlock()

	j.apply(fx)
	return nil
}

func (j *Job) startLocked(r *Run, fx *effects) {
	now := j.now()
	r.startTime = &now
	j.setStateLocked(r, StateRunning)
	fx.started = append(fx.started, r)
}

func (j *Job) endLocked(r *Run, state State, status int, fx *effects) {
	now := j.now()
	if r.startTime != nil && now.Before(*r.startTime) {
		now = *r.startTime
	}
	r.endTime = &now
	r.exitStatus = &status
	j.setStateLocked(r, state)
	fx.finished = append(fx.finished, r)
	j.promoteLocked(fx)
}

// promoteLocked starts the oldest queued run whose predecessor is gone or finished.
func (j *Job) promoteLocked(fx *effects) {
	if j.draining {
		return
	}
	for _, q := range j.runs {
		if q.state != StateQueued {
			continue
		}
		if q.prev == nil || q.prev.state.IsTerminal() {
			j.startLocked(q, fx)
			return
		}
	}
}

func (j *Job) setStateLocked(r *Run, s State) {
	j.logger.Debug("run transition", "run", r.id, "from", r.state, "to", s)
	r.state = s
	if j.hooks.OnTransition != nil {
		j.hooks.OnTransition(j.name, r.snapshotLocked())
	}
}

func (j *Job) apply(fx effects) {
	for _, r := range fx.finished {
		snap := r.Snapshot()
		j.logger.Info("run finished", "run", r.id, "state", snap.State, "exit_status", *snap.ExitStatus)
		fmt.Fprintf(j.Output(), "%s %s finished: %s (exit status %d)\n",
			snap.EndTime.Format(time.RFC3339), r.id, snap.State, *snap.ExitStatus)
	}
	for _, r := range fx.killed {
		if k, ok := j.node.(Killer); ok {
			k.Kill(r)
		}
	}
	for _, r := range fx.started {
		j.logger.Info("run started", "run", r.id, "command", r.command)
		fmt.Fprintf(j.Output(), "%s %s started: %s\n", j.now().Format(time.RFC3339), r.id, r.command)
		if j.node == nil {
			j.logger.Warn("job has no node, run waits for an external report", "run", r.id)
			continue
		}
		j.node.Execute(r)
	}
	for _, d := range fx.dependants {
		dr, err := d.StartRun()
		if err != nil {
			j.logger.Error("failed to start dependant run", "dependant", d.name, "error", err)
			continue
		}
		j.logger.Debug("dependant run started", "dependant", d.name, "run", dr.id)
	}
}

func (j *Job) newRunLocked(at time.Time, prev *Run) *Run {
	id := j.nextIDLocked()
	r := &Run{
		id:            id,
		job:           j,
		prev:          prev,
		command:       RenderCommand(j.command, Vars{JobName: j.name, RunID: id, Now: j.now()}),
		scheduledTime: at,
		state:         StateScheduled,
	}
	j.appendLocked(r)
	if j.hooks.OnTransition != nil {
		j.hooks.OnTransition(j.name, r.snapshotLocked())
	}
	return r
}

func (j *Job) appendLocked(r *Run) {
	j.runs = append(j.runs, r)
	j.byID[r.id] = r
}

func (j *Job) nextIDLocked() string {
	for {
		j.seq++
		id := j.name + "." + strconv.Itoa(j.seq)
		if _, taken := j.byID[id]; !taken {
			return id
		}
	}
}

func (j *Job) sequenceOf(id string) (int, bool) {
	suffix, ok := strings.CutPrefix(id, j.name+".")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	return n, err == nil
}

func (j *Job) latestActiveLocked() *Run {
	for i := len(j.runs) - 1; i >= 0; i-- {
		if j.runs[i].state != StateCancelled {
			return j.runs[i]
		}
	}
	return nil
}

// resolvePrev skips cancelled runs along the predecessor chain.
// Callers hold the lock of the job owning prev.
func resolvePrev(prev *Run) *Run {
	for prev != nil && prev.state == StateCancelled {
		prev = prev.prev
	}
	return prev
}
