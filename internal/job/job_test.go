package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsched/internal/shared"
)

func TestJob_NextRunExhaustion(t *testing.T) {
	j := New("limited", WithScheduler(nowScheduler{limit: 2}))

	require.NotNil(t, j.NextRun(nil))
	require.NotNil(t, j.NextRun(nil))
	assert.Nil(t, j.NextRun(nil))
	assert.Equal(t, 2, j.Len(), "exhausted scheduler must not grow the history")
}

func TestJob_NoSchedulerIsExhausted(t *testing.T) {
	j := New("manual")
	assert.Nil(t, j.NextRun(nil))
	assert.Zero(t, j.Len())
}

func TestJob_RunIDsAreSequential(t *testing.T) {
	j := New("seq", WithScheduler(nowScheduler{}))

	r1 := j.NextRun(nil)
	r2 := j.BuildRun()
	r3 := j.NextRun(r2)

	assert.Equal(t, "seq.1", r1.ID())
	assert.Equal(t, "seq.2", r2.ID())
	assert.Equal(t, "seq.3", r3.ID())

	got, err := j.Run("seq.2")
	require.NoError(t, err)
	assert.Same(t, r2, got)

	_, err = j.Run("seq.9")
	assert.True(t, shared.IsNotFound(err))
}

func TestJob_ScheduledStartRunsWhenNoPredecessor(t *testing.T) {
	clock := newFakeClock(testStart)
	node := &recordingNode{}
	j := New("solo", WithScheduler(nowScheduler{}), WithNode(node), WithClock(clock.Now))

	r := j.NextRun(nil)
	require.True(t, r.IsScheduled())
	require.NoError(t, r.ScheduledStart())

	assert.True(t, r.IsRunning())
	snap := r.Snapshot()
	require.NotNil(t, snap.StartTime)
	assert.Equal(t, testStart, *snap.StartTime)
	assert.Nil(t, snap.EndTime)
	assert.Equal(t, []*Run{r}, node.Executed())
}

func TestJob_QueueingPromotesSuccessor(t *testing.T) {
	node := &recordingNode{}
	j := New("queued", WithScheduler(nowScheduler{}), WithQueueing(true), WithNode(node))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	require.Same(t, r1, r2.Prev())

	require.NoError(t, r2.ScheduledStart())
	assert.True(t, r2.IsQueued())
	assert.Nil(t, r2.Snapshot().StartTime)

	require.NoError(t, r1.Succeed())
	assert.True(t, r1.IsSuccess())
	assert.True(t, r2.IsRunning())
	assert.Equal(t, []*Run{r1, r2}, node.Executed())
}

func TestJob_QueueingPromotesAfterFailure(t *testing.T) {
	j := New("queued", WithScheduler(nowScheduler{}), WithQueueing(true))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	require.NoError(t, r2.ScheduledStart())
	require.True(t, r2.IsQueued())

	require.NoError(t, r1.Fail(2))
	assert.True(t, r2.IsRunning())
}

func TestJob_QueuedRunsPromoteOneAtATime(t *testing.T) {
	j := New("fifo", WithScheduler(nowScheduler{}), WithQueueing(true))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	require.NoError(t, r2.ScheduledStart())
	r3 := j.NextRun(r2)
	require.NoError(t, r3.ScheduledStart())
	require.True(t, r2.IsQueued())
	require.True(t, r3.IsQueued())

	require.NoError(t, r1.Succeed())
	assert.True(t, r2.IsRunning())
	assert.True(t, r3.IsQueued(), "r3 waits for r2")

	require.NoError(t, r2.Succeed())
	assert.True(t, r3.IsRunning())
}

func TestJob_NonQueueingCancelsOverlap(t *testing.T) {
	node := &recordingNode{}
	j := New("strict", WithScheduler(nowScheduler{}), WithNode(node))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	require.NoError(t, r2.ScheduledStart())

	assert.True(t, r2.IsCancelled())
	snap := r2.Snapshot()
	assert.Nil(t, snap.StartTime)
	assert.Nil(t, snap.EndTime)
	assert.Nil(t, snap.ExitStatus)
	assert.Equal(t, []*Run{r1}, node.Executed())
}

func TestJob_PrevSkipsCancelledRuns(t *testing.T) {
	j := New("skip", WithScheduler(nowScheduler{}))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	require.NoError(t, r2.ScheduledStart())
	require.True(t, r2.IsCancelled())

	r3 := j.NextRun(r2)
	assert.Same(t, r1, r3.Prev())
	r4 := j.NextRun(nil)
	assert.Same(t, r3, r4.Prev())
	r5 := j.BuildRun()
	assert.Same(t, r4, r5.Prev())
}

func TestJob_PrevNilWhenAllCancelled(t *testing.T) {
	j := New("empty", WithScheduler(nowScheduler{}))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.Cancel())
	r2 := j.NextRun(r1)
	assert.Nil(t, r2.Prev())
}

func TestJob_ForcedStartIgnoresPredecessor(t *testing.T) {
	j := New("forced", WithScheduler(nowScheduler{}))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.BuildRun()
	require.NoError(t, r2.Start())

	assert.True(t, r1.IsRunning())
	assert.True(t, r2.IsRunning())
}

func TestJob_CancelNotStarted(t *testing.T) {
	j := New("cancel", WithScheduler(nowScheduler{}), WithQueueing(true))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.Cancel())
	assert.True(t, r1.IsCancelled())
	assert.Nil(t, r1.Snapshot().EndTime)

	err := r1.ScheduledStart()
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateCancelled, terr.From)
}

func TestJob_CancelRunningKillsAndPromotes(t *testing.T) {
	clock := newFakeClock(testStart)
	node := &recordingNode{}
	j := New("kill", WithScheduler(nowScheduler{}), WithQueueing(true), WithNode(node), WithClock(clock.Now))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	require.NoError(t, r2.ScheduledStart())
	require.True(t, r2.IsQueued())

	clock.Advance(time.Minute)
	require.NoError(t, r1.Cancel())

	snap := r1.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	require.NotNil(t, snap.EndTime)
	assert.Equal(t, testStart.Add(time.Minute), *snap.EndTime)
	require.NotNil(t, snap.ExitStatus)
	assert.Equal(t, ExitKilled, *snap.ExitStatus)
	assert.Equal(t, []*Run{r1}, node.Killed())
	assert.True(t, r2.IsRunning())
}

func TestJob_TerminalStatesAreFinal(t *testing.T) {
	j := New("final")

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.NoError(t, r.Succeed(0))
	before := r.Snapshot()

	for name, op := range map[string]func() error{
		"succeed":         func() error { return r.Succeed() },
		"fail":            func() error { return r.Fail(1) },
		"cancel":          r.Cancel,
		"start":           r.Start,
		"scheduled start": r.ScheduledStart,
	} {
		err := op()
		assert.True(t, errors.Is(err, shared.ErrInvalidTransition), name)
		assert.True(t, shared.IsInvalidTransition(err), name)
	}
	assert.Equal(t, before, r.Snapshot())
}

func TestJob_SucceedRequiresRunning(t *testing.T) {
	j := New("early")
	r := j.BuildRun()

	err := r.Succeed()
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateScheduled, terr.From)
	assert.Equal(t, StateSuccess, terr.To)
	assert.True(t, r.IsScheduled())
}

func TestJob_ExitStatusRecorded(t *testing.T) {
	j := New("exit")

	ok := j.BuildRun()
	require.NoError(t, ok.Start())
	require.NoError(t, ok.Succeed())
	assert.Equal(t, 0, *ok.Snapshot().ExitStatus)

	bad := j.BuildRun()
	require.NoError(t, bad.Start())
	require.NoError(t, bad.Fail(3))
	assert.True(t, bad.IsFailed())
	assert.Equal(t, 3, *bad.Snapshot().ExitStatus)
	assert.True(t, bad.IsDone())
}

func TestJob_DependantsTriggeredOnSuccessOnly(t *testing.T) {
	depNode := &recordingNode{}
	parent := New("parent")
	child := New("child", WithNode(depNode))
	parent.AddDependant(child)
	assert.Equal(t, []*Job{child}, parent.Dependants())

	failed := parent.BuildRun()
	require.NoError(t, failed.Start())
	require.NoError(t, failed.Fail(1))
	assert.Zero(t, child.Len())

	ok := parent.BuildRun()
	require.NoError(t, ok.Start())
	require.NoError(t, ok.Succeed())

	require.Equal(t, 1, child.Len())
	dr := child.LastRun()
	assert.True(t, dr.IsRunning())
	assert.Equal(t, []*Run{dr}, depNode.Executed())
}

func TestJob_DependantChain(t *testing.T) {
	a := New("a")
	b := New("b")
	c := New("c")
	a.AddDependant(b)
	b.AddDependant(c)

	r := a.BuildRun()
	require.NoError(t, r.Start())
	require.NoError(t, r.Succeed())
	require.Equal(t, 1, b.Len())
	assert.Zero(t, c.Len())

	require.NoError(t, b.LastRun().Succeed())
	require.Equal(t, 1, c.Len())
	assert.True(t, c.LastRun().IsRunning())
}

func TestJob_ResourceGating(t *testing.T) {
	clock := newFakeClock(testStart)
	res := &flagResource{}
	j := New("gated", WithScheduler(stepScheduler{step: time.Hour}), WithResources(res), WithClock(clock.Now))

	r := j.NextRun(nil)
	assert.False(t, r.ShouldStart(), "resource not ready")

	res.Set(true)
	assert.True(t, r.ShouldStart())

	next := j.NextRun(r)
	assert.False(t, next.ShouldStart(), "not due yet")
	clock.Advance(time.Hour)
	assert.True(t, next.ShouldStart())

	extra := &flagResource{}
	j.AddResource(extra)
	assert.False(t, next.ShouldStart())
	assert.Len(t, j.Resources(), 2)
	assert.True(t, next.IsScheduled(), "ShouldStart has no side effects")
}

func TestJob_CommandRenderedAtConstruction(t *testing.T) {
	clock := newFakeClock(testStart)
	j := New("render", WithCommand("run %(jobname)s %(runid)s %(shortdate-1)s %(daynumber)s"), WithClock(clock.Now))

	r := j.BuildRun()
	clock.Advance(48 * time.Hour)

	assert.Equal(t, "run render render.1 2024-03-14 738960", r.Command())
	assert.Equal(t, r.Command(), r.Snapshot().Command)
}

func TestJob_RunsByState(t *testing.T) {
	j := New("states", WithScheduler(nowScheduler{}))

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(r1)
	r3 := j.NextRun(r2)

	assert.Equal(t, []*Run{r1}, j.RunsByState(StateRunning))
	assert.Equal(t, []*Run{r2, r3}, j.RunsByState(StateScheduled))
	assert.Empty(t, j.RunsByState(StateSuccess))
	assert.Equal(t, []*Run{r1, r2, r3}, j.Runs())
}

func TestJob_HooksSeeEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var states []State
	hooks := Hooks{OnTransition: func(jobName string, snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "hooked", jobName)
		states = append(states, snap.State)
	}}
	j := New("hooked", WithHooks(hooks))

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.NoError(t, r.Fail(1))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateScheduled, StateRunning, StateFailed}, states)
}

func TestJob_ReportAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := New("served")
	done := make(chan struct{})
	go func() {
		j.Serve(ctx)
		close(done)
	}()

	ok := j.BuildRun()
	require.NoError(t, ok.Start())
	require.NoError(t, j.Report(ctx, ok, 0))

	bad := j.BuildRun()
	require.NoError(t, bad.Start())
	require.NoError(t, j.Report(ctx, bad, 7))

	require.Eventually(t, func() bool {
		return ok.IsSuccess() && bad.IsFailed()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, *bad.Snapshot().ExitStatus)

	cancel()
	<-done
}

func TestJob_ReportIgnoredAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := New("late")
	go j.Serve(ctx)

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.NoError(t, r.Cancel())
	require.NoError(t, j.Report(ctx, r, 0))

	assert.Never(t, func() bool { return !r.IsCancelled() }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, ExitKilled, *r.Snapshot().ExitStatus)
}

func TestJob_RestoreRoundTrip(t *testing.T) {
	clock := newFakeClock(testStart)
	src := New("persist", WithScheduler(nowScheduler{}), WithClock(clock.Now), WithCommand("echo %(runid)s"))

	r1 := src.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	clock.Advance(time.Second)
	require.NoError(t, r1.Succeed())
	r2 := src.NextRun(nil)
	require.NoError(t, r2.ScheduledStart())
	r3 := src.NextRun(nil)

	dst := New("persist", WithScheduler(nowScheduler{}), WithClock(clock.Now))
	for _, r := range src.Runs() {
		_, err := dst.Restore(r.ID(), r.Snapshot())
		require.NoError(t, err)
	}

	require.Equal(t, src.Len(), dst.Len())
	for i, r := range dst.Runs() {
		assert.Equal(t, src.Runs()[i].Snapshot(), r.Snapshot())
	}

	restored3, err := dst.Run(r3.ID())
	require.NoError(t, err)
	require.NotNil(t, restored3.Prev())
	assert.Equal(t, r2.ID(), restored3.Prev().ID())

	// restored runs keep their state machine
	restored2, err := dst.Run(r2.ID())
	require.NoError(t, err)
	require.NoError(t, restored2.Fail(1))
	assert.True(t, restored2.IsFailed())

	assert.Equal(t, "persist.4", dst.BuildRun().ID())
}

func TestJob_RestoreAdvancesSequence(t *testing.T) {
	j := New("fill")
	r, err := j.Restore("fill.5", Snapshot{ID: "fill.5", State: StateScheduled, ScheduledTime: testStart})
	require.NoError(t, err)
	assert.Equal(t, "fill.5", r.ID())
	assert.Equal(t, "fill.6", j.BuildRun().ID())
}

func TestJob_RestoreRejectsDuplicate(t *testing.T) {
	j := New("dup")
	r := j.BuildRun()

	_, err := j.Restore(r.ID(), r.Snapshot())
	require.Error(t, err)
	assert.True(t, shared.IsIntegrity(err))
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, 1, j.Len())
}

func TestJob_RestoreRejectsMalformed(t *testing.T) {
	start := testStart
	end := testStart.Add(-time.Second)
	code := 0

	tests := []struct {
		name string
		id   string
		snap Snapshot
	}{
		{"unknown state", "m.1", Snapshot{ID: "m.1", State: "PAUSED", ScheduledTime: testStart}},
		{"missing scheduled time", "m.1", Snapshot{ID: "m.1", State: StateScheduled}},
		{"scheduled with start", "m.1", Snapshot{ID: "m.1", State: StateScheduled, ScheduledTime: testStart, StartTime: &start}},
		{"running without start", "m.1", Snapshot{ID: "m.1", State: StateRunning, ScheduledTime: testStart}},
		{"success without exit", "m.1", Snapshot{ID: "m.1", State: StateSuccess, ScheduledTime: testStart, StartTime: &start, EndTime: &start}},
		{"ends before start", "m.1", Snapshot{ID: "m.1", State: StateFailed, ScheduledTime: testStart, StartTime: &start, EndTime: &end, ExitStatus: &code}},
		{"id mismatch", "m.2", Snapshot{ID: "m.1", State: StateScheduled, ScheduledTime: testStart}},
		{"missing id", "m.1", Snapshot{State: StateScheduled, ScheduledTime: testStart}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New("m")
			_, err := j.Restore(tt.id, tt.snap)
			require.Error(t, err)
			assert.True(t, shared.IsIntegrity(err))
			assert.Zero(t, j.Len())
		})
	}
}

func TestJob_OutputPath(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, "", New("none").OutputPath())
	assert.Equal(t, filepath.Join(dir, "Test Job.out"), New("Test Job", WithOutputDir(dir)).OutputPath())

	file := filepath.Join(dir, "custom.log")
	assert.Equal(t, file, New("Test Job", WithOutputDir(file)).OutputPath())
}

func TestJob_StartCreatesOutputFile(t *testing.T) {
	dir := t.TempDir()
	j := New("Test Job", WithOutputDir(dir))
	defer j.Close()

	r := j.BuildRun()
	require.NoError(t, r.Start())

	_, err := os.Stat(filepath.Join(dir, "Test Job.out"))
	require.NoError(t, err)

	require.NoError(t, r.Succeed())
	data, err := os.ReadFile(filepath.Join(dir, "Test Job.out"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Test Job.1 started")
	assert.Contains(t, string(data), "Test Job.1 finished: SUCCESS")
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := New("a")
	b := New("b")

	require.NoError(t, reg.Add(a))
	require.NoError(t, reg.Add(b))
	assert.True(t, shared.IsConflict(reg.Add(New("a"))))

	got, err := reg.Get("b")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = reg.Get("zzz")
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, []*Job{a, b}, reg.List())
	assert.NoError(t, reg.Close())
}

func TestJob_ResumePromotesRestoredQueue(t *testing.T) {
	node := &recordingNode{}
	j := New("resume", WithQueueing(true), WithNode(node))
	start, end, code := testStart, testStart.Add(time.Minute), 0

	_, err := j.Restore("resume.1", Snapshot{ID: "resume.1", State: StateSuccess, ScheduledTime: testStart, StartTime: &start, EndTime: &end, ExitStatus: &code})
	require.NoError(t, err)
	queued, err := j.Restore("resume.2", Snapshot{ID: "resume.2", State: StateQueued, ScheduledTime: testStart})
	require.NoError(t, err)
	assert.Empty(t, node.Executed(), "restore never dispatches")

	j.Resume()
	assert.True(t, queued.IsRunning())
	assert.Equal(t, []*Run{queued}, node.Executed())
}

func TestMergeHooks(t *testing.T) {
	var got []string
	h := MergeHooks(
		Hooks{OnTransition: func(name string, s Snapshot) { got = append(got, "a:"+s.ID+":"+s.State.String()) }},
		Hooks{},
		Hooks{OnTransition: func(name string, s Snapshot) { got = append(got, "b:"+name) }},
	)
	j := New("merged", WithHooks(h))
	j.BuildRun()
	assert.Equal(t, []string{"a:merged.1:SCHEDULED", "b:merged"}, got)

	assert.Nil(t, MergeHooks(Hooks{}).OnTransition)
}

func TestJob_StartRunStartsImmediately(t *testing.T) {
	node := &recordingNode{}
	j := New("manual", WithQueueing(true), WithNode(node))

	r1, err := j.StartRun()
	require.NoError(t, err)
	r2, err := j.StartRun()
	require.NoError(t, err)

	assert.True(t, r1.IsRunning())
	assert.True(t, r2.IsRunning())
	assert.Same(t, r1, r2.Prev())
	assert.Equal(t, []*Run{r1, r2}, node.Executed())
}

func TestJob_NextRunLinksRunsCreatedMeanwhile(t *testing.T) {
	gate := newGateScheduler()
	j := New("x", WithScheduler(gate), WithQueueing(true))

	r1, err := j.StartRun()
	require.NoError(t, err)
	require.NoError(t, r1.Succeed())

	next := make(chan *Run, 1)
	go func() { next <- j.NextRun(nil) }()
	<-gate.entered

	manual := make(chan *Run, 1)
	go func() {
		r, err := j.StartRun()
		assert.NoError(t, err)
		manual <- r
	}()
	// StartRun has to wait for the scheduler
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	scheduled := <-next
	forced := <-manual
	require.NotNil(t, scheduled)
	require.NotNil(t, forced)

	assert.Equal(t, "x.2", scheduled.ID())
	assert.Equal(t, "x.3", forced.ID())
	assert.Same(t, r1, scheduled.Prev())
	assert.Same(t, scheduled, forced.Prev())
}

func TestJob_ConcurrentOperationsKeepHistoryConsistent(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]State)
	hooks := Hooks{OnTransition: func(_ string, snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen[snap.ID] = append(seen[snap.ID], snap.State)
	}}
	// queueing never cancels, so every run must link to the one created just before it
	j := New("race", WithScheduler(nowScheduler{}), WithQueueing(true), WithHooks(hooks))

	const workers, rounds = 8, 48
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				switch (w + i) % 4 {
				case 0:
					if r := j.NextRun(nil); r != nil {
						_ = r.ScheduledStart()
					}
				case 1:
					_, _ = j.StartRun()
				case 2:
					_ = j.BuildRun()
				case 3:
					for _, r := range j.RunsByState(StateRunning) {
						_ = r.Succeed()
					}
				}
			}
		}(w)
	}
	wg.Wait()

	runs := j.Runs()
	require.Len(t, runs, workers*rounds*3/4)
	for i, r := range runs {
		assert.Equal(t, fmt.Sprintf("race.%d", i+1), r.ID())
		if i == 0 {
			assert.Nil(t, r.Prev())
		} else {
			assert.Same(t, runs[i-1], r.Prev(), "run %s", r.ID())
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, len(runs))
	for id, states := range seen {
		require.NotEmpty(t, states)
		assert.Equal(t, StateScheduled, states[0], "run %s", id)
		for k := 1; k < len(states); k++ {
			assert.True(t, states[k-1].CanTransitionTo(states[k]), "run %s: %s -> %s", id, states[k-1], states[k])
		}
	}
}

func TestJob_EndTimeNeverBeforeStart(t *testing.T) {
	tests := []struct {
		name   string
		finish func(r *Run) error
	}{
		{"fail", func(r *Run) error { return r.Fail(1) }},
		{"succeed", func(r *Run) error { return r.Succeed() }},
		{"cancel", func(r *Run) error { return r.Cancel() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(testStart)
			j := New("skew", WithClock(clock.Now))

			r, err := j.StartRun()
			require.NoError(t, err)
			// the wall clock steps back while the run is executing
			clock.Advance(-time.Hour)
			require.NoError(t, tt.finish(r))

			snap := r.Snapshot()
			require.NotNil(t, snap.StartTime)
			require.NotNil(t, snap.EndTime)
			assert.False(t, snap.EndTime.Before(*snap.StartTime))
			assert.Equal(t, testStart, *snap.EndTime)
			assert.NoError(t, snap.Validate())
		})
	}
}

func TestJob_DrainFreezesQueueAndDependants(t *testing.T) {
	dep := New("dep")
	j := New("drain", WithScheduler(nowScheduler{}), WithQueueing(true))
	j.AddDependant(dep)

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	r2 := j.NextRun(nil)
	require.NoError(t, r2.ScheduledStart())
	require.True(t, r2.IsQueued())

	j.Drain()
	require.NoError(t, r1.Succeed())

	assert.True(t, r2.IsQueued())
	assert.Nil(t, r2.Snapshot().StartTime)
	assert.Zero(t, dep.Len(), "dependants are not triggered while draining")

	j.Resume()
	assert.True(t, r2.IsQueued())

	_, err := j.StartRun()
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, 2, j.Len())
}
