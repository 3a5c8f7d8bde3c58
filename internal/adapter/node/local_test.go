package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jobsched/internal/job"
	"jobsched/internal/schedule"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"))
}

type harness struct {
	node    *Local
	killAll context.CancelFunc
	dir     string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{node: NewLocal(ctx, opts...), killAll: cancel, dir: t.TempDir()}
}

func (h *harness) job(t *testing.T, name, command string) *job.Job {
	t.Helper()
	j := job.New(name, job.WithCommand(command), job.WithNode(h.node), job.WithOutputDir(h.dir))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		j.Serve(ctx)
	}()
	t.Cleanup(func() {
		h.node.Wait()
		cancel()
		<-served
		_ = j.Close()
	})
	return j
}

func TestLocal_Success(t *testing.T) {
	h := newHarness(t)
	j := h.job(t, "hello", "echo hello from $0")

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.Eventually(t, r.IsDone, 5*time.Second, 10*time.Millisecond)

	assert.True(t, r.IsSuccess())
	snap := r.Snapshot()
	require.NotNil(t, snap.ExitStatus)
	assert.Equal(t, 0, *snap.ExitStatus)

	h.node.Wait()
	data, err := os.ReadFile(filepath.Join(h.dir, "hello.out"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from sh")
	assert.Contains(t, string(data), "hello.1 finished: SUCCESS")
}

func TestLocal_ExitStatus(t *testing.T) {
	h := newHarness(t)
	j := h.job(t, "broken", "echo oops >&2; exit 3")

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.Eventually(t, r.IsDone, 5*time.Second, 10*time.Millisecond)

	assert.True(t, r.IsFailed())
	assert.Equal(t, 3, *r.Snapshot().ExitStatus)
}

func TestLocal_ShellMissing(t *testing.T) {
	h := newHarness(t, WithShell(filepath.Join(t.TempDir(), "no-such-shell")))
	j := h.job(t, "noshell", "true")

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.Eventually(t, r.IsDone, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, ExitNotStarted, *r.Snapshot().ExitStatus)
}

func TestLocal_KillOnCancel(t *testing.T) {
	h := newHarness(t)
	j := h.job(t, "sleeper", "exec sleep 30")

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return h.node.Running() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Cancel())
	assert.True(t, r.IsCancelled())
	assert.Equal(t, job.ExitKilled, *r.Snapshot().ExitStatus)

	done := make(chan struct{})
	go func() {
		h.node.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("process was not killed")
	}
	assert.Equal(t, 0, h.node.Running())
	// the late report of the killed process does not change the run
	assert.True(t, r.IsCancelled())
}

func TestLocal_KillTerminatesProcessGroup(t *testing.T) {
	h := newHarness(t)
	marker := filepath.Join(t.TempDir(), "marker")
	j := h.job(t, "tree", "(sleep 1; touch "+marker+") && true")

	r := j.BuildRun()
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return h.node.Running() == 1 }, 5*time.Second, 10*time.Millisecond)
	// let the shell fork the subshell
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, r.Cancel())
	h.node.Wait()

	time.Sleep(1500 * time.Millisecond)
	assert.NoFileExists(t, marker, "subshell outlived the cancelled run")
	assert.True(t, r.IsCancelled())
}

func TestLocal_DrainKeepsQueuedRuns(t *testing.T) {
	h := newHarness(t)
	j := job.New("q", job.WithCommand("exec sleep 30"), job.WithNode(h.node),
		job.WithScheduler(schedule.Constant{}), job.WithQueueing(true))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		j.Serve(ctx)
	}()
	defer func() {
		cancel()
		<-served
	}()

	r1 := j.NextRun(nil)
	require.NoError(t, r1.ScheduledStart())
	require.Eventually(t, func() bool { return h.node.Running() == 1 }, 5*time.Second, 10*time.Millisecond)
	r2 := j.NextRun(nil)
	require.NoError(t, r2.ScheduledStart())
	require.True(t, r2.IsQueued())

	j.Drain()
	h.killAll()
	h.node.Wait()

	require.Eventually(t, r1.IsDone, 5*time.Second, 10*time.Millisecond)
	assert.True(t, r1.IsFailed())
	assert.Equal(t, job.ExitKilled, *r1.Snapshot().ExitStatus)

	assert.True(t, r2.IsQueued(), "queued run must wait for the next process")
	assert.Nil(t, r2.Snapshot().StartTime)
	assert.Zero(t, h.node.Running())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, ExitNotStarted, exitCode(os.ErrNotExist))
	assert.Equal(t, job.ExitKilled, exitCode(context.Canceled))
}
