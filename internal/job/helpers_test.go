package job

import (
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// nowScheduler is a minimal Constant: the next run is always due now, up to limit runs.
type nowScheduler struct{ limit int }

func (s nowScheduler) NextRunTime(j *Job, _ *Run) (time.Time, bool) {
	if s.limit > 0 && j.Len() >= s.limit {
		return time.Time{}, false
	}
	return j.Now(), true
}

// stepScheduler schedules every run step after its predecessor.
type stepScheduler struct{ step time.Duration }

func (s stepScheduler) NextRunTime(j *Job, prev *Run) (time.Time, bool) {
	if prev == nil {
		return j.Now(), true
	}
	return prev.ScheduledTime().Add(s.step), true
}

type recordingNode struct {
	mu     sync.Mutex
	runs   []*Run
	killed []*Run
}

func (n *recordingNode) Execute(r *Run) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, r)
}

func (n *recordingNode) Kill(r *Run) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.killed = append(n.killed, r)
}

func (n *recordingNode) Executed() []*Run {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Run(nil), n.runs...)
}

func (n *recordingNode) Killed() []*Run {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Run(nil), n.killed...)
}

type flagResource struct {
	mu    sync.Mutex
	ready bool
}

func (r *flagResource) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *flagResource) Set(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = v
}

var testStart = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

// gateScheduler blocks inside NextRunTime until release is closed.
type gateScheduler struct {
	entered chan struct{}
	release chan struct{}
}

func newGateScheduler() *gateScheduler {
	return &gateScheduler{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *gateScheduler) NextRunTime(j *Job, _ *Run) (time.Time, bool) {
	s.entered <- struct{}{}
	<-s.release
	return j.Now(), true
}
