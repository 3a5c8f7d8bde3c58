package httpapi

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"jobsched/internal/job"
	"jobsched/internal/shared"
)

type jobView struct {
	Name      string   `json:"name"`
	Command   string   `json:"command"`
	Queueing  bool     `json:"queueing"`
	Runs      int      `json:"runs"`
	LastRun   *runView `json:"last_run,omitempty"`
	Dependant []string `json:"dependants,omitempty"`
}

type runView struct {
	job.Snapshot
	Prev string `json:"prev,omitempty"`
}

func viewRun(r *job.Run) *runView {
	v := &runView{Snapshot: r.Snapshot()}
	if p := r.Prev(); p != nil {
		v.Prev = p.ID()
	}
	return v
}

func (h *handlers) health(c *gin.Context) {
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			respondError(c, shared.MarkKind(fmt.Errorf("store: %w", err), shared.KindDependencyFailure))
			return
		}
	}
	respondOK(c, gin.H{"jobs": len(h.jobs.List())})
}

func (h *handlers) listJobs(c *gin.Context) {
	jobs := h.jobs.List()
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{Name: j.Name(), Command: j.CommandTemplate(), Queueing: j.Queueing(), Runs: j.Len()}
		if last := j.LastRun(); last != nil {
			v.LastRun = viewRun(last)
		}
		for _, d := range j.Dependants() {
			v.Dependant = append(v.Dependant, d.Name())
		}
		out = append(out, v)
	}
	respondOK(c, out)
}

func (h *handlers) listRuns(c *gin.Context) {
	j, err := h.jobs.Get(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	runs := j.Runs()
	if s := c.Query("state"); s != "" {
		state, err := job.ParseState(strings.ToUpper(s))
		if err != nil {
			respondError(c, err)
			return
		}
		runs = j.RunsByState(state)
	}

	out := make([]*runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, viewRun(r))
	}
	respondOK(c, out)
}

// startRun creates a run due now and starts it regardless of its predecessor.
func (h *handlers) startRun(c *gin.Context) {
	j, err := h.jobs.Get(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	r, err := j.StartRun()
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("manual run started", "job", j.Name(), "run", r.ID(), "request_id", c.GetString(requestIDKey))
	respondCreated(c, viewRun(r))
}

func (h *handlers) cancelRun(c *gin.Context) {
	j, err := h.jobs.Get(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	r, err := j.Run(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := r.Cancel(); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, viewRun(r))
}
