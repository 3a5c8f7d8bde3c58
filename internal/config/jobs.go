package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jobsched/internal/job"
	"jobsched/internal/resource"
	"jobsched/internal/schedule"
	"jobsched/internal/shared"
)

// Schedule kinds accepted in the jobs file. An empty kind means the job
// only runs when started by hand or by another job.
const (
	ScheduleManual   = "manual"
	ScheduleConstant = "constant"
	ScheduleDaily    = "daily"
	ScheduleCron     = "cron"
)

// JobsFile is the parsed jobs file.
//
//	output_dir: data/output
//	jobs:
//	  - name: backup
//	    command: pg_dump app > /backups/app-%(shortdate)s.sql
//	    schedule: {kind: cron, expr: "0 3 * * *"}
//	    queueing: true
//	    resources:
//	      - file: /mnt/backups/.mounted
//	      - http: http://db:8080/health
//	        timeout: 3s
//	    dependants: [report]
type JobsFile struct {
	OutputDir string    `yaml:"output_dir"`
	Jobs      []JobSpec `yaml:"jobs" validate:"required,min=1,dive"`
}

// JobSpec describes one job.
type JobSpec struct {
	Name       string         `yaml:"name" validate:"required,excludesall=/\\"`
	Command    string         `yaml:"command" validate:"required"`
	Schedule   ScheduleSpec   `yaml:"schedule"`
	Queueing   bool           `yaml:"queueing"`
	OutputDir  string         `yaml:"output_dir"`
	Resources  []ResourceSpec `yaml:"resources" validate:"dive"`
	Dependants []string       `yaml:"dependants" validate:"dive,required"`
}

// ScheduleSpec selects the scheduler of a job.
type ScheduleSpec struct {
	Kind  string `yaml:"kind" validate:"omitempty,oneof=manual constant daily cron"`
	Expr  string `yaml:"expr" validate:"required_if=Kind cron"`
	Limit int    `yaml:"limit" validate:"min=0"`
}

// ResourceSpec is a readiness gate: exactly one of File and HTTP.
type ResourceSpec struct {
	File    string        `yaml:"file"`
	HTTP    string        `yaml:"http" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// LoadJobs reads and validates the jobs file at path.
func LoadJobs(path string) (*JobsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	f, err := ParseJobs(data)
	if err != nil {
		return nil, fmt.Errorf("jobs file %s: %w", path, err)
	}
	return f, nil
}

// ParseJobs decodes and validates a jobs document. Unknown keys are rejected.
func ParseJobs(data []byte) (*JobsFile, error) {
	var f JobsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks field rules, command templates, schedules, resources
// and the dependency graph.
func (f *JobsFile) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	names := make(map[string]bool, len(f.Jobs))
	for _, s := range f.Jobs {
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate job %q", shared.ErrValidation, s.Name)
		}
		names[s.Name] = true
	}

	var errs []error
	for _, s := range f.Jobs {
		if err := job.ValidateTemplate(s.Command); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", s.Name, err))
		}
		if _, err := s.Schedule.build(); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", s.Name, err))
		}
		for i, r := range s.Resources {
			if (r.File == "") == (r.HTTP == "") {
				errs = append(errs, fmt.Errorf("%w: job %q: resource %d needs exactly one of file, http",
					shared.ErrValidation, s.Name, i))
			}
		}
		for _, d := range s.Dependants {
			if !names[d] {
				errs = append(errs, fmt.Errorf("%w: job %q: unknown dependant %q", shared.ErrValidation, s.Name, d))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return checkCycles(f.Jobs)
}

// checkCycles rejects dependency cycles with Kahn's algorithm: whatever
// cannot be ordered topologically is on a cycle.
func checkCycles(specs []JobSpec) error {
	indegree := make(map[string]int, len(specs))
	edges := make(map[string][]string, len(specs))
	for _, s := range specs {
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
		for _, d := range s.Dependants {
			edges[s.Name] = append(edges[s.Name], d)
			indegree[d]++
		}
	}

	var queue []string
	for name, n := range indegree {
		if n == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, d := range edges[name] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if visited == len(indegree) {
		return nil
	}

	var cyclic []string
	for name, n := range indegree {
		if n > 0 {
			cyclic = append(cyclic, name)
		}
	}
	sort.Strings(cyclic)
	return fmt.Errorf("%w: dependency cycle between jobs %s", shared.ErrValidation, strings.Join(cyclic, ", "))
}

func (s ScheduleSpec) build() (job.Scheduler, error) {
	switch s.Kind {
	case "", ScheduleManual:
		return nil, nil
	case ScheduleConstant:
		return schedule.Constant{Limit: s.Limit}, nil
	case ScheduleDaily:
		return schedule.NewDaily(), nil
	case ScheduleCron:
		return schedule.NewCron(s.Expr)
	}
	return nil, fmt.Errorf("%w: unknown schedule kind %q", shared.ErrValidation, s.Kind)
}

// BuildOptions are the runtime collaborators shared by every job.
type BuildOptions struct {
	Node   job.Node
	Hooks  job.Hooks
	Logger *slog.Logger
	Clock  func() time.Time
}

// Build creates the jobs of f, wires their dependants and returns them in
// file order.
func (f *JobsFile) Build(o BuildOptions) (*job.Registry, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	reg := job.NewRegistry()
	for _, s := range f.Jobs {
		sched, err := s.Schedule.build()
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", s.Name, err)
		}
		outputDir := s.OutputDir
		if outputDir == "" {
			outputDir = f.OutputDir
		}
		opts := []job.Option{
			job.WithCommand(s.Command),
			job.WithQueueing(s.Queueing),
			job.WithOutputDir(outputDir),
			job.WithHooks(o.Hooks),
			job.WithLogger(o.Logger),
			job.WithResources(s.resources(o.Logger)...),
		}
		if sched != nil {
			opts = append(opts, job.WithScheduler(sched))
		}
		if o.Node != nil {
			opts = append(opts, job.WithNode(o.Node))
		}
		if o.Clock != nil {
			opts = append(opts, job.WithClock(o.Clock))
		}
		if err := reg.Add(job.New(s.Name, opts...)); err != nil {
			return nil, err
		}
	}

	for _, s := range f.Jobs {
		j, _ := reg.Get(s.Name)
		for _, d := range s.Dependants {
			dep, err := reg.Get(d)
			if err != nil {
				return nil, fmt.Errorf("job %q: %w", s.Name, err)
			}
			j.AddDependant(dep)
		}
	}
	return reg, nil
}

func (s JobSpec) resources(logger *slog.Logger) []job.Resource {
	out := make([]job.Resource, 0, len(s.Resources))
	for _, r := range s.Resources {
		switch {
		case r.File != "":
			out = append(out, resource.File{Path: r.File})
		case r.HTTP != "":
			out = append(out, resource.NewHTTP(r.HTTP, r.Timeout, logger))
		}
	}
	return out
}
