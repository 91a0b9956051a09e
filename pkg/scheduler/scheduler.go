// Package scheduler runs a dependency graph of install jobs through a
// bounded worker pool (§4.J): topological ordering, cycle detection, a
// cost-descending ready queue (so the most expensive jobs start first
// and finish alongside cheaper dependents rather than trailing behind
// them), and a shared shutdown flag so one job's hard failure can stop
// the rest of the run promptly. Grounded on flavor-go's goroutine/error
// group conventions (pkg/logging's structured Debug/Info/Error calls)
// generalized from a fixed build pipeline to an arbitrary DAG.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/spinel-coop/rv/pkg/rverrors"
)

// Job is one schedulable unit of work: installing a single gem or Ruby.
type Job struct {
	Name string
	Deps []string // names of jobs this job depends on
	Cost int64    // relative weight, used to order the ready queue
	Run  func(ctx context.Context) error
}

// EventKind identifies the stage a job has reached, for progress display.
type EventKind int

const (
	EventStarted EventKind = iota
	EventFinished
	EventFailed
)

// Event is emitted as jobs progress; the scheduler's caller drains
// Events() to drive a live progress display or an NDJSON stream.
type Event struct {
	Job  string
	Kind EventKind
	Err  error
}

// Scheduler runs a job graph with bounded concurrency.
type Scheduler struct {
	jobs        map[string]*Job
	concurrency int
	logger      hclog.Logger
}

// New constructs a Scheduler with the given maximum concurrency.
func New(jobs []Job, concurrency int, logger hclog.Logger) (*Scheduler, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := make(map[string]*Job, len(jobs))
	for i := range jobs {
		j := jobs[i]
		if _, dup := m[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job name %q", j.Name)
		}
		m[j.Name] = &j
	}
	for _, j := range m {
		for _, d := range j.Deps {
			if _, ok := m[d]; !ok {
				return nil, rverrors.UnresolvedDependency(d)
			}
		}
	}
	if cyc := detectCycle(m); cyc != nil {
		return nil, rverrors.DependencyCycle(cyc)
	}
	return &Scheduler{jobs: m, concurrency: concurrency, logger: logger}, nil
}

// detectCycle performs a DFS over the job graph, returning the first
// cycle found as a slice of job names, or nil if the graph is acyclic.
func detectCycle(jobs map[string]*Job) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(jobs))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range jobs[name].Deps {
			switch color[dep] {
			case gray:
				idx := indexOf(path, dep)
				cycle = append([]string(nil), path[idx:]...)
				cycle = append(cycle, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

// Run executes every job, respecting dependency order, and returns the
// event stream plus a wait function, which returns an
// *rverrors.Aggregate if one or more jobs failed. It stops dispatching
// new jobs as soon as the shared shutdown flag is set by a failure,
// though already-running jobs are allowed to finish.
func (s *Scheduler) Run(ctx context.Context) (<-chan Event, func() error) {
	events := make(chan Event, len(s.jobs)*2)
	done := make(chan struct{})

	var (
		mu        sync.Mutex
		completed = make(map[string]bool, len(s.jobs))
		started   = make(map[string]bool, len(s.jobs))
		errs      []error
		shutdown  int32
		wg        sync.WaitGroup
	)

	sem := make(chan struct{}, s.concurrency)

	var dispatch func()
	dispatch = func() {
		mu.Lock()
		ready := s.readyJobs(completed, started)
		for _, job := range ready {
			started[job.Name] = true
		}
		mu.Unlock()

		for _, job := range ready {
			if atomic.LoadInt32(&shutdown) != 0 {
				break
			}
			job := job
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()

				events <- Event{Job: job.Name, Kind: EventStarted}
				err := job.Run(ctx)

				mu.Lock()
				completed[job.Name] = true
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
					atomic.StoreInt32(&shutdown, 1)
					s.logger.Error("job failed", "job", job.Name, "error", err)
					events <- Event{Job: job.Name, Kind: EventFailed, Err: err}
				} else {
					events <- Event{Job: job.Name, Kind: EventFinished}
				}
				mu.Unlock()

				// Release the slot before recursing: with concurrency 1, a
				// dependent job becoming ready here needs this slot to run,
				// and it would never be freed if we held it across dispatch().
				<-sem
				dispatch()
			}()
		}
	}

	go func() {
		dispatch()
		wg.Wait()
		close(events)
		close(done)
	}()

	wait := func() error {
		<-done
		if len(errs) == 0 {
			return nil
		}
		return &rverrors.Aggregate{Errors: errs}
	}
	return events, wait
}

// readyJobs returns, among jobs not yet completed or in flight, those
// whose dependencies are all completed, sorted by descending Cost so
// the scheduler starts the most expensive work first.
func (s *Scheduler) readyJobs(completed, started map[string]bool) []*Job {
	var ready []*Job
	for name, job := range s.jobs {
		if completed[name] || started[name] {
			continue
		}
		allDepsDone := true
		for _, d := range job.Deps {
			if !completed[d] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, job)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Cost != ready[j].Cost {
			return ready[i].Cost > ready[j].Cost
		}
		return ready[i].Name < ready[j].Name
	})
	return ready
}
