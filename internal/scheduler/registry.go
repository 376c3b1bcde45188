// Package scheduler runs refresh jobs on per-tier cadences. Each job is
// single-flight: a run that would overlap a running one is skipped and
// recorded, never queued.
package scheduler

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrJobRunning is returned when a job is started while already running.
	ErrJobRunning = eris.New("scheduler: job already running")

	// ErrUnknownJob is returned for a job name that is not registered.
	ErrUnknownJob = eris.New("scheduler: unknown job")
)

// State is a job's execution state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Handler runs one job execution and returns a JSON-serializable summary.
type Handler func(ctx context.Context) (any, error)

// JobDescriptor declares a job: its name, cron cadence and handler.
type JobDescriptor struct {
	Name    string
	Cadence string
	Handler Handler
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	Name         string          `json:"name"`
	Cadence      string          `json:"cadence"`
	State        State           `json:"state"`
	LastStarted  *time.Time      `json:"last_started,omitempty"`
	LastFinished *time.Time      `json:"last_finished,omitempty"`
	LastSummary  json.RawMessage `json:"last_summary,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Skipped      int             `json:"skipped"`
	NextRun      *time.Time      `json:"next_run,omitempty"`
}

type job struct {
	desc   JobDescriptor
	status JobStatus
}

// Registry holds the registered jobs and their state.
type Registry struct {
	mu    sync.Mutex
	jobs  map[string]*job
	order []string
}

// NewRegistry registers descs. Names must be unique and handlers non-nil.
func NewRegistry(descs ...JobDescriptor) (*Registry, error) {
	r := &Registry{jobs: make(map[string]*job, len(descs))}
	for _, d := range descs {
		if d.Name == "" || d.Handler == nil {
			return nil, eris.Errorf("scheduler: job %q needs a name and a handler", d.Name)
		}
		if _, dup := r.jobs[d.Name]; dup {
			return nil, eris.Errorf("scheduler: duplicate job %q", d.Name)
		}
		r.jobs[d.Name] = &job{
			desc:   d,
			status: JobStatus{Name: d.Name, Cadence: d.Cadence, State: StateIdle},
		}
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Names returns the job names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Descriptor returns the named job's descriptor.
func (r *Registry) Descriptor(name string) (JobDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	if !ok {
		return JobDescriptor{}, false
	}
	return j.desc, true
}

// TryStart moves the job from Idle to Running. It fails with ErrJobRunning
// if the job is already running; the skip is counted.
func (r *Registry) TryStart(name string, now time.Time) (JobDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	if !ok {
		return JobDescriptor{}, eris.Wrapf(ErrUnknownJob, "job %q", name)
	}
	if j.status.State == StateRunning {
		j.status.Skipped++
		return JobDescriptor{}, eris.Wrapf(ErrJobRunning, "job %q", name)
	}
	j.status.State = StateRunning
	j.status.LastStarted = &now
	return j.desc, nil
}

// Finish returns the job to Idle and records its result.
func (r *Registry) Finish(name string, now time.Time, summary json.RawMessage, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	if !ok {
		return
	}
	j.status.State = StateIdle
	j.status.LastFinished = &now
	j.status.LastSummary = summary
	j.status.LastError = ""
	if runErr != nil {
		j.status.LastError = runErr.Error()
	}
}

// Status returns every job's status in registration order.
func (r *Registry) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name].status)
	}
	return out
}
