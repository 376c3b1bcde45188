package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/model"
)

// Triggers recorded on job runs.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// RunRecorder persists job runs (store.Store).
type RunRecorder interface {
	StartJobRun(ctx context.Context, job, trigger string) (*model.JobRun, error)
	FinishJobRun(ctx context.Context, id string, status model.JobRunStatus, summary json.RawMessage, errMsg string) error
}

// RunResult is the outcome of one triggered run.
type RunResult struct {
	Job        string             `json:"job"`
	Status     model.JobRunStatus `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Summary    json.RawMessage    `json:"summary,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Scheduler fires registered jobs on their cron cadence.
type Scheduler struct {
	reg  *Registry
	runs RunRecorder
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool

	now func() time.Time
	log *zap.Logger
}

// New validates every cadence and returns a stopped Scheduler. runs may be
// nil, in which case runs are not persisted.
func New(reg *Registry, runs RunRecorder) (*Scheduler, error) {
	for _, name := range reg.Names() {
		d, _ := reg.Descriptor(name)
		if d.Cadence == "" {
			continue
		}
		if _, err := cron.ParseStandard(d.Cadence); err != nil {
			return nil, eris.Wrapf(err, "scheduler: job %s cadence %q", name, d.Cadence)
		}
	}
	return &Scheduler{
		reg:     reg,
		runs:    runs,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "scheduler")),
	}, nil
}

// Registry returns the job registry.
func (s *Scheduler) Registry() *Registry { return s.reg }

// Start schedules every job that has a cadence. Scheduled runs use ctx and
// stop firing after Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	for _, name := range s.reg.Names() {
		d, _ := s.reg.Descriptor(name)
		if d.Cadence == "" {
			continue
		}
		id, err := s.cron.AddFunc(d.Cadence, func() {
			_, _ = s.run(ctx, name, TriggerSchedule)
		})
		if err != nil {
			return eris.Wrapf(err, "scheduler: schedule %s", name)
		}
		s.entries[name] = id
		s.log.Info("job scheduled", zap.String("job", name), zap.String("cadence", d.Cadence))
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops firing new runs and waits for running scheduled jobs to
// return, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "scheduler: stop")
	}
}

// Trigger runs the named job now, synchronously, outside its cadence.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*RunResult, error) {
	return s.run(ctx, name, TriggerManual)
}

// Status returns every job's status with its next scheduled run.
func (s *Scheduler) Status() []JobStatus {
	out := s.reg.Status()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		id, ok := s.entries[out[i].Name]
		if !ok {
			continue
		}
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			out[i].NextRun = &next
		}
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, name, trigger string) (*RunResult, error) {
	log := s.log.With(zap.String("job", name), zap.String("trigger", trigger))
	started := s.now().UTC()

	desc, err := s.reg.TryStart(name, started)
	if eris.Is(err, ErrJobRunning) {
		log.Warn("job already running, skipping")
		s.recordSkip(ctx, name, trigger)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	var runID string
	if s.runs != nil {
		if jr, rerr := s.runs.StartJobRun(ctx, name, trigger); rerr != nil {
			log.Warn("record job start failed", zap.Error(rerr))
		} else {
			runID = jr.ID
		}
	}

	log.Info("job started")
	summary, runErr := invoke(ctx, desc.Handler)
	raw, merr := json.Marshal(summary)
	if merr != nil || summary == nil {
		raw = nil
	}

	res := &RunResult{Job: name, Status: model.JobRunComplete, StartedAt: started, FinishedAt: s.now().UTC(), Summary: raw}
	if runErr != nil {
		res.Status, res.Error = model.JobRunFailed, runErr.Error()
		log.Error("job failed", zap.Error(runErr), zap.Duration("elapsed", res.FinishedAt.Sub(started)))
	} else {
		log.Info("job complete", zap.Duration("elapsed", res.FinishedAt.Sub(started)))
	}
	s.reg.Finish(name, res.FinishedAt, raw, runErr)

	if runID != "" {
		// Recording must survive a cancelled run context.
		if ferr := s.runs.FinishJobRun(context.WithoutCancel(ctx), runID, res.Status, raw, res.Error); ferr != nil {
			log.Warn("record job finish failed", zap.Error(ferr))
		}
	}
	return res, runErr
}

func (s *Scheduler) recordSkip(ctx context.Context, name, trigger string) {
	if s.runs == nil {
		return
	}
	jr, err := s.runs.StartJobRun(ctx, name, trigger)
	if err != nil {
		s.log.Warn("record job skip failed", zap.String("job", name), zap.Error(err))
		return
	}
	if err := s.runs.FinishJobRun(ctx, jr.ID, model.JobRunSkipped, nil, ErrJobRunning.Error()); err != nil {
		s.log.Warn("record job skip failed", zap.String("job", name), zap.Error(err))
	}
}

func invoke(ctx context.Context, h Handler) (summary any, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary, err = nil, eris.New(fmt.Sprintf("panic: %v", r))
		}
	}()
	return h(ctx)
}
