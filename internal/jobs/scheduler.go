// Package jobs runs the daily maintenance jobs: batch expiry and the
// variance summary. Each job fires once per calendar day at its configured
// time of day in the scheduler's zone.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/pkg/logger"
)

const (
	DefaultTick       = 30 * time.Second
	DefaultRetryDelay = 5 * time.Minute
)

// Job is a task that runs once a day.
type Job struct {
	Name string
	// At is the offset from local midnight.
	At  time.Duration
	Run func(ctx context.Context) error
}

// Status describes a registered job.
type Status struct {
	Name    string    `json:"name"`
	At      string    `json:"at"`
	LastRun time.Time `json:"lastRun,omitempty"`
	LastErr string    `json:"lastError,omitempty"`
	NextRun time.Time `json:"nextRun"`
}

type jobState struct {
	Job
	doneDay string
	retryAt time.Time
	lastRun time.Time
	lastErr error
}

// Scheduler fires registered jobs. Due jobs run one after another; a failed
// job is logged and retried after the retry delay until it succeeds for the
// day. Jobs whose time already passed when the scheduler starts run on the
// first tick.
type Scheduler struct {
	clock      clock.Clock
	loc        *time.Location
	tick       time.Duration
	retryDelay time.Duration

	mu   sync.Mutex
	jobs []*jobState
	// runMu serializes job execution between the loop and manual triggers.
	runMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets how often the loop checks for due jobs.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithRetryDelay sets the wait before a failed job is tried again.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// NewScheduler creates a scheduler for the zone loc (UTC when nil).
func NewScheduler(clk clock.Clock, loc *time.Location, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		clock:      clk,
		loc:        loc,
		tick:       DefaultTick,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job firing daily at "hh:mm".
func (s *Scheduler) Add(name, at string, run func(ctx context.Context) error) error {
	offset, err := clock.ParseTimeOfDay(at)
	if err != nil {
		return apperror.NewValidation("invalid job time").WithDetail("job", name).WithCause(err)
	}
	return s.Register(Job{Name: name, At: offset, Run: run})
}

// Register adds a job.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return apperror.NewValidation("job needs a name and a function")
	}
	if job.At < 0 || job.At >= 24*time.Hour {
		return apperror.NewValidation("job time must be within one day").WithDetail("job", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return apperror.NewDuplicate("job", "name", job.Name)
		}
	}
	s.jobs = append(s.jobs, &jobState{Job: job})
	sort.SliceStable(s.jobs, func(i, k int) bool { return s.jobs[i].At < s.jobs[k].At })
	return nil
}

// Start runs the loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	logger.Info(ctx, "scheduler started", "jobs", len(s.Statuses()), "zone", s.loc.String(), "tick", s.tick)
	s.RunDue(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every job that is due now and returns the names of the jobs
// that ran.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	now := s.clock.Now().In(s.loc)
	day := now.Format(time.DateOnly)
	tod := clock.TimeOfDay(now)

	s.mu.Lock()
	var due []*jobState
	for _, j := range s.jobs {
		if j.doneDay == day || tod < j.At || now.Before(j.retryAt) {
			continue
		}
		due = append(due, j)
	}
	s.mu.Unlock()

	ran := make([]string, 0, len(due))
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		err := s.execute(ctx, j.Job)
		ran = append(ran, j.Name)

		s.mu.Lock()
		j.lastRun = now
		j.lastErr = err
		if err != nil {
			j.retryAt = now.Add(s.retryDelay)
		} else {
			j.doneDay = day
			j.retryAt = time.Time{}
		}
		s.mu.Unlock()
	}
	return ran
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			jj := j.Job
			job = &jj
			break
		}
	}
	s.mu.Unlock()

	if job == nil {
		return apperror.NewNotFound("job", name)
	}
	return s.execute(ctx, *job)
}

// Statuses returns the registered jobs in firing order.
func (s *Scheduler) Statuses() []Status {
	now := s.clock.Now().In(s.loc)
	today := now.Format(time.DateOnly)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := Status{
			Name:    j.Name,
			At:      fmt.Sprintf("%02d:%02d", int(j.At.Hours()), int(j.At.Minutes())%60),
			LastRun: j.lastRun,
			NextRun: s.nextRun(j, now, today),
		}
		if j.lastErr != nil {
			st.LastErr = j.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) nextRun(j *jobState, now time.Time, today string) time.Time {
	y, m, d := now.Date()
	if j.doneDay == today {
		return time.Date(y, m, d+1, 0, 0, 0, 0, s.loc).Add(j.At)
	}
	next := time.Date(y, m, d, 0, 0, 0, 0, s.loc).Add(j.At)
	if j.retryAt.After(next) {
		return j.retryAt
	}
	return next
}

// execute runs one job as the system actor. Panics are turned into errors.
func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx = appctx.WithActor(ctx, appctx.SystemActor)
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{RequestID: job.Name + "-" + entity.NewID().String()})

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
		}
		if err != nil {
			logger.Error(ctx, "job failed", "job", job.Name, "error", err, "duration", time.Since(start))
			return
		}
		logger.Info(ctx, "job finished", "job", job.Name, "duration", time.Since(start))
	}()

	logger.Info(ctx, "job started", "job", job.Name)
	return job.Run(ctx)
}
