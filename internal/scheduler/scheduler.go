// Package scheduler runs named background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Scheduler fires registered jobs on their cron schedules.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []Job
	cron   *cron.Cron
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a job. A job with an empty schedule is disabled and ignored.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		slog.Debug("job disabled", "name", job.Name)
		return nil
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: no run func", job.Name)
	}
	if _, err := cronParser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start registers every job and starts the cron ticker. Job contexts are
// cancelled by Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithParser(cronParser))
	for _, job := range s.jobs {
		job := job
		_, err := c.AddFunc(job.Schedule, func() {
			slog.Debug("cron firing job", "name", job.Name)
			job.Run(ctx)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("schedule job %s: %w", job.Name, err)
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	return nil
}

// Stop stops the ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}
