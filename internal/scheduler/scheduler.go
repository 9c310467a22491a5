// Package scheduler runs the named greeting jobs on cron expressions in a
// fixed timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone is used when no location is configured.
const DefaultTimezone = "Asia/Jakarta"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates every expression in loc.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// LoadLocation resolves a timezone name, falling back to UTC with a warning.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Scheduler.LoadLocation: unknown timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{loc: time.Local, jobs: make(map[string]cron.EntryID)}
	for _, opt := range opts {
		opt(s)
	}
	// Standard 5-field parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	s.cron.Start()
	return s
}

// AddJob schedules task under name using the provided cron expression,
// replacing any job previously registered under the same name.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	slog.Info("Scheduler.AddJob: scheduled", "job", name, "expr", expr, "location", s.loc.String())
	return nil
}

// Next returns the next activation of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: jobs still running at shutdown")
	}
}
