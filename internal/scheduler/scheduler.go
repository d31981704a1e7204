package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"automation-engine/internal/logger"
)

// cronParser accepts the standard five-field format plus descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates and parses a cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

type job struct {
	name     string
	at       time.Time
	fn       func(context.Context)
	every    time.Duration // recurring interval, 0 for one-shot
	schedule cron.Schedule // recurring cron, nil otherwise
}

// Scheduler enqueues due work: escalation sweeps, digest rollovers, schedule
// ticks and workflow wait-duration resumes. It holds one goroutine that
// sleeps until the earliest job is due; paused work consumes nothing.
type Scheduler struct {
	clock  Clock
	logger *logger.Logger

	mu   sync.Mutex
	jobs []*job
	wake chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler on the given clock.
func New(clock Clock, log *logger.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: log,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Every registers a recurring job. The first run is one interval from now.
func (s *Scheduler) Every(d time.Duration, name string, fn func(context.Context)) {
	if d <= 0 {
		return
	}
	s.add(&job{name: name, at: s.clock.Now().Add(d), fn: fn, every: d})
}

// At registers a one-shot job.
func (s *Scheduler) At(t time.Time, name string, fn func(context.Context)) {
	s.add(&job{name: name, at: t, fn: fn})
}

// Cron registers a recurring job driven by a cron expression.
func (s *Scheduler) Cron(spec, name string, fn func(context.Context)) error {
	sched, err := ParseCron(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.add(&job{name: name, at: sched.Next(s.clock.Now()), fn: fn, schedule: sched})
	return nil
}

func (s *Scheduler) add(j *job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunDue synchronously executes every job due at now and reschedules
// recurring ones. Returns the number of jobs run. Tests drive the scheduler
// through this without wall-clock waits.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*job
	remaining := s.jobs[:0]
	for _, j := range s.jobs {
		if !j.at.After(now) {
			due = append(due, j)
		} else {
			remaining = append(remaining, j)
		}
	}
	s.jobs = remaining
	s.mu.Unlock()

	for _, j := range due {
		j.fn(ctx)
		switch {
		case j.every > 0:
			j.at = now.Add(j.every)
			s.add(j)
		case j.schedule != nil:
			j.at = j.schedule.Next(now)
			s.add(j)
		}
	}
	return len(due)
}

// Start runs the scheduling loop until Stop is called or the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := s.nextWait()
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-s.wake:
				// New job registered; recompute the wait.
			case <-s.clock.After(wait):
				n := s.RunDue(ctx, s.clock.Now())
				if n > 0 {
					s.logger.Debug("scheduler ran due jobs", "count", n)
				}
			}
		}
	}()
}

// Stop terminates the scheduling loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) == 0 {
		return time.Hour
	}
	earliest := s.jobs[0].at
	for _, j := range s.jobs[1:] {
		if j.at.Before(earliest) {
			earliest = j.at
		}
	}
	wait := earliest.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait
}
