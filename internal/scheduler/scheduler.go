package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// TickFunc runs one step of a periodic job and returns the delay until its
// next run. A delay <= 0 means the job's default interval.
type TickFunc func(now time.Time) time.Duration

// AsyncFunc is a job allowed to block, such as a network call.
type AsyncFunc func(ctx context.Context) time.Duration

type job struct {
	name     string
	interval time.Duration
	next     time.Time
	runs     uint64

	tick  TickFunc
	async AsyncFunc
	busy  bool
}

// Scheduler runs named periodic jobs on a single executor. Jobs run in the
// order they were registered; async jobs are launched from the executor but
// run on their own goroutine and are skipped while a previous run is in flight.
type Scheduler struct {
	clock      clock.Clock
	resolution time.Duration

	mu   sync.Mutex
	jobs []*job
	ctx  context.Context
	wg   sync.WaitGroup
}

func New(clk clock.Clock, resolution time.Duration) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if resolution <= 0 {
		resolution = time.Millisecond
	}
	return &Scheduler{
		clock:      clk,
		resolution: resolution,
		ctx:        context.Background(),
	}
}

func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Every registers a job that runs on the executor. Its first run is due immediately.
func (s *Scheduler) Every(name string, interval time.Duration, fn TickFunc) {
	s.add(&job{name: name, interval: interval, tick: fn}, 0)
}

// Go registers a job that runs on its own goroutine. Its first run is due
// one interval after registration.
func (s *Scheduler) Go(name string, interval time.Duration, fn AsyncFunc) {
	s.add(&job{name: name, interval: interval, async: fn}, interval)
}

func (s *Scheduler) add(j *job, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.next = s.clock.Now().Add(delay)
	s.jobs = append(s.jobs, j)
	log.Debug().Str("job", j.name).Dur("interval", j.interval).Msg("Registered scheduler job")
}

// Run drives the executor until ctx is cancelled, then waits for in-flight async jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ticker := s.clock.Ticker(s.resolution)
	defer ticker.Stop()

	log.Info().Int("jobs", len(s.jobs)).Dur("resolution", s.resolution).Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Info().Msg("Scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.RunDue(now)
		}
	}
}

// RunDue runs every job whose next run is at or before now and returns how many ran.
func (s *Scheduler) RunDue(now time.Time) int {
	s.mu.Lock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.next.After(now) && !j.busy {
			due = append(due, j)
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, j := range due {
		if j.async != nil {
			s.launch(ctx, j)
			continue
		}
		delay := j.tick(now)
		s.mu.Lock()
		j.runs++
		j.next = advance(j.next, now, s.delay(j, delay))
		s.mu.Unlock()
	}
	return len(due)
}

func (s *Scheduler) launch(ctx context.Context, j *job) {
	s.mu.Lock()
	j.busy = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := j.async(ctx)
		s.mu.Lock()
		j.runs++
		j.busy = false
		j.next = s.clock.Now().Add(s.delay(j, delay))
		s.mu.Unlock()
	}()
}

// advance steps next forward from its previous slot so late ticks do not
// push the cadence back. A job that fell a full period behind resyncs to now
// instead of running a burst of catch-up ticks.
func advance(prev, now time.Time, d time.Duration) time.Time {
	next := prev.Add(d)
	if !next.After(now) {
		return now.Add(d)
	}
	return next
}

func (s *Scheduler) delay(j *job, d time.Duration) time.Duration {
	if d <= 0 {
		return j.interval
	}
	return d
}

// Stats returns the number of completed runs per job.
func (s *Scheduler) Stats() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.jobs))
	for _, j := range s.jobs {
		out[j.name] = j.runs
	}
	return out
}

// Wait blocks until all launched async jobs have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
