package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
)

// Job is one periodic unit of work. It returns how many items it handled.
type Job func(ctx context.Context) (int, error)

// Scheduler runs jobs on cron specs. A job still running when its next tick
// fires is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger
	ctx     context.Context
}

func New(timeout time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		timeout: timeout,
		log:     log,
		ctx:     context.Background(),
	}
}

// Add registers job under name on spec, e.g. "@every 1m" or "0 */5 * * * *".
func (s *Scheduler) Add(name, spec string, job Job) error {
	var running atomic.Bool
	err := s.cron.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn("previous run still in progress, skipping", "job", name)
			return
		}
		defer running.Store(false)
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		s.log.Error("job failed", "job", name, "handled", n, "err", err)
		return
	}
	if n > 0 {
		s.log.Info("job done", "job", name, "handled", n, "dur_ms", time.Since(start).Milliseconds())
	}
}

// Run starts the schedule and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	s.cron.Stop()
	return nil
}
