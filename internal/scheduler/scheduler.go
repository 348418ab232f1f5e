// Package scheduler triggers sync runs on a cron schedule.
//
// A failed scheduled run is not retried in place. The failure is recorded in
// the sync ledger by the syncer, the cutoff stays where the last success left
// it, and the next tick picks up everything the failed run missed.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

// DefaultSpec runs once a day at 03:00 server time.
const DefaultSpec = "0 3 * * *"

// Runner starts one sync run. *mgnrega.Syncer satisfies it.
type Runner interface {
	Run(ctx context.Context, opts mgnrega.RunOptions) (mgnrega.Result, error)
}

// Scheduler fires Runner on every tick of a standard five-field cron spec.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	runner   Runner
	timeout  time.Duration
	running  atomic.Bool
	log      *zap.Logger
}

// New parses spec and returns a scheduler. A zero timeout leaves runs
// bounded only by the context passed to Run.
func New(spec string, runner Runner, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if runner == nil {
		return nil, eris.New("scheduler: runner is nil")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse cron spec %q", spec)
	}
	return &Scheduler{
		spec:     spec,
		schedule: sched,
		runner:   runner,
		timeout:  timeout,
		log:      zap.L().With(zap.String("component", "scheduler"), zap.String("spec", spec)),
	}, nil
}

// Next returns the first tick after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run starts the cron loop and blocks until ctx is done. A tick that arrives
// while the previous scheduled run is still going is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	s.log.Info("scheduler started", zap.Time("next", s.Next(time.Now())))

	<-ctx.Done()
	c.Stop()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous scheduled sync still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.runner.Run(runCtx, mgnrega.RunOptions{Trigger: mgnrega.TriggerCron})
	if err != nil {
		s.log.Error("scheduled sync failed, will retry on next tick",
			zap.String("run_id", res.RunID),
			zap.Time("next", s.Next(time.Now())),
			zap.Error(err),
		)
		return
	}
	s.log.Info("scheduled sync complete",
		zap.String("run_id", res.RunID),
		zap.Int("upserted", res.Upserted),
	)
}
