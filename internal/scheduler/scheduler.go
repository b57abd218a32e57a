package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/events"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

type Params struct {
	fx.In

	Log           *zap.Logger
	Cfg           config.Config
	CommissionSvc commissiondomain.Service
	PayoutSvc     payoutdomain.Service
	Relay         *events.Relay
}

// Scheduler runs the periodic engine jobs: the commission lifecycle sweep,
// the outbox relay, the integrity check and the stuck payout check. Each job
// is an ordinary service call, so running it twice is harmless.
type Scheduler struct {
	log           *zap.Logger
	cfg           config.SchedulerConfig
	commissionSvc commissiondomain.Service
	payoutSvc     payoutdomain.Service
	relay         *events.Relay
	cron          *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	log := p.Log.Named("scheduler")
	cronLog := cronLogger{log: log.Sugar()}
	s := &Scheduler{
		log:           log,
		cfg:           p.Cfg.Scheduler,
		commissionSvc: p.CommissionSvc,
		payoutSvc:     p.PayoutSvc,
		relay:         p.Relay,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"lifecycle_sweep", s.cfg.SweepSpec, s.RunSweep},
		{"outbox_relay", s.cfg.RelaySpec, s.RunRelay},
		{"integrity_check", s.cfg.IntegritySpec, s.RunIntegrityCheck},
		{"stuck_payouts", s.cfg.StuckSpec, s.RunStuckCheck},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			s.log.Warn("scheduled job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("scheduled job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunSweep advances due commissions until a pass moves nothing.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	for {
		res, err := s.commissionSvc.Advance(ctx, batch)
		if err != nil {
			return err
		}
		if res.Earned < batch && res.Payable < batch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Scheduler) RunRelay(ctx context.Context) error {
	return s.relay.Drain(ctx)
}

func (s *Scheduler) RunIntegrityCheck(ctx context.Context) error {
	report, err := s.payoutSvc.CheckConsistency(ctx)
	if err != nil {
		return err
	}
	if len(report.Violations) > 0 {
		s.log.Warn("integrity violations present", zap.Int("count", len(report.Violations)))
	}
	return nil
}

func (s *Scheduler) RunStuckCheck(ctx context.Context) error {
	_, err := s.payoutSvc.FlagStuckProcessing(ctx)
	return err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
