package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MMatviiuk/medtrack/internal/cache"
	"github.com/MMatviiuk/medtrack/internal/clock"
	"github.com/MMatviiuk/medtrack/internal/config"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/MMatviiuk/medtrack/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobExtendHorizon  = "extend_horizon"
	JobDayStatusSweep = "day_status_sweep"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Medications medicationdomain.Repository
	Events      doseeventdomain.Repository
	DayStatus   daystatusdomain.Service
	Locker      *cache.Locker                `optional:"true"`
	Metrics     *metrics.Metrics             `optional:"true"`
	Tracking    *config.TrackingConfigHolder `optional:"true"`
	Config      Config                       `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	schedule    cron.Schedule
	genID       *snowflake.Node
	clock       clock.Clock
	medications medicationdomain.Repository
	events      doseeventdomain.Repository
	dayStatus   daystatusdomain.Service
	locker      *cache.Locker
	metrics     *metrics.Metrics
	tracking    *config.TrackingConfigHolder
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Medications == nil || p.Events == nil || p.DayStatus == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()

	var schedule cron.Schedule
	if spec := strings.TrimSpace(cfg.CronSpec); spec != "" {
		parsed, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: cron spec %q: %v", ErrInvalidConfig, spec, err)
		}
		schedule = parsed
	}

	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		schedule:    schedule,
		genID:       p.GenID,
		clock:       p.Clock,
		medications: p.Medications,
		events:      p.Events,
		dayStatus:   p.DayStatus,
		locker:      p.Locker,
		metrics:     p.Metrics,
		tracking:    p.Tracking,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	schedMetrics := metrics.Scheduler()

	release, acquired, err := s.acquireLeader(parent, name)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: acquire lock: %w", name, err)
	}
	if !acquired {
		schedMetrics.IncJobSkipped(name, metrics.SchedulerSkipReasonLockHeld)
		s.log.Debug("job skipped, lock held elsewhere", zap.String("job", name))
		return nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.beginRun(ctx, name, batchSize)
	log := s.runLogger(ctx, run)
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	schedMetrics.AddBatchProcessed(name, run.resource, run.processed)
	if owner {
		if err != nil && run.failed == 0 {
			run.fail()
		}
		s.finishRun(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next run picks up where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobExtendHorizon, s.isJobEnabled(JobExtendHorizon), func(ctx context.Context) error {
			return s.runJob(ctx, JobExtendHorizon, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExtendHorizonJob)
		}},
		{JobDayStatusSweep, s.isJobEnabled(JobDayStatusSweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobDayStatusSweep, s.cfg.BatchSize, s.cfg.JobTimeout, s.DayStatusSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	schedMetrics := metrics.Scheduler()
	nextRun := s.clock.Now()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		nextRun = s.next(s.clock.Now())
		timer := time.NewTimer(nextRun.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// next returns the time of the run after now.
func (s *Scheduler) next(now time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(now)
	}
	return now.Add(s.cfg.RunInterval)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
