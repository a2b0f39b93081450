package scheduler

import (
	"context"
	"time"

	obscontext "github.com/MMatviiuk/medtrack/internal/observability/context"
	obslogger "github.com/MMatviiuk/medtrack/internal/observability/logger"
	obsmetrics "github.com/MMatviiuk/medtrack/internal/observability/metrics"
	"github.com/MMatviiuk/medtrack/pkg/telemetry/correlation"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. It travels on the context so a job
// invoked through runJob and a job invoked directly share the same run.
type jobRun struct {
	job       string
	id        string
	resource  string
	batchSize int
	startedAt time.Time
	processed int
	failed    int
}

type jobRunKey struct{}

func (r *jobRun) done(count int) {
	if r != nil && count > 0 {
		r.processed += count
	}
}

func (r *jobRun) fail() {
	if r != nil {
		r.failed++
	}
}

// beginRun attaches a run to ctx unless one is already there. The returned
// bool is true for the caller that created the run and so owns its lifecycle
// logging.
func (s *Scheduler) beginRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && run != nil {
		return ctx, run, false
	}

	run := &jobRun{
		job:       job,
		id:        s.genID.Generate().String(),
		resource:  resourceOf(job),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")

	s.runLogger(ctx, run).Info("scheduler.job.start", zap.Int("batch_size", batchSize))
	return ctx, run, true
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	log := s.runLogger(ctx, run)
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processed),
		zap.Int("error_count", run.failed),
	}
	if run.failed > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// runFailed logs a per-item failure and counts it against the run. The job
// keeps going; the caller decides whether the error also fails the run.
func (s *Scheduler) runFailed(ctx context.Context, run *jobRun, msg string, ownerID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.fail()
	if ownerID != 0 {
		ctx = obscontext.WithOwnerID(ctx, ownerID.String())
	}
	fields = append(fields,
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	)
	s.runLogger(ctx, run).Error(msg, fields...)
}

func (s *Scheduler) runLogger(ctx context.Context, run *jobRun) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if run == nil {
		return log
	}
	return log.With(zap.String("job", run.job), zap.String("run_id", run.id))
}

func resourceOf(job string) string {
	switch job {
	case JobExtendHorizon:
		return "templates"
	case JobDayStatusSweep:
		return "owners"
	default:
		return "items"
	}
}
