package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MMatviiuk/medtrack/internal/clock"
	"github.com/MMatviiuk/medtrack/internal/config"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	obslogger "github.com/MMatviiuk/medtrack/internal/observability/logger"
	"github.com/MMatviiuk/medtrack/internal/observability/metrics"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	triggerMutation = "mutation"
	triggerRead     = "read"
	triggerDirect   = "direct"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     daystatusdomain.Repository
	Events   doseeventdomain.Repository
	Metrics  *metrics.Metrics             `optional:"true"`
	Tracking *config.TrackingConfigHolder `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     daystatusdomain.Repository
	events   doseeventdomain.Repository
	metrics  *metrics.Metrics
	tracking *config.TrackingConfigHolder

	pending sync.WaitGroup
}

func New(p Params) daystatusdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("daystatus.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		events:   p.Events,
		metrics:  p.Metrics,
		tracking: p.Tracking,
	}
}

func (s *Service) Recompute(ctx context.Context, ownerID snowflake.ID, date, timezone string) (*daystatusdomain.DayStatus, error) {
	return s.recompute(ctx, ownerID, date, timezone, triggerDirect)
}

func (s *Service) recompute(ctx context.Context, ownerID snowflake.ID, date, timezone, trigger string) (*daystatusdomain.DayStatus, error) {
	if ownerID == 0 {
		return nil, daystatusdomain.ErrInvalidOwner
	}
	timezone, loc, err := s.location(timezone)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(recurrence.DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return nil, daystatusdomain.ErrInvalidDate
	}
	key := day.Format(recurrence.DateLayout)

	var row *daystatusdomain.DayStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Counting after the lock means the last recompute to commit has seen
		// every mark committed before it started.
		if err := s.repo.LockDay(ctx, tx, ownerID, key, timezone); err != nil {
			return err
		}
		counts, err := s.events.CountBetween(ctx, tx, ownerID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}

		now := s.clock.Now()
		isPast := key < now.In(loc).Format(recurrence.DateLayout)
		row = &daystatusdomain.DayStatus{
			OwnerID:      ownerID,
			Date:         key,
			Timezone:     timezone,
			Status:       daystatusdomain.Derive(counts.Total, counts.Planned, counts.Taken, isPast),
			TotalCount:   counts.Total,
			PlannedCount: counts.Planned,
			TakenCount:   counts.Taken,
			ComputedAt:   now.UTC(),
		}
		return s.repo.Upsert(ctx, tx, row)
	})
	s.metrics.RecordDayStatusRecompute(ctx, trigger, err)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) RecomputeMany(ctx context.Context, ownerID snowflake.ID, dates []string, timezone string) error {
	return s.recomputeMany(ctx, ownerID, dates, timezone, triggerDirect)
}

func (s *Service) recomputeMany(ctx context.Context, ownerID snowflake.ID, dates []string, timezone, trigger string) error {
	var (
		mu     sync.Mutex
		jobErr error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.tracking.Get().RecomputeConcurrency)
	for _, date := range uniqueDates(dates) {
		g.Go(func() error {
			if _, err := s.recompute(ctx, ownerID, date, timezone, trigger); err != nil {
				s.log.Warn("day status recompute failed",
					zap.String("owner_id", ownerID.String()),
					zap.String("date", date),
					zap.String("timezone", timezone),
					zap.Error(err),
				)
				mu.Lock()
				jobErr = errors.Join(jobErr, fmt.Errorf("recompute %s: %w", date, err))
				mu.Unlock()
			}
			// siblings keep running
			return nil
		})
	}
	_ = g.Wait()
	return jobErr
}

func (s *Service) Invalidate(ctx context.Context, ownerID snowflake.ID, dates []string) error {
	if ownerID == 0 {
		return daystatusdomain.ErrInvalidOwner
	}
	_, err := s.repo.Delete(ctx, s.db, ownerID, uniqueDates(dates))
	return err
}

func (s *Service) ReadRange(ctx context.Context, ownerID snowflake.ID, from, to, timezone string) (map[string]daystatusdomain.Summary, error) {
	if ownerID == 0 {
		return nil, daystatusdomain.ErrInvalidOwner
	}
	timezone, loc, err := s.location(timezone)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(recurrence.DateLayout, strings.TrimSpace(from))
	if err != nil {
		return nil, daystatusdomain.ErrInvalidDate
	}
	end, err := time.Parse(recurrence.DateLayout, strings.TrimSpace(to))
	if err != nil {
		return nil, daystatusdomain.ErrInvalidDate
	}
	if end.Before(start) {
		return nil, daystatusdomain.ErrInvalidRange
	}
	if int(end.Sub(start).Hours()/24)+1 > daystatusdomain.MaxRangeDays {
		return nil, daystatusdomain.ErrRangeTooLarge
	}
	from = start.Format(recurrence.DateLayout)
	to = end.Format(recurrence.DateLayout)

	rows, err := s.repo.ListRange(ctx, s.db, ownerID, timezone, from, to)
	if err != nil {
		return nil, err
	}

	today := s.clock.Now().In(loc).Format(recurrence.DateLayout)
	result := make(map[string]daystatusdomain.Summary, int(end.Sub(start).Hours()/24)+1)
	for _, row := range rows {
		result[row.Date] = summarize(row, row.Date < today)
	}

	var missing []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(recurrence.DateLayout)
		if _, ok := result[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.tracking.Get().RecomputeConcurrency)
	for _, key := range missing {
		g.Go(func() error {
			row, err := s.recompute(gctx, ownerID, key, timezone, triggerRead)
			if err != nil {
				return fmt.Errorf("recompute %s: %w", key, err)
			}
			mu.Lock()
			result[key] = summarize(*row, key < today)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) RecomputeAsync(ownerID snowflake.ID, dates []string, timezone string) {
	dates = uniqueDates(dates)
	if ownerID == 0 || len(dates) == 0 {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.tracking.Get().RecomputeTimeout)
		defer cancel()
		log := obslogger.WithOwner(s.log, ownerID.String())

		// Rows cached under other zones may cover a neighbouring date.
		if err := s.Invalidate(ctx, ownerID, widenDates(dates)); err != nil {
			log.Warn("day status invalidate failed", zap.Int("dates", len(dates)), zap.Error(err))
		}
		if err := s.recomputeMany(ctx, ownerID, dates, timezone, triggerMutation); err != nil {
			log.Warn("async day status recompute incomplete", zap.Int("dates", len(dates)), zap.Error(err))
		}
	}()
}

func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) location(timezone string) (string, *time.Location, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = s.tracking.Get().DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", nil, daystatusdomain.ErrInvalidTimezone
	}
	return timezone, loc, nil
}

func summarize(row daystatusdomain.DayStatus, isPast bool) daystatusdomain.Summary {
	return daystatusdomain.Summary{
		Status:       daystatusdomain.Derive(row.TotalCount, row.PlannedCount, row.TakenCount, isPast),
		TotalCount:   row.TotalCount,
		PlannedCount: row.PlannedCount,
		TakenCount:   row.TakenCount,
	}
}

func uniqueDates(dates []string) []string {
	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func widenDates(dates []string) []string {
	out := make([]string, 0, len(dates)*3)
	for _, d := range dates {
		day, err := time.Parse(recurrence.DateLayout, d)
		if err != nil {
			continue
		}
		out = append(out,
			day.AddDate(0, 0, -1).Format(recurrence.DateLayout),
			d,
			day.AddDate(0, 0, 1).Format(recurrence.DateLayout),
		)
	}
	return uniqueDates(out)
}
