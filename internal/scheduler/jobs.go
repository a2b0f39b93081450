package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Adherence reads day statuses in UTC, so the sweep keeps those rows fresh.
const sweepTimezone = "UTC"

// ExtendHorizonJob keeps open-ended templates generated a full horizon ahead
// of today. Inserts are idempotent, so overlapping runs are harmless.
func (s *Scheduler) ExtendHorizonJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobExtendHorizon, s.cfg.BatchSize)
	if owner {
		defer s.finishRun(ctx, run)
	}
	now := s.clock.Now().UTC()
	horizon := s.tracking.Get().HorizonDays

	var (
		jobErr error
		after  snowflake.ID
	)
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		templates, err := s.medications.ListOpenEndedTemplates(ctx, s.db, after, s.cfg.BatchSize)
		if err != nil {
			s.runFailed(ctx, run, "scheduler.templates.fetch.failed", 0, err)
			return errors.Join(jobErr, err)
		}
		if len(templates) == 0 {
			break
		}

		for i := range templates {
			tmpl := &templates[i]
			inserted, err := s.extendTemplate(ctx, tmpl, now, horizon)
			if err != nil {
				jobErr = errors.Join(jobErr, fmt.Errorf("template %s: %w", tmpl.ID, err))
				s.runFailed(ctx, run, "scheduler.template.extend.failed", tmpl.OwnerID, err,
					zap.String("template_id", tmpl.ID.String()),
				)
				continue
			}
			if inserted > 0 {
				run.done(1)
			}
		}

		after = templates[len(templates)-1].ID
		if len(templates) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) extendTemplate(ctx context.Context, tmpl *medicationdomain.DosingTemplate, now time.Time, horizonDays int) (int64, error) {
	rule, err := tmpl.Rule()
	if err != nil {
		return 0, err
	}
	loc := tmpl.Location()
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	window := rule
	if window.DateStart.Before(today) {
		window.DateStart = today
	}
	end := today.AddDate(0, 0, horizonDays)
	if end.Before(window.DateStart) {
		return 0, nil
	}
	window.DateEnd = &end

	var (
		instants []time.Time
		inserted int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Holding the medication row keeps a concurrent version or delete
		// from retiring the template underneath us.
		med, err := s.medications.FindActiveMedication(ctx, tx, tmpl.OwnerID, tmpl.MedicationID)
		if err != nil {
			return err
		}
		if med == nil {
			return nil
		}

		cutoff := now
		latest, err := s.events.LatestByTemplate(ctx, tx, tmpl.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.DateTime.After(cutoff) {
			cutoff = latest.DateTime
		}

		instants = recurrence.ExpandAfter(window, loc, cutoff)
		if len(instants) == 0 {
			return nil
		}
		inserted, err = s.events.BulkInsert(ctx, tx, s.buildEvents(tmpl, instants, now))
		return err
	})
	if err != nil {
		return 0, err
	}

	if inserted > 0 {
		s.metrics.RecordEventsGenerated(ctx, "horizon", inserted)
		s.dayStatus.RecomputeAsync(tmpl.OwnerID, recurrence.Dates(instants, loc), tmpl.Timezone)
	}
	return inserted, nil
}

// DayStatusSweepJob recomputes yesterday and today so rows computed while a
// day was still in the future flip to MISSED or PARTIAL once it has passed.
func (s *Scheduler) DayStatusSweepJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobDayStatusSweep, s.cfg.BatchSize)
	if owner {
		defer s.finishRun(ctx, run)
	}

	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	dates := []string{
		yesterday.Format(recurrence.DateLayout),
		today.Format(recurrence.DateLayout),
	}

	owners, err := s.events.ListOwnersBetween(ctx, s.db, yesterday, today.AddDate(0, 0, 1))
	if err != nil {
		s.runFailed(ctx, run, "scheduler.owners.fetch.failed", 0, err)
		return err
	}

	var jobErr error
	for _, ownerID := range owners {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.dayStatus.RecomputeMany(ctx, ownerID, dates, sweepTimezone); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("owner %s: %w", ownerID, err))
			s.runFailed(ctx, run, "scheduler.day_status.sweep.failed", ownerID, err)
			continue
		}
		run.done(1)
	}

	return jobErr
}

func (s *Scheduler) buildEvents(tmpl *medicationdomain.DosingTemplate, instants []time.Time, now time.Time) []doseeventdomain.DoseEvent {
	events := make([]doseeventdomain.DoseEvent, 0, len(instants))
	for _, at := range instants {
		events = append(events, doseeventdomain.DoseEvent{
			ID:           s.genID.Generate(),
			OwnerID:      tmpl.OwnerID,
			TemplateID:   tmpl.ID,
			MedicationID: tmpl.MedicationID,
			DateTime:     at.UTC(),
			Timezone:     tmpl.Timezone,
			Status:       doseeventdomain.StatusPlanned,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return events
}
