package service

import (
	"context"
	"strings"
	"time"

	"github.com/MMatviiuk/medtrack/internal/clock"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	"github.com/MMatviiuk/medtrack/internal/observability/metrics"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      doseeventdomain.Repository
	DayStatus daystatusdomain.Service
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      doseeventdomain.Repository
	dayStatus daystatusdomain.Service
	metrics   *metrics.Metrics
}

func New(p Params) doseeventdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("doseevent.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		dayStatus: p.DayStatus,
		metrics:   p.Metrics,
	}
}

// Mark applies PLANNED -> DONE. Marking a DONE event DONE again is a no-op;
// there is no way back to PLANNED.
func (s *Service) Mark(ctx context.Context, req doseeventdomain.MarkRequest) (*doseeventdomain.Response, error) {
	if req.OwnerID == 0 {
		return nil, doseeventdomain.ErrInvalidOwner
	}
	if req.EventID == 0 {
		return nil, doseeventdomain.ErrInvalidID
	}
	target := doseeventdomain.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if target != doseeventdomain.StatusPlanned && target != doseeventdomain.StatusDone {
		return nil, doseeventdomain.ErrInvalidStatus
	}

	var (
		event   *doseeventdomain.DoseEvent
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, req.OwnerID, req.EventID)
		if err != nil {
			return err
		}
		if current == nil {
			return doseeventdomain.ErrNotFound
		}

		switch {
		case current.Status == target:
			event = current
			return nil
		case current.Status == doseeventdomain.StatusDone && target == doseeventdomain.StatusPlanned:
			return doseeventdomain.ErrInvalidTransition
		}

		takenAt := s.clock.Now().UTC()
		affected, err := s.repo.MarkDone(ctx, tx, req.OwnerID, req.EventID, takenAt)
		if err != nil {
			return err
		}
		changed = affected > 0

		event, err = s.repo.FindByID(ctx, tx, req.OwnerID, req.EventID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.RecordEventMarked(ctx, string(doseeventdomain.StatusDone))
		date := recurrence.Dates([]time.Time{event.DateTime}, s.loadLocation(event.Timezone))
		s.dayStatus.RecomputeAsync(event.OwnerID, date, event.Timezone)
		s.log.Debug("dose event marked",
			zap.String("event_id", event.ID.String()),
			zap.String("owner_id", event.OwnerID.String()),
		)
	}

	return toResponse(event), nil
}

func (s *Service) ListRange(ctx context.Context, req doseeventdomain.ListRangeRequest) ([]doseeventdomain.ScheduledResponse, error) {
	if req.OwnerID == 0 {
		return nil, doseeventdomain.ErrInvalidOwner
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		return nil, doseeventdomain.ErrInvalidRange
	}

	items, err := s.repo.QueryRange(ctx, s.db, req.OwnerID, req.From, req.To)
	if err != nil {
		return nil, err
	}

	out := make([]doseeventdomain.ScheduledResponse, 0, len(items))
	for _, item := range items {
		out = append(out, doseeventdomain.ScheduledResponse{
			Response: doseeventdomain.Response{
				ID:           item.ID.String(),
				TemplateID:   item.TemplateID.String(),
				MedicationID: item.MedicationID.String(),
				DateTime:     item.DateTime.UTC(),
				Status:       string(item.Status),
				TakenAt:      item.TakenAt,
			},
			MedicationName: item.MedicationName,
			Strength:       item.Strength,
			Form:           item.Form,
			Quantity:       item.Quantity,
			Units:          item.Units,
			MealTiming:     item.MealTiming,
		})
	}
	return out, nil
}

func (s *Service) loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func toResponse(ev *doseeventdomain.DoseEvent) *doseeventdomain.Response {
	if ev == nil {
		return nil
	}
	return &doseeventdomain.Response{
		ID:           ev.ID.String(),
		TemplateID:   ev.TemplateID.String(),
		MedicationID: ev.MedicationID.String(),
		DateTime:     ev.DateTime.UTC(),
		Status:       string(ev.Status),
		TakenAt:      ev.TakenAt,
	}
}
