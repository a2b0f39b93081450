package repository

import (
	"context"
	"time"

	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

type repo struct{}

func Provide() doseeventdomain.Repository {
	return &repo{}
}

func (r *repo) BulkInsert(ctx context.Context, db *gorm.DB, events []doseeventdomain.DoseEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([]doseeventdomain.DoseEvent, len(events))
	for i, ev := range events {
		ev.DateTime = ev.DateTime.UTC()
		if ev.Status == "" {
			ev.Status = doseeventdomain.StatusPlanned
		}
		rows[i] = ev
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "template_id"}, {Name: "date_time"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, insertBatchSize)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListFuturePlanned(ctx context.Context, db *gorm.DB, filter doseeventdomain.Filter, cutoff time.Time) ([]doseeventdomain.DoseEvent, error) {
	stmt, err := futurePlanned(db.WithContext(ctx), filter, cutoff)
	if err != nil {
		return nil, err
	}

	var items []doseeventdomain.DoseEvent
	if err := stmt.Order("date_time ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteFuturePlanned(ctx context.Context, db *gorm.DB, filter doseeventdomain.Filter, cutoff time.Time) (int64, error) {
	stmt, err := futurePlanned(db.WithContext(ctx), filter, cutoff)
	if err != nil {
		return 0, err
	}

	result := stmt.Delete(&doseeventdomain.DoseEvent{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListFutureDone(ctx context.Context, db *gorm.DB, filter doseeventdomain.Filter, cutoff time.Time) ([]doseeventdomain.DoseEvent, error) {
	stmt, err := futureWithStatus(db.WithContext(ctx), filter, cutoff, doseeventdomain.StatusDone)
	if err != nil {
		return nil, err
	}

	var items []doseeventdomain.DoseEvent
	if err := stmt.Order("date_time ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func futurePlanned(db *gorm.DB, filter doseeventdomain.Filter, cutoff time.Time) (*gorm.DB, error) {
	return futureWithStatus(db, filter, cutoff, doseeventdomain.StatusPlanned)
}

func futureWithStatus(db *gorm.DB, filter doseeventdomain.Filter, cutoff time.Time, status doseeventdomain.Status) (*gorm.DB, error) {
	stmt := db.Model(&doseeventdomain.DoseEvent{})
	switch {
	case filter.TemplateID != nil && filter.MedicationID == nil:
		stmt = stmt.Where("template_id = ?", *filter.TemplateID)
	case filter.MedicationID != nil && filter.TemplateID == nil:
		stmt = stmt.Where("medication_id = ?", *filter.MedicationID)
	default:
		return nil, doseeventdomain.ErrInvalidFilter
	}
	return stmt.Where("status = ? AND date_time >= ?", status, cutoff.UTC()), nil
}

func (r *repo) QueryRange(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, from, to time.Time) ([]doseeventdomain.ScheduledDose, error) {
	var items []doseeventdomain.ScheduledDose
	err := db.WithContext(ctx).Raw(
		`SELECT e.id, e.template_id, e.medication_id, e.date_time, e.timezone, e.status, e.taken_at,
		        m.name AS medication_name, m.strength, m.form,
		        t.quantity, t.units, t.meal_timing
		 FROM dose_events e
		 JOIN medications m ON m.id = e.medication_id
		 JOIN dose_templates t ON t.id = e.template_id
		 WHERE e.owner_id = ? AND e.date_time >= ? AND e.date_time <= ?
		 ORDER BY e.date_time ASC, e.id ASC`,
		ownerID, from.UTC(), to.UTC(),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*doseeventdomain.DoseEvent, error) {
	var ev doseeventdomain.DoseEvent
	err := db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&ev).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func (r *repo) LatestByTemplate(ctx context.Context, db *gorm.DB, templateID snowflake.ID) (*doseeventdomain.DoseEvent, error) {
	var ev doseeventdomain.DoseEvent
	err := db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("date_time DESC").
		Take(&ev).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

// MarkDone only transitions PLANNED rows, so a concurrent second mark
// affects zero rows.
func (r *repo) MarkDone(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID, takenAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE dose_events
		 SET status = ?, taken_at = ?, updated_at = ?
		 WHERE owner_id = ? AND id = ? AND status = ?`,
		doseeventdomain.StatusDone,
		takenAt.UTC(),
		takenAt.UTC(),
		ownerID,
		id,
		doseeventdomain.StatusPlanned,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) CountBetween(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, start, end time.Time) (doseeventdomain.Counts, error) {
	var counts doseeventdomain.Counts
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total,
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS planned,
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS taken
		 FROM dose_events
		 WHERE owner_id = ? AND date_time >= ? AND date_time < ?`,
		doseeventdomain.StatusPlanned,
		doseeventdomain.StatusDone,
		ownerID,
		start.UTC(),
		end.UTC(),
	).Scan(&counts).Error
	return counts, err
}

func (r *repo) ListOwnersBetween(ctx context.Context, db *gorm.DB, start, end time.Time) ([]snowflake.ID, error) {
	var owners []snowflake.ID
	err := db.WithContext(ctx).
		Model(&doseeventdomain.DoseEvent{}).
		Where("date_time >= ? AND date_time < ?", start.UTC(), end.UTC()).
		Distinct("owner_id").
		Order("owner_id ASC").
		Pluck("owner_id", &owners).Error
	if err != nil {
		return nil, err
	}
	return owners, nil
}
