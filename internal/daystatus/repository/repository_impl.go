package repository

import (
	"context"
	"fmt"

	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() daystatusdomain.Repository {
	return &repo{}
}

func (r *repo) LockDay(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, date, timezone string) error {
	switch db.Dialector.Name() {
	case "postgres":
		// The row may not exist yet, so lock the key rather than the row.
		return db.WithContext(ctx).
			Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey(ownerID, date, timezone)).Error
	case "sqlite":
		// sqlite admits one writer at a time.
		return nil
	default:
		// InnoDB next-key locks cover the gap when the row is absent.
		var rows []daystatusdomain.DayStatus
		return db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("owner_id").
			Where("owner_id = ? AND calendar_date = ? AND timezone = ?", ownerID, date, timezone).
			Find(&rows).Error
	}
}

func lockKey(ownerID snowflake.ID, date, timezone string) string {
	return fmt.Sprintf("day_status:%s:%s:%s", ownerID, date, timezone)
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, row *daystatusdomain.DayStatus) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "owner_id"}, {Name: "calendar_date"}, {Name: "timezone"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"total_count",
				"planned_count",
				"taken_count",
				"computed_at",
			}),
		}).
		Create(row).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, dates []string) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).
		Where("owner_id = ? AND calendar_date IN ?", ownerID, dates).
		Delete(&daystatusdomain.DayStatus{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListRange(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, timezone, from, to string) ([]daystatusdomain.DayStatus, error) {
	var items []daystatusdomain.DayStatus
	err := db.WithContext(ctx).
		Where("owner_id = ? AND timezone = ? AND calendar_date >= ? AND calendar_date <= ?", ownerID, timezone, from, to).
		Order("calendar_date ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
