package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// BulkInsert skips rows that collide on (template_id, date_time) and
	// returns the number actually inserted.
	BulkInsert(ctx context.Context, db *gorm.DB, events []DoseEvent) (int64, error)
	ListFuturePlanned(ctx context.Context, db *gorm.DB, filter Filter, cutoff time.Time) ([]DoseEvent, error)
	// DeleteFuturePlanned removes PLANNED rows at or after cutoff. DONE rows
	// and rows before cutoff are never touched.
	DeleteFuturePlanned(ctx context.Context, db *gorm.DB, filter Filter, cutoff time.Time) (int64, error)
	// ListFutureDone returns doses at or after cutoff that were taken early.
	ListFutureDone(ctx context.Context, db *gorm.DB, filter Filter, cutoff time.Time) ([]DoseEvent, error)
	QueryRange(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, from, to time.Time) ([]ScheduledDose, error)
	// LatestByTemplate returns the template's last event by instant, or nil.
	LatestByTemplate(ctx context.Context, db *gorm.DB, templateID snowflake.ID) (*DoseEvent, error)
	FindByID(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*DoseEvent, error)
	MarkDone(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID, takenAt time.Time) (int64, error)
	CountBetween(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, start, end time.Time) (Counts, error)
	ListOwnersBetween(ctx context.Context, db *gorm.DB, start, end time.Time) ([]snowflake.ID, error)
}
