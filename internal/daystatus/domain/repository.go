package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// LockDay holds a lock on one (owner, date, timezone) row until the
	// surrounding transaction ends, so overlapping recomputes of the same day
	// apply in commit order.
	LockDay(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, date, timezone string) error
	Upsert(ctx context.Context, db *gorm.DB, row *DayStatus) error
	Delete(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, dates []string) (int64, error)
	ListRange(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, timezone, from, to string) ([]DayStatus, error)
}
