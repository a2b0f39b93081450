package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// MaxRangeDays caps a single ReadRange call.
const MaxRangeDays = 400

type Service interface {
	Recompute(ctx context.Context, ownerID snowflake.ID, date, timezone string) (*DayStatus, error)
	// RecomputeMany recomputes each date independently. One date failing does
	// not stop the others; all failures are joined into the returned error.
	RecomputeMany(ctx context.Context, ownerID snowflake.ID, dates []string, timezone string) error
	// Invalidate drops cached rows for the dates in every timezone.
	Invalidate(ctx context.Context, ownerID snowflake.ID, dates []string) error
	// ReadRange returns an entry for every date in [from, to], computing
	// missing rows before returning.
	ReadRange(ctx context.Context, ownerID snowflake.ID, from, to, timezone string) (map[string]Summary, error)
	// RecomputeAsync refreshes the dates in the background after a write.
	// Failures are logged, never returned.
	RecomputeAsync(ownerID snowflake.ID, dates []string, timezone string)
	// Drain waits for in-flight background recomputes.
	Drain(ctx context.Context) error
}

var (
	ErrInvalidOwner    = errors.New("invalid_owner")
	ErrInvalidDate     = errors.New("invalid_date")
	ErrInvalidTimezone = errors.New("invalid_timezone")
	ErrInvalidRange    = errors.New("invalid_range")
	ErrRangeTooLarge   = errors.New("range_too_large")
)
