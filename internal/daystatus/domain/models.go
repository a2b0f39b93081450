package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusNone      Status = "NONE"
	StatusScheduled Status = "SCHEDULED"
	StatusPartial   Status = "PARTIAL"
	StatusAllTaken  Status = "ALL_TAKEN"
	StatusMissed    Status = "MISSED"
)

// Derive maps a day's counts to its status. Rules are checked in order, so a
// day with some doses taken is PARTIAL whether it is past or not.
func Derive(total, planned, taken int, isPast bool) Status {
	switch {
	case total == 0:
		return StatusNone
	case taken == total:
		return StatusAllTaken
	case taken == 0 && isPast:
		return StatusMissed
	case planned == total && !isPast:
		return StatusScheduled
	default:
		return StatusPartial
	}
}

// DayStatus is the cached aggregate for one owner, calendar date and zone.
// It can always be rebuilt from dose_events.
type DayStatus struct {
	OwnerID      snowflake.ID `json:"owner_id" gorm:"column:owner_id;primaryKey"`
	Date         string       `json:"date" gorm:"column:calendar_date;primaryKey;type:varchar(10)"`
	Timezone     string       `json:"timezone" gorm:"column:timezone;primaryKey;type:varchar(64)"`
	Status       Status       `json:"status" gorm:"type:text;not null"`
	TotalCount   int          `json:"total_count" gorm:"not null"`
	PlannedCount int          `json:"planned_count" gorm:"not null"`
	TakenCount   int          `json:"taken_count" gorm:"not null"`
	ComputedAt   time.Time    `json:"computed_at" gorm:"not null"`
}

func (DayStatus) TableName() string { return "day_statuses" }

// Summary is the read shape of one day.
type Summary struct {
	Status       Status `json:"status"`
	TotalCount   int    `json:"total_count"`
	PlannedCount int    `json:"planned_count"`
	TakenCount   int    `json:"taken_count"`
}
