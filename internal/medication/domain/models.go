package domain

import (
	"time"

	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Medication rows are never edited once they have a successor. A versioned
// edit tombstones the row and inserts a new one pointing back at it.
type Medication struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	OwnerID              snowflake.ID  `json:"owner_id" gorm:"column:owner_id;not null;index"`
	Name                 string        `json:"name" gorm:"type:text;not null"`
	Strength             string        `json:"strength" gorm:"type:text"`
	Form                 string        `json:"form" gorm:"type:text"`
	PreviousMedicationID *snowflake.ID `json:"previous_medication_id,omitempty" gorm:"column:previous_medication_id;index"`
	CreatedAt            time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time     `json:"updated_at" gorm:"not null"`
	DeletedAt            *time.Time    `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

func (Medication) TableName() string { return "medications" }

func (m *Medication) Active() bool { return m != nil && m.DeletedAt == nil }

const (
	MealBefore  = "before"
	MealWith    = "with"
	MealAfter   = "after"
	MealAnytime = "anytime"
)

// DosingTemplate is the recurrence rule of one medication version. DateStart
// and DateEnd are calendar dates in Timezone.
type DosingTemplate struct {
	ID            snowflake.ID                `json:"id" gorm:"primaryKey"`
	OwnerID       snowflake.ID                `json:"owner_id" gorm:"column:owner_id;not null;index"`
	MedicationID  snowflake.ID                `json:"medication_id" gorm:"column:medication_id;not null;index"`
	Quantity      float64                     `json:"quantity" gorm:"not null"`
	Units         string                      `json:"units" gorm:"type:text;not null"`
	FrequencyDays datatypes.JSONSlice[int]    `json:"frequency_days" gorm:"column:frequency_days;not null"`
	TimeOfDay     datatypes.JSONSlice[string] `json:"time_of_day" gorm:"column:time_of_day;not null"`
	DurationDays  int                         `json:"duration_days" gorm:"not null;default:0"`
	DateStart     string                      `json:"date_start" gorm:"column:date_start;type:varchar(10);not null"`
	DateEnd       *string                     `json:"date_end,omitempty" gorm:"column:date_end;type:varchar(10)"`
	MealTiming    string                      `json:"meal_timing" gorm:"type:text;not null"`
	Timezone      string                      `json:"timezone" gorm:"type:text;not null"`
	CreatedAt     time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time                   `json:"updated_at" gorm:"not null"`
	DeletedAt     *time.Time                  `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

func (DosingTemplate) TableName() string { return "dose_templates" }

// Rule converts the stored template into an expander rule.
func (t *DosingTemplate) Rule() (recurrence.Rule, error) {
	start, err := recurrence.ParseDate(t.DateStart)
	if err != nil {
		return recurrence.Rule{}, err
	}
	rule := recurrence.Rule{
		DateStart:     start,
		FrequencyDays: []int(t.FrequencyDays),
		TimeOfDay:     []string(t.TimeOfDay),
	}
	if t.DateEnd != nil {
		end, err := recurrence.ParseDate(*t.DateEnd)
		if err != nil {
			return recurrence.Rule{}, &recurrence.ValidationError{Field: "date_end", Code: recurrence.CodeInvalidFormat}
		}
		rule.DateEnd = &end
	}
	return rule, nil
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (t *DosingTemplate) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
