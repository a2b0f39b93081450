package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPlanned Status = "PLANNED"
	StatusDone    Status = "DONE"
)

// DoseEvent is one concrete occurrence of a dose. Only Status and TakenAt
// change after insert.
type DoseEvent struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	OwnerID      snowflake.ID `json:"owner_id" gorm:"column:owner_id;not null;index:idx_dose_events_owner_time,priority:1"`
	TemplateID   snowflake.ID `json:"template_id" gorm:"column:template_id;not null;uniqueIndex:ux_dose_events_template_time,priority:1"`
	MedicationID snowflake.ID `json:"medication_id" gorm:"column:medication_id;not null;index"`
	DateTime     time.Time    `json:"date_time" gorm:"column:date_time;not null;uniqueIndex:ux_dose_events_template_time,priority:2;index:idx_dose_events_owner_time,priority:2"`
	Timezone     string       `json:"timezone" gorm:"type:text;not null"`
	Status       Status       `json:"status" gorm:"type:text;not null;default:PLANNED"`
	TakenAt      *time.Time   `json:"taken_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (DoseEvent) TableName() string { return "dose_events" }

// Filter selects events by template or by medication. Exactly one is set.
type Filter struct {
	TemplateID   *snowflake.ID
	MedicationID *snowflake.ID
}

func ByTemplate(id snowflake.ID) Filter   { return Filter{TemplateID: &id} }
func ByMedication(id snowflake.ID) Filter { return Filter{MedicationID: &id} }

// ScheduledDose is an event joined with its template and medication for
// display.
type ScheduledDose struct {
	ID             snowflake.ID `gorm:"column:id"`
	TemplateID     snowflake.ID `gorm:"column:template_id"`
	MedicationID   snowflake.ID `gorm:"column:medication_id"`
	DateTime       time.Time    `gorm:"column:date_time"`
	Timezone       string       `gorm:"column:timezone"`
	Status         Status       `gorm:"column:status"`
	TakenAt        *time.Time   `gorm:"column:taken_at"`
	MedicationName string       `gorm:"column:medication_name"`
	Strength       string       `gorm:"column:strength"`
	Form           string       `gorm:"column:form"`
	Quantity       float64      `gorm:"column:quantity"`
	Units          string       `gorm:"column:units"`
	MealTiming     string       `gorm:"column:meal_timing"`
}

// Counts aggregates events over a half-open instant range.
type Counts struct {
	Total   int `gorm:"column:total"`
	Planned int `gorm:"column:planned"`
	Taken   int `gorm:"column:taken"`
}
