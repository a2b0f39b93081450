package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateMedication(ctx context.Context, req CreateMedicationRequest) (*Medication, error)
	CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*CreateTemplateResult, error)
	UpdateMedication(ctx context.Context, req UpdateMedicationRequest) (*UpdateMedicationResult, error)
	// CreateVersion replaces a medication and its active template with a new
	// linked version. Future PLANNED events of the old version are removed and
	// regenerated for the new one; past and DONE events are kept.
	CreateVersion(ctx context.Context, req CreateVersionRequest) (*VersionResult, error)
	DeleteWithCleanup(ctx context.Context, req DeleteRequest) (*CleanupResult, error)
	ListVersions(ctx context.Context, ownerID, medicationID snowflake.ID) ([]Medication, error)
}

type Attributes struct {
	Name     string `json:"name"`
	Strength string `json:"strength"`
	Form     string `json:"form"`
}

type CreateMedicationRequest struct {
	OwnerID snowflake.ID `json:"-"`
	Attributes
}

type CreateTemplateRequest struct {
	OwnerID       snowflake.ID `json:"-"`
	MedicationID  string       `json:"medication_id"`
	Quantity      float64      `json:"quantity"`
	Units         string       `json:"units"`
	FrequencyDays []int        `json:"frequency_days"`
	DurationDays  int          `json:"duration_days"`
	DateStart     string       `json:"date_start"`
	TimeOfDay     []string     `json:"time_of_day"`
	MealTiming    string       `json:"meal_timing"`
	Timezone      string       `json:"timezone"`
}

type CreateTemplateResult struct {
	Template      *DosingTemplate `json:"template"`
	Generated     int64           `json:"generated"`
	AffectedDates []string        `json:"affected_dates"`
}

// UpdateMedicationRequest carries optional display attributes. A versioned
// edit happens when CreateVersion is set or the medication has an active
// template.
type UpdateMedicationRequest struct {
	OwnerID       snowflake.ID `json:"-"`
	MedicationID  snowflake.ID `json:"-"`
	Name          *string      `json:"name"`
	Strength      *string      `json:"dose"`
	Form          *string      `json:"form"`
	CreateVersion bool         `json:"createVersion"`
}

type UpdateMedicationResult struct {
	Medication *Medication    `json:"medication"`
	Versioned  bool           `json:"versioned"`
	Version    *VersionResult `json:"version,omitempty"`
}

type CreateVersionRequest struct {
	OwnerID              snowflake.ID
	PreviousMedicationID snowflake.ID
	Attributes           Attributes
	Now                  time.Time
}

type VersionResult struct {
	Medication    *Medication     `json:"medication"`
	Template      *DosingTemplate `json:"template,omitempty"`
	Deleted       int64           `json:"deleted"`
	Generated     int64           `json:"generated"`
	AffectedDates []string        `json:"affected_dates"`
}

type DeleteRequest struct {
	OwnerID      snowflake.ID
	MedicationID snowflake.ID
	Now          time.Time
}

type CleanupResult struct {
	Deleted       int64    `json:"deleted"`
	AffectedDates []string `json:"affected_dates"`
}

var (
	ErrInvalidOwner         = errors.New("invalid_owner")
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidUnits         = errors.New("invalid_units")
	ErrInvalidDuration      = errors.New("invalid_duration")
	ErrInvalidMealTiming    = errors.New("invalid_meal_timing")
	ErrInvalidTimezone      = errors.New("invalid_timezone")
	ErrActiveTemplateExists = errors.New("active_template_exists")
	ErrNotFound             = errors.New("not_found")
)
