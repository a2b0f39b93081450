package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertMedication(ctx context.Context, db *gorm.DB, med *Medication) error
	// FindMedication returns the row whether or not it is tombstoned.
	FindMedication(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*Medication, error)
	// FindActiveMedication locks the row for update where the dialect allows it.
	FindActiveMedication(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*Medication, error)
	FindSuccessor(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*Medication, error)
	UpdateMedicationAttributes(ctx context.Context, db *gorm.DB, med *Medication) error
	TombstoneMedication(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID, at time.Time) (int64, error)

	InsertTemplate(ctx context.Context, db *gorm.DB, tmpl *DosingTemplate) error
	ListActiveTemplates(ctx context.Context, db *gorm.DB, ownerID, medicationID snowflake.ID) ([]DosingTemplate, error)
	TombstoneTemplates(ctx context.Context, db *gorm.DB, ownerID, medicationID snowflake.ID, at time.Time) (int64, error)
	// ListOpenEndedTemplates pages active templates without an end date in id
	// order, starting after afterID.
	ListOpenEndedTemplates(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]DosingTemplate, error)
}
