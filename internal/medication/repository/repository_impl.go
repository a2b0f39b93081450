package repository

import (
	"context"
	"time"

	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() medicationdomain.Repository {
	return &repo{}
}

func (r *repo) InsertMedication(ctx context.Context, db *gorm.DB, med *medicationdomain.Medication) error {
	return db.WithContext(ctx).Create(med).Error
}

func (r *repo) FindMedication(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*medicationdomain.Medication, error) {
	var med medicationdomain.Medication
	err := db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&med).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &med, nil
}

func (r *repo) FindActiveMedication(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*medicationdomain.Medication, error) {
	var med medicationdomain.Medication
	stmt := db.WithContext(ctx)
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.
		Where("owner_id = ? AND id = ? AND deleted_at IS NULL", ownerID, id).
		First(&med).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &med, nil
}

func (r *repo) FindSuccessor(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID) (*medicationdomain.Medication, error) {
	var med medicationdomain.Medication
	err := db.WithContext(ctx).
		Where("owner_id = ? AND previous_medication_id = ?", ownerID, id).
		Order("id ASC").
		First(&med).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &med, nil
}

func (r *repo) UpdateMedicationAttributes(ctx context.Context, db *gorm.DB, med *medicationdomain.Medication) error {
	return db.WithContext(ctx).Exec(
		`UPDATE medications
		 SET name = ?, strength = ?, form = ?, updated_at = ?
		 WHERE owner_id = ? AND id = ? AND deleted_at IS NULL`,
		med.Name,
		med.Strength,
		med.Form,
		med.UpdatedAt,
		med.OwnerID,
		med.ID,
	).Error
}

func (r *repo) TombstoneMedication(ctx context.Context, db *gorm.DB, ownerID, id snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE medications SET deleted_at = ?, updated_at = ?
		 WHERE owner_id = ? AND id = ? AND deleted_at IS NULL`,
		at.UTC(), at.UTC(), ownerID, id,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) InsertTemplate(ctx context.Context, db *gorm.DB, tmpl *medicationdomain.DosingTemplate) error {
	return db.WithContext(ctx).Create(tmpl).Error
}

func (r *repo) ListActiveTemplates(ctx context.Context, db *gorm.DB, ownerID, medicationID snowflake.ID) ([]medicationdomain.DosingTemplate, error) {
	var items []medicationdomain.DosingTemplate
	err := db.WithContext(ctx).
		Where("owner_id = ? AND medication_id = ? AND deleted_at IS NULL", ownerID, medicationID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TombstoneTemplates(ctx context.Context, db *gorm.DB, ownerID, medicationID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE dose_templates SET deleted_at = ?, updated_at = ?
		 WHERE owner_id = ? AND medication_id = ? AND deleted_at IS NULL`,
		at.UTC(), at.UTC(), ownerID, medicationID,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListOpenEndedTemplates(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]medicationdomain.DosingTemplate, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []medicationdomain.DosingTemplate
	err := db.WithContext(ctx).
		Where("deleted_at IS NULL AND date_end IS NULL AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
