package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// Models lists the tables the tracking core owns, in dependency order.
func Models() []any {
	return []any{
		&medicationdomain.Medication{},
		&medicationdomain.DosingTemplate{},
		&doseeventdomain.DoseEvent{},
		&daystatusdomain.DayStatus{},
	}
}

// AutoMigrate creates the schema from the gorm models. Used for the sqlite
// and mysql dialects, which the SQL migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
