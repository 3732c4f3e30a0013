package sqlite

import (
	"errors"

	"github.com/aussiebroadwan/loginkit/pkg/storage/drivers/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// ApplyMigrations applies any pending migrations from the embedded files.
func (s *Store) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return err
	}

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
