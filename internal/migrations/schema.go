package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migrations: db cannot be nil")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB, logger zerolog.Logger) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	currentVersion := uint(0)
	if v, _, verr := m.Version(); verr == nil {
		currentVersion = v
		logger.Info().Uint("version", v).Msg("migrations: current schema version")
	} else if errors.Is(verr, migrate.ErrNilVersion) {
		logger.Info().Msg("migrations: no existing migration version (fresh database)")
	} else {
		logger.Warn().Err(verr).Msg("migrations: unable to determine current version")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Uint("version", currentVersion).Msg("migrations: database is up to date")
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		logger.Info().Uint("version", v).Msg("migrations: applied")
	}

	return nil
}

// Status reports the current schema version and whether it is dirty.
func Status(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: read version: %w", err)
	}
	return version, dirty, nil
}

// FixDirtyDatabase rolls a dirty schema version back to the previous clean
// version so that Up can re-apply the failed migration.
func FixDirtyDatabase(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrations: read version: %w", err)
	}
	if !dirty {
		return nil
	}

	target := int(version) - 1
	if target < 1 {
		target = -1 // golang-migrate's "no version"
	}
	if err := m.Force(target); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", target, err)
	}
	return nil
}

// ForceVersion sets the schema version without running migrations.
func ForceVersion(db *sql.DB, version uint) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", version, err)
	}
	return nil
}

// IsDirty reports whether err is golang-migrate's dirty-database error.
func IsDirty(err error) bool {
	var dirty migrate.ErrDirty
	return errors.As(err, &dirty)
}
