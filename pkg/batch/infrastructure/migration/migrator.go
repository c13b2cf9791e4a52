// Package migration applies embedded SQL migrations with golang-migrate. Each migration
// set is an fs.FS holding one directory per database type and its own history table.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbconfig "github.com/tigerroll/parabatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/parabatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// MetadataMigrationsTable tracks the batch metadata schema.
const MetadataMigrationsTable = "batch_metadata_migrations"

// Set is one migration source.
type Set struct {
	Name string
	FS   fs.FS
	// Table records the applied versions of this set.
	Table string
}

// Metadata returns the migration set of the batch metadata store.
func Metadata() Set {
	sub, err := fs.Sub(resources, "resource")
	if err != nil {
		logger.Fatalf("Failed to open embedded metadata migrations: %v", err)
	}
	return Set{Name: "metadata", FS: sub, Table: MetadataMigrationsTable}
}

// Migrator runs migration sets against one database. Each run opens and closes its own
// connection, because closing a golang-migrate instance closes the database handle.
type Migrator struct {
	cfg dbconfig.DatabaseConfig
}

func NewMigrator(cfg dbconfig.DatabaseConfig) *Migrator {
	return &Migrator{cfg: cfg}
}

// Up applies all pending migrations of every set, in order.
func (m *Migrator) Up(ctx context.Context, sets ...Set) error {
	for _, set := range sets {
		if err := m.run(ctx, set, "up"); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back every migration of the sets, in reverse order.
func (m *Migrator) Down(ctx context.Context, sets ...Set) error {
	for i := len(sets) - 1; i >= 0; i-- {
		if err := m.run(ctx, sets[i], "down"); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) run(ctx context.Context, set Set, command string) error {
	const op = "migration"
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Infof("Executing migration '%s' of '%s' (DB: %s, Table: %s)", command, set.Name, m.cfg.Type, set.Table)

	db, err := gormadapter.Open(m.cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return exception.NewResourceAcquisitionError(op, "failed to get underlying sql.DB", err)
	}

	mInstance, err := m.newMigrate(sqlDB, set)
	if err != nil {
		_ = sqlDB.Close()
		return exception.NewResourceAcquisitionError(op, fmt.Sprintf("failed to prepare migrations of '%s'", set.Name), err)
	}
	defer func() {
		if srcErr, dbErr := mInstance.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("Failed to close migrate instance: source=%v db=%v", srcErr, dbErr)
		}
	}()

	switch command {
	case "up":
		err = mInstance.Up()
	case "down":
		err = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewResourceAcquisitionError(op, fmt.Sprintf("migration '%s' of '%s' failed", command, set.Name), err)
	}

	version, dirty, verErr := mInstance.Version()
	switch {
	case errors.Is(verErr, migrate.ErrNilVersion):
		logger.Infof("Migration '%s' of '%s' completed; no version applied.", command, set.Name)
	case verErr != nil:
		logger.Warnf("Migration '%s' of '%s' completed but version is unknown: %v", command, set.Name, verErr)
	default:
		logger.Infof("Migration '%s' of '%s' completed at version %d (dirty=%t).", command, set.Name, version, dirty)
	}
	return nil
}

func (m *Migrator) newMigrate(sqlDB *sql.DB, set Set) (*migrate.Migrate, error) {
	source, err := iofs.New(set.FS, m.cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source for %s: %w", m.cfg.Type, err)
	}
	driver, err := m.databaseDriver(sqlDB, set.Table)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithInstance("iofs", source, m.cfg.Type, driver)
}

func (m *Migrator) databaseDriver(sqlDB *sql.DB, table string) (database.Driver, error) {
	switch m.cfg.Type {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: table})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: table})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.cfg.Type)
	}
}
