package transaction

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/parabatch/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// MigrationsTable tracks the application schema separately from the batch metadata.
const MigrationsTable = "batch_app_migrations"

//go:embed migrations
var migrations embed.FS

// Migrations returns the migration set creating the TRANSACTIONS table.
func Migrations() migration.Set {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		logger.Fatalf("Failed to open embedded transaction migrations: %v", err)
	}
	return migration.Set{Name: "transactions", FS: sub, Table: MigrationsTable}
}
