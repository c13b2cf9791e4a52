// Package writer provides item writers: a relational batch insert over gorm, a parquet
// part-file writer and an in-memory list writer.
package writer

import (
	"context"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// ParamMapper turns an item into the named parameters of the insert statement.
type ParamMapper[T any] func(item T) map[string]interface{}

// SQLBatchWriter executes a named-parameter statement once per item, all items of a
// chunk inside one database transaction. A failed chunk is rolled back as a whole.
type SQLBatchWriter[T any] struct {
	name            string
	db              *gorm.DB
	statement       string
	mapper          ParamMapper[T]
	concurrencySafe bool
}

var _ port.ItemWriter[struct{}] = (*SQLBatchWriter[struct{}])(nil)

// NewSQLBatchWriter creates a writer. statement uses @name placeholders, for example
// "INSERT INTO T(A) VALUES (@a)". concurrencySafe should be false for databases that
// serialize writers anyway (sqlite).
func NewSQLBatchWriter[T any](name string, db *gorm.DB, statement string, mapper ParamMapper[T], concurrencySafe bool) (*SQLBatchWriter[T], error) {
	if db == nil {
		return nil, exception.NewConfigurationError(name, "sql writer requires a database connection", nil)
	}
	if statement == "" || mapper == nil {
		return nil, exception.NewConfigurationError(name, "sql writer requires a statement and a parameter mapper", nil)
	}
	return &SQLBatchWriter[T]{
		name:            name,
		db:              db,
		statement:       statement,
		mapper:          mapper,
		concurrencySafe: concurrencySafe,
	}, nil
}

func (w *SQLBatchWriter[T]) ConcurrencySafe() bool { return w.concurrencySafe }

// Open checks the connection is usable.
func (w *SQLBatchWriter[T]) Open(ctx context.Context) error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return exception.NewResourceAcquisitionError(w.name, "failed to get database handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return exception.NewResourceAcquisitionError(w.name, "database is not reachable", err)
	}
	return nil
}

func (w *SQLBatchWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, item := range items {
			if err := tx.Exec(w.statement, w.mapper(item)).Error; err != nil {
				return fmt.Errorf("item %d of %d: %w", i+1, len(items), err)
			}
		}
		return nil
	})
	if err != nil {
		return exception.NewSinkWriteError(w.name, "chunk insert rolled back", err, isTransient(err))
	}
	logger.Debugf("SQLBatchWriter '%s': wrote %d items.", w.name, len(items))
	return nil
}

func (w *SQLBatchWriter[T]) Close(context.Context) error { return nil }

// isTransient separates errors worth retrying from constraint violations, which would
// fail the same way on every attempt.
func isTransient(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return false
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, 1451, 1452, 1048, 1406, 1366:
			return false
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return true
}
