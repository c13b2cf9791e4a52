package sql_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
	sqlrepo "github.com/tigerroll/parabatch/pkg/batch/infrastructure/repository/sql"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&sqlrepo.JobExecutionEntity{}, &sqlrepo.StepOutcomeEntity{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestSQLJobRepository_JobExecutions(t *testing.T) {
	ctx := context.Background()
	repo := sqlrepo.NewSQLJobRepository(openDB(t))

	_, err := repo.FindLatestJobExecution(ctx, "multiThreadJob")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)

	params, err := model.ParseJobParameters([]string{"inputFlatFile=data/transactions.csv"})
	require.NoError(t, err)

	first := model.NewJobExecution("multiThreadJob", params)
	first.StartTime = time.Now().Add(-time.Minute)
	require.NoError(t, repo.SaveJobExecution(ctx, first))
	assert.Error(t, repo.SaveJobExecution(ctx, first), "duplicate primary key")

	second := model.NewJobExecution("multiThreadJob", params)
	require.NoError(t, repo.SaveJobExecution(ctx, second))
	second.MarkAsStarted()
	second.MarkAsFailed(errors.New("sink unavailable"))
	require.NoError(t, repo.UpdateJobExecution(ctx, second))

	latest, err := repo.FindLatestJobExecution(ctx, "multiThreadJob")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, model.BatchStatusFailed, latest.Status)
	assert.Equal(t, model.ExitStatusFailed, latest.ExitStatus)
	assert.NotNil(t, latest.EndTime)
	assert.Equal(t, "data/transactions.csv", latest.Parameters.GetString("inputFlatFile"))
	require.Len(t, latest.Failures(), 1)
	assert.Contains(t, latest.Failures()[0].Error(), "sink unavailable")

	wantHash, err := params.Hash()
	require.NoError(t, err)
	gotHash, err := latest.Parameters.Hash()
	require.NoError(t, err)
	assert.Equal(t, wantHash, gotHash, "string parameters survive the round trip")
}

func TestSQLJobRepository_UpdateUnknownExecution(t *testing.T) {
	repo := sqlrepo.NewSQLJobRepository(openDB(t))
	je := model.NewJobExecution("job", model.NewJobParameters())
	err := repo.UpdateJobExecution(context.Background(), je)
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestSQLJobRepository_StepOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := sqlrepo.NewSQLJobRepository(openDB(t))

	je := model.NewJobExecution("parallelStepJob", model.NewJobParameters())
	_, err := repo.PriorOutcome(ctx, je.ID, "flat-to-db")
	assert.ErrorIs(t, err, repository.ErrStepOutcomeNotFound)

	failed := model.NewStepExecution(je, "flat-to-db")
	failed.MarkAsStarted()
	failed.ItemCounts = model.ItemCounts{ReadCount: 10, WriteCount: 4, FailedCount: 6, CommitCount: 2, RollbackCount: 1}
	failed.MarkAsFailed(errors.New("duplicate key"))
	require.NoError(t, repo.RecordStepOutcome(ctx, je.JobName, failed))

	prior, err := repo.PriorOutcome(ctx, je.ID, "flat-to-db")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, prior.Status)
	assert.Equal(t, int64(6), prior.FailedCount)
	require.Error(t, prior.Err)
	assert.Contains(t, prior.Err.Error(), "duplicate key")

	done := model.NewStepExecution(je, "flat-to-db")
	done.MarkAsStarted()
	done.ItemCounts = model.ItemCounts{ReadCount: 10, WriteCount: 10, CommitCount: 5}
	done.MarkAsCompleted()
	require.NoError(t, repo.RecordStepOutcome(ctx, je.JobName, done))

	prior, err = repo.PriorOutcome(ctx, je.ID, "flat-to-db")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, prior.Status)
	assert.Equal(t, model.ExitStatusCompleted, prior.ExitStatus)
	assert.Equal(t, int64(10), prior.WriteCount)
	assert.NoError(t, prior.Err)

	other := model.NewJobExecution("parallelStepJob", model.NewJobParameters())
	_, err = repo.PriorOutcome(ctx, other.ID, "flat-to-db")
	assert.ErrorIs(t, err, repository.ErrStepOutcomeNotFound, "outcomes are scoped by job execution")
}
