package transaction

import (
	"gorm.io/gorm"

	"github.com/tigerroll/parabatch/pkg/batch/component/resource"
	"github.com/tigerroll/parabatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/parabatch/pkg/batch/component/step/writer"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/usecase"
	"github.com/tigerroll/parabatch/pkg/batch/core/config"
	"github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/flow"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/split"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/configbinder"
)

// Job names.
const (
	MultiThreadJob      = "multiThreadJob"
	ParallelStepJob     = "parallelStepJob"
	SequentialImportJob = "sequentialImportJob"
	ParquetExportJob    = "parquetExportJob"
)

// Step names.
const (
	FileImportStep    = "fileImport"
	FlatToDBStep      = "flat-to-db"
	XMLToDBStep       = "xml-to-db"
	FlatToParquetStep = "flat-to-parquet"
)

type flatParams struct {
	InputFlatFile string `mapstructure:"inputFlatFile" validate:"required"`
}

type importParams struct {
	InputFlatFile string `mapstructure:"inputFlatFile" validate:"required"`
	InputXMLFile  string `mapstructure:"inputXmlFile" validate:"required"`
}

type exportParams struct {
	InputFlatFile   string `mapstructure:"inputFlatFile" validate:"required"`
	OutputDir       string `mapstructure:"outputDir" validate:"required"`
	// CompressionType is optional; empty selects SNAPPY.
	CompressionType string `mapstructure:"compressionType"`
}

// Jobs builds the transaction jobs on shared infrastructure. Every launch gets fresh
// readers and writers.
type Jobs struct {
	DB     *gorm.DB
	Opener resource.Opener
	Batch  config.BatchConfig
	// ConcurrentWrites lets a worker pool write chunks to the database in parallel.
	// Leave it off for sqlite.
	ConcurrentWrites bool
	// StepOptions attach listeners, metrics and tracing to every step.
	StepOptions []item.Option
	Listeners   []port.JobExecutionListener
}

// Register adds every transaction job to registry.
func (j *Jobs) Register(registry *usecase.JobRegistry) {
	registry.Register(MultiThreadJob, j.multiThreadJob)
	registry.Register(ParallelStepJob, j.parallelStepJob)
	registry.Register(SequentialImportJob, j.sequentialImportJob)
	registry.Register(ParquetExportJob, j.parquetExportJob)
}

func (j *Jobs) multiThreadJob(params model.JobParameters) (*runner.Job, error) {
	var p flatParams
	if err := configbinder.Bind(MultiThreadJob, params.Params, &p); err != nil {
		return nil, err
	}
	step, err := j.flatToDB(FileImportStep, p.InputFlatFile)
	if err != nil {
		return nil, err
	}
	return runner.NewJob(MultiThreadJob, flow.New(MultiThreadJob, flow.Step(step)), j.Listeners...)
}

func (j *Jobs) parallelStepJob(params model.JobParameters) (*runner.Job, error) {
	var p importParams
	if err := configbinder.Bind(ParallelStepJob, params.Params, &p); err != nil {
		return nil, err
	}
	flat, err := j.flatToDB(FlatToDBStep, p.InputFlatFile)
	if err != nil {
		return nil, err
	}
	xmlStep, err := j.xmlToDB(XMLToDBStep, p.InputXMLFile)
	if err != nil {
		return nil, err
	}
	root := flow.New(ParallelStepJob,
		split.New("split",
			flow.New("firstFlow", flow.Step(flat)),
			flow.New("secondFlow", flow.Step(xmlStep)),
		),
	)
	return runner.NewJob(ParallelStepJob, root, j.Listeners...)
}

func (j *Jobs) sequentialImportJob(params model.JobParameters) (*runner.Job, error) {
	var p importParams
	if err := configbinder.Bind(SequentialImportJob, params.Params, &p); err != nil {
		return nil, err
	}
	flat, err := j.flatToDB(FlatToDBStep, p.InputFlatFile)
	if err != nil {
		return nil, err
	}
	xmlStep, err := j.xmlToDB(XMLToDBStep, p.InputXMLFile)
	if err != nil {
		return nil, err
	}
	root := flow.New(SequentialImportJob, flow.Step(flat), flow.Step(xmlStep))
	return runner.NewJob(SequentialImportJob, root, j.Listeners...)
}

func (j *Jobs) parquetExportJob(params model.JobParameters) (*runner.Job, error) {
	var p exportParams
	if err := configbinder.Bind(ParquetExportJob, params.Params, &p); err != nil {
		return nil, err
	}
	src, err := j.flatReader(FlatToParquetStep, p.InputFlatFile)
	if err != nil {
		return nil, err
	}
	sinkConfig, err := writer.DecodeParquetWriterConfig(map[string]interface{}{
		"outputDir":       p.OutputDir,
		"filePrefix":      "transactions",
		"compressionType": p.CompressionType,
	})
	if err != nil {
		return nil, err
	}
	sink, err := writer.NewParquetWriter[Transaction, Row](FlatToParquetStep, sinkConfig, ToRow)
	if err != nil {
		return nil, err
	}
	step, err := item.NewPassThroughStep[Transaction](FlatToParquetStep, src, sink, j.settings(FlatToParquetStep), j.StepOptions...)
	if err != nil {
		return nil, err
	}
	return runner.NewJob(ParquetExportJob, flow.New(ParquetExportJob, flow.Step(step)), j.Listeners...)
}

func (j *Jobs) flatToDB(stepName, locator string) (port.Step, error) {
	src, err := j.flatReader(stepName, locator)
	if err != nil {
		return nil, err
	}
	sink, err := j.sqlWriter(stepName)
	if err != nil {
		return nil, err
	}
	step, err := item.NewPassThroughStep[Transaction](stepName, src, sink, j.settings(stepName), j.StepOptions...)
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (j *Jobs) xmlToDB(stepName, locator string) (port.Step, error) {
	src, err := reader.NewXMLFragmentReader[Record, Transaction](stepName, reader.XMLFragmentConfig{
		Resource:     locator,
		FragmentRoot: FragmentRoot,
	}, j.Opener, MapRecord)
	if err != nil {
		return nil, err
	}
	sink, err := j.sqlWriter(stepName)
	if err != nil {
		return nil, err
	}
	step, err := item.NewPassThroughStep[Transaction](stepName, src, sink, j.settings(stepName), j.StepOptions...)
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (j *Jobs) flatReader(stepName, locator string) (*reader.FlatFileReader[Transaction], error) {
	return reader.NewFlatFileReader[Transaction](stepName, reader.FlatFileConfig{
		Resource: locator,
		Names:    FieldNames,
	}, j.Opener, MapLine)
}

func (j *Jobs) sqlWriter(stepName string) (*writer.SQLBatchWriter[Transaction], error) {
	return writer.NewSQLBatchWriter[Transaction](stepName, j.DB, Statement, Params, j.ConcurrentWrites)
}

func (j *Jobs) settings(stepName string) item.Settings {
	b := j.Batch.ForStep(stepName)
	return item.Settings{
		ChunkSize: b.ChunkSize,
		Workers:   b.Workers,
		FailFast:  b.FailFast,
		Retry: retry.Policy{
			MaxAttempts:     b.Retry.MaxAttempts,
			InitialInterval: b.Retry.InitialInterval,
			MaxInterval:     b.Retry.MaxInterval,
			Multiplier:      b.Retry.Multiplier,
		},
		ReadSkipLimit:    b.Skip.ReadLimit,
		ProcessSkipLimit: b.Skip.ProcessLimit,
	}
}
