package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// ParquetWriterConfig configures a ParquetWriter.
type ParquetWriterConfig struct {
	// OutputDir receives one part file per chunk.
	OutputDir string `mapstructure:"outputDir"`
	// FilePrefix defaults to "part".
	FilePrefix string `mapstructure:"filePrefix"`
	// CompressionType is SNAPPY (default), GZIP or NONE.
	CompressionType string `mapstructure:"compressionType"`
}

// DecodeParquetWriterConfig reads the config from loosely typed step properties.
func DecodeParquetWriterConfig(props map[string]interface{}) (ParquetWriterConfig, error) {
	var cfg ParquetWriterConfig
	if err := mapstructure.WeakDecode(props, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode parquet writer config: %w", err)
	}
	return cfg, nil
}

// ParquetWriter writes every chunk to its own parquet file. Rows of type R carry the
// parquet struct tags; toRow converts items. A part file appears under its final name
// only once complete, so a failed chunk leaves nothing behind. Chunks never share a
// file, so concurrent writes are safe.
type ParquetWriter[T, R any] struct {
	name   string
	config ParquetWriterConfig
	codec  parquet.CompressionCodec
	toRow  func(T) R
}

func NewParquetWriter[T, R any](name string, config ParquetWriterConfig, toRow func(T) R) (*ParquetWriter[T, R], error) {
	if config.OutputDir == "" {
		return nil, exception.NewConfigurationError(name, "parquet writer requires an output directory", nil)
	}
	if config.FilePrefix == "" {
		config.FilePrefix = "part"
	}
	codec, err := compressionCodec(config.CompressionType)
	if err != nil {
		return nil, exception.NewConfigurationError(name, "invalid compression type", err)
	}
	return &ParquetWriter[T, R]{name: name, config: config, codec: codec, toRow: toRow}, nil
}

func (w *ParquetWriter[T, R]) ConcurrencySafe() bool { return true }

func (w *ParquetWriter[T, R]) Open(context.Context) error {
	if err := os.MkdirAll(w.config.OutputDir, 0o755); err != nil {
		return exception.NewResourceAcquisitionError(w.name, "failed to create output directory", err)
	}
	return nil
}

func (w *ParquetWriter[T, R]) Close(context.Context) error { return nil }

func (w *ParquetWriter[T, R]) Write(_ context.Context, items []T) (err error) {
	if len(items) == 0 {
		return nil
	}
	final := filepath.Join(w.config.OutputDir, fmt.Sprintf("%s-%s.parquet", w.config.FilePrefix, uuid.NewString()))
	tmp := final + ".inprogress"

	f, err := os.Create(tmp)
	if err != nil {
		return exception.NewSinkWriteError(w.name, "failed to create part file", err, true)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	var errs *multierror.Error
	pw, err := pqwriter.NewParquetWriterFromWriter(f, new(R), 1)
	if err != nil {
		f.Close()
		return exception.NewSinkWriteError(w.name, "failed to create parquet writer", err, false)
	}
	pw.CompressionType = w.codec
	for _, item := range items {
		if werr := pw.Write(w.toRow(item)); werr != nil {
			errs = multierror.Append(errs, werr)
			break
		}
	}
	if serr := writeStop(pw); serr != nil {
		errs = multierror.Append(errs, serr)
	}
	if cerr := f.Close(); cerr != nil {
		errs = multierror.Append(errs, cerr)
	}
	if errs.ErrorOrNil() != nil {
		return exception.NewSinkWriteError(w.name, "failed to write part file", errs.ErrorOrNil(), false)
	}
	if err = os.Rename(tmp, final); err != nil {
		return exception.NewSinkWriteError(w.name, "failed to publish part file", err, true)
	}
	logger.Debugf("ParquetWriter '%s': wrote %d rows to %s.", w.name, len(items), final)
	return nil
}

// writeStop finalizes the footer. parquet-go panics on some schema errors.
func writeStop(pw *pqwriter.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	return pw.WriteStop()
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported compression type %q", name)
	}
}
