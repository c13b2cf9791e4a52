// Package reader provides item readers for delimited text, XML fragments and in-memory
// slices.
package reader

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tigerroll/parabatch/pkg/batch/component/resource"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// FieldSet is one delimited line keyed by the configured field names.
type FieldSet map[string]string

// LineMapper turns a field set into an item. An error marks the line malformed.
type LineMapper[T any] func(fields FieldSet) (T, error)

// FlatFileConfig describes a delimited text resource.
type FlatFileConfig struct {
	// Resource is a locator understood by resource.Opener.
	Resource string `mapstructure:"resource"`
	// Delimiter defaults to ','.
	Delimiter string `mapstructure:"delimiter"`
	// Names are the positional field names. Lines with a different field count are malformed.
	Names []string `mapstructure:"names"`
	// LinesToSkip header lines are discarded after Open.
	LinesToSkip int `mapstructure:"linesToSkip"`
}

// FlatFileReader reads one item per delimited line. Malformed lines surface as
// skippable SourceReadErrors carrying the line number; a broken stream is not skippable.
type FlatFileReader[T any] struct {
	name   string
	config FlatFileConfig
	opener resource.Opener
	mapper LineMapper[T]

	rc   io.ReadCloser
	csv  *csv.Reader
	line int
}

var _ port.ItemReader[struct{}] = (*FlatFileReader[struct{}])(nil)

func NewFlatFileReader[T any](name string, config FlatFileConfig, opener resource.Opener, mapper LineMapper[T]) (*FlatFileReader[T], error) {
	if len(config.Names) == 0 {
		return nil, exception.NewConfigurationError(name, "flat file reader requires field names", nil)
	}
	if config.Delimiter == "" {
		config.Delimiter = ","
	}
	if len([]rune(config.Delimiter)) != 1 {
		return nil, exception.NewConfigurationError(name, fmt.Sprintf("delimiter must be a single character, got %q", config.Delimiter), nil)
	}
	if mapper == nil {
		return nil, exception.NewConfigurationError(name, "flat file reader requires a line mapper", nil)
	}
	return &FlatFileReader[T]{name: name, config: config, opener: opener, mapper: mapper}, nil
}

func (r *FlatFileReader[T]) Open(ctx context.Context) error {
	rc, err := r.opener.Open(ctx, r.config.Resource)
	if err != nil {
		return err
	}
	r.rc = rc
	r.csv = csv.NewReader(bufio.NewReader(rc))
	r.csv.Comma = []rune(r.config.Delimiter)[0]
	r.csv.FieldsPerRecord = -1
	r.csv.TrimLeadingSpace = true
	r.csv.ReuseRecord = true
	r.line = 0

	for i := 0; i < r.config.LinesToSkip; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return exception.NewResourceAcquisitionError(r.name, "failed to skip header lines", err)
		}
	}
	logger.Debugf("FlatFileReader '%s' opened %s.", r.name, r.config.Resource)
	return nil
}

func (r *FlatFileReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.csv == nil {
		return zero, exception.NewSourceReadError(r.name, "reader is not open", nil, false)
	}
	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return zero, port.ErrNoMoreItems
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return zero, exception.NewSourceReadError(r.name, fmt.Sprintf("malformed line %d", parseErr.StartLine), err, true)
		}
		return zero, exception.NewSourceReadError(r.name, "failed to read resource", err, false)
	}
	r.line, _ = r.csv.FieldPos(0)

	if len(record) != len(r.config.Names) {
		return zero, exception.NewSourceReadError(r.name,
			fmt.Sprintf("malformed line %d", r.line),
			fmt.Errorf("expected %d fields, got %d", len(r.config.Names), len(record)), true)
	}
	fields := make(FieldSet, len(record))
	for i, name := range r.config.Names {
		fields[name] = strings.TrimSpace(record[i])
	}
	item, err := r.mapper(fields)
	if err != nil {
		return zero, exception.NewSourceReadError(r.name, fmt.Sprintf("malformed line %d", r.line), err, true)
	}
	return item, nil
}

func (r *FlatFileReader[T]) Close(context.Context) error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.csv = nil
	return err
}
