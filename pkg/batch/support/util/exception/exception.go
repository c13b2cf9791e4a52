// Package exception defines the error taxonomy of the batch engine.
//
// Every failure that crosses a component boundary is a *BatchError carrying a Kind,
// the component that raised it and the original cause. Retry and skip policies decide
// on the Kind and the retryable/skippable flags; callers classify with IsKind.
package exception

import (
	"errors"
	"fmt"
)

// Kind classifies a BatchError.
type Kind string

const (
	// KindSourceRead is a malformed or unreadable record from an item reader.
	KindSourceRead Kind = "SourceReadError"
	// KindTransform is an item rejected by an item processor.
	KindTransform Kind = "TransformError"
	// KindSinkWrite is a failed chunk commit.
	KindSinkWrite Kind = "SinkWriteError"
	// KindResourceAcquisition is a reader, writer or connection that could not be opened.
	KindResourceAcquisition Kind = "ResourceAcquisitionError"
	// KindSplitPropagation is a split whose branches did not all complete.
	KindSplitPropagation Kind = "SplitPropagationError"
	// KindConfiguration is an invalid job, step or parameter definition.
	KindConfiguration Kind = "ConfigurationError"
	// KindUnknown is used for errors that never went through this package.
	KindUnknown Kind = "UnknownError"
)

// BatchError is the engine's error type.
type BatchError struct {
	Kind        Kind
	Module      string
	Message     string
	OriginalErr error
	isRetryable bool
	isSkippable bool
}

// NewBatchError creates a BatchError. module names the component raising it (usually a step or reader name).
func NewBatchError(kind Kind, module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
	}
}

// NewSourceReadError reports a record that could not be read. Malformed records are
// skippable; broken streams are not.
func NewSourceReadError(module, message string, err error, skippable bool) *BatchError {
	return NewBatchError(KindSourceRead, module, message, err, skippable, false)
}

// NewTransformError reports an item rejected by a processor. It is always skippable;
// whether it is actually skipped depends on the step's skip limit.
func NewTransformError(module, message string, err error) *BatchError {
	return NewBatchError(KindTransform, module, message, err, true, false)
}

// NewSinkWriteError reports a failed chunk write. Retryable unless the cause was permanent.
func NewSinkWriteError(module, message string, err error, retryable bool) *BatchError {
	return NewBatchError(KindSinkWrite, module, message, err, false, retryable)
}

// NewResourceAcquisitionError reports a resource that could not be opened. Never retried.
func NewResourceAcquisitionError(module, message string, err error) *BatchError {
	return NewBatchError(KindResourceAcquisition, module, message, err, false, false)
}

// NewSplitPropagationError wraps the aggregated branch failures of a split.
func NewSplitPropagationError(module string, err error) *BatchError {
	return NewBatchError(KindSplitPropagation, module, "one or more split branches failed", err, false, false)
}

// NewConfigurationError reports an invalid definition.
func NewConfigurationError(module, message string, err error) *BatchError {
	return NewBatchError(KindConfiguration, module, message, err, false, false)
}

func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s [%s] %s: %v", e.Kind, e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s [%s] %s", e.Kind, e.Module, e.Message)
}

func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// As returns the outermost BatchError in err's chain.
func As(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsKind reports whether any BatchError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var be *BatchError
		if !errors.As(err, &be) {
			return false
		}
		if be.Kind == kind {
			return true
		}
		err = be.OriginalErr
	}
	return false
}

// KindOf returns the kind of the outermost BatchError, or KindUnknown.
func KindOf(err error) Kind {
	if be, ok := As(err); ok {
		return be.Kind
	}
	return KindUnknown
}

// IsSkippable reports whether the outermost BatchError is marked skippable.
func IsSkippable(err error) bool {
	be, ok := As(err)
	return ok && be.IsSkippable()
}

// IsRetryable reports whether the outermost BatchError is marked retryable.
func IsRetryable(err error) bool {
	be, ok := As(err)
	return ok && be.IsRetryable()
}
