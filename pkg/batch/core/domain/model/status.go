// Package model holds the execution-state types shared by the engine, the flow graph
// and the metadata store.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of a job or step execution.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// ToExitStatus maps a terminal status to its default exit status.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitCode is the process exit status for a job that ended in s.
func (s BatchStatus) ExitCode() int {
	switch s {
	case BatchStatusCompleted:
		return 0
	case BatchStatusFailed:
		return 1
	case BatchStatusStopped:
		return 2
	default:
		return 3
	}
}

// ExitStatus refines a terminal BatchStatus.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	// ExitStatusNoOp marks a step skipped on restart because it had already completed.
	ExitStatusNoOp ExitStatus = "NO_OP"
)

func isValidTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusCompleted
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed
	case BatchStatusFailed, BatchStatusStopped:
		return next == BatchStatusAbandoned
	default:
		return false
	}
}

func transition(kind, id string, current *BatchStatus, next BatchStatus) error {
	if !isValidTransition(*current, next) {
		return fmt.Errorf("%s (ID: %s): invalid state transition: %s -> %s", kind, id, *current, next)
	}
	*current = next
	return nil
}

// NewID returns a new random execution identifier.
func NewID() string {
	return uuid.NewString()
}
