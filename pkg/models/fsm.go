package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states. Transitions are
// one-directional: once a job is terminal it never re-enters queued or
// running.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusRunning: true, // Queued → Running (pipeline spawned)
		JobStatusError:   true, // Queued → Error (spawn failed)
	},
	JobStatusRunning: {
		JobStatusDone:   true, // Running → Done (exit code 0)
		JobStatusFailed: true, // Running → Failed (nonzero exit)
		JobStatusError:  true, // Running → Error (process handle lost)
	},
	// Terminal states
	JobStatusDone:   {},
	JobStatusFailed: {},
	JobStatusError:  {},
}

// ValidateTransition checks whether a status change is allowed
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true when no further transitions are allowed
func IsTerminalState(status JobStatus) bool {
	return status == JobStatusDone || status == JobStatusFailed || status == JobStatusError
}
