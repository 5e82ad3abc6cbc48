package task

import (
	"fmt"
	"strings"
)

// Status is the progress state of a task.
type Status int

const (
	StatusNeedsAction Status = iota
	StatusInProcess
	StatusCompleted
	StatusCancelled
)

// IsClosed reports whether the status ends the task.
func (s Status) IsClosed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// String returns the iCalendar name of the status.
func (s Status) String() string {
	switch s {
	case StatusInProcess:
		return "IN-PROCESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "NEEDS-ACTION"
	}
}

// ParseStatus parses an iCalendar VTODO status. An empty string is NEEDS-ACTION.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NEEDS-ACTION":
		return StatusNeedsAction, nil
	case "IN-PROCESS":
		return StatusInProcess, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "CANCELLED":
		return StatusCancelled, nil
	}
	return StatusNeedsAction, fmt.Errorf("unknown status %q", s)
}
