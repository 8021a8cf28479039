package batch

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a batch. It only moves forward.
type Status int

const (
	StatusStarted Status = iota + 1
	StatusCompleted
	StatusCancelled
)

// String returns the lowercase wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further uploads or completion are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "started":
		return StatusStarted, true
	case "completed":
		return StatusCompleted, true
	case "cancelled":
		return StatusCancelled, true
	default:
		return 0, false
	}
}

// Info is a read-only copy of a batch's metadata.
type Info struct {
	ID        string
	Status    Status
	Records   int       // Observations uploaded so far (kept after the batch ends)
	StartedAt time.Time // When Start succeeded
	EndedAt   time.Time // Zero while Started
}

// Kind classifies registry failures.
type Kind int

const (
	KindAlreadyExists Kind = iota + 1
	KindNotFound
	KindInvalidState
)

// String returns the snake_case name used on the wire.
func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. Match with errors.Is.
var (
	ErrAlreadyExists = errors.New("batch already exists")
	ErrNotFound      = errors.New("batch not found")
	ErrInvalidState  = errors.New("batch is not started")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindNotFound:
		return ErrNotFound
	case KindInvalidState:
		return ErrInvalidState
	default:
		return nil
	}
}

// Error is returned by every failing registry operation.
type Error struct {
	Kind    Kind
	BatchID string
	Status  Status // Current status; zero for KindNotFound
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAlreadyExists:
		return fmt.Sprintf("batch %q already exists (%s)", e.BatchID, e.Status)
	case KindNotFound:
		return fmt.Sprintf("batch %q not found", e.BatchID)
	case KindInvalidState:
		return fmt.Sprintf("batch %q is %s, must be started", e.BatchID, e.Status)
	default:
		return fmt.Sprintf("batch %q: unknown error", e.BatchID)
	}
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the Kind from err. ok is false when err is not a registry error.
func KindOf(err error) (kind Kind, ok bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}
