package engine

import (
	"time"

	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/model"
)

// EventType identifies what happened to a batch.
type EventType string

const (
	EventStarted   EventType = "started"
	EventUploaded  EventType = "uploaded"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
	EventRejected  EventType = "rejected"
)

// Op names a producer operation.
type Op string

const (
	OpStart    Op = "start"
	OpUpload   Op = "upload"
	OpComplete Op = "complete"
	OpCancel   Op = "cancel"
)

// Event describes one producer call as seen by observers.
type Event struct {
	Type    EventType
	Op      Op
	BatchID string
	At      time.Time

	// Records is the number of observations in this upload (EventUploaded) or the
	// batch total (EventCompleted, EventCancelled).
	Records int

	// Set on EventCompleted.
	Applied   []model.Observation // Read-only
	Discarded int
	Version   uint64 // Store version after the commit

	// Status before the call (EventCancelled).
	Previous batch.Status

	// Set on EventRejected.
	Kind batch.Kind
	Err  error
}

// Observer receives engine events. OnEvent is called with the engine lock held.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
