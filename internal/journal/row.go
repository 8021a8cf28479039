package journal

import (
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/lastvalue/internal/engine"
)

// Row is one batch_events record.
type Row struct {
	ID         uuid.UUID
	InstanceID string
	BatchID    string
	Event      string // started, uploaded, completed, cancelled, rejected
	Op         string
	Records    int
	Applied    int
	Discarded  int
	Version    int64
	Previous   string // Prior status, cancellations only
	Kind       string // Error kind, rejections only
	Detail     string // Error text, rejections only
	OccurredAt time.Time
}

// rowFromEvent converts an engine event into a journal row.
func rowFromEvent(instanceID string, ev engine.Event) Row {
	row := Row{
		ID:         uuid.New(),
		InstanceID: instanceID,
		BatchID:    ev.BatchID,
		Event:      string(ev.Type),
		Op:         string(ev.Op),
		Records:    ev.Records,
		Applied:    len(ev.Applied),
		Discarded:  ev.Discarded,
		Version:    int64(ev.Version),
		OccurredAt: ev.At,
	}

	switch ev.Type {
	case engine.EventCancelled:
		row.Previous = ev.Previous.String()
	case engine.EventRejected:
		if ev.Kind != 0 {
			row.Kind = ev.Kind.String()
		}
		if ev.Err != nil {
			row.Detail = ev.Err.Error()
		}
	}

	return row
}
