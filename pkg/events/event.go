package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Op is the kind of mutation an event reports.
type Op string

const (
	OpCreate Op = "c"
	OpUpdate Op = "u"
	OpDelete Op = "d"
)

// Event describes one committed mutation of a table.
type Event struct {
	ID     string `json:"id"`
	Op     Op     `json:"op"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	// Key holds the primary key values when the mutation addressed a single row.
	Key      []any          `json:"key,omitempty"`
	Template map[string]any `json:"template,omitempty"`
	// Values holds the inserted record or the changed columns.
	Values   map[string]any `json:"values,omitempty"`
	Affected int64          `json:"affected"`
	TsMs     int64          `json:"ts_ms"`
}

// New returns an event with a fresh id and the current time.
func New(op Op, schema, table string) Event {
	return Event{
		ID:     uuid.NewString(),
		Op:     op,
		Schema: schema,
		Table:  table,
		TsMs:   time.Now().UnixMilli(),
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
