package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/pgtable/pkg/metrics"
	"go.uber.org/zap"
)

type namedSink struct {
	name string
	pub  Publisher
}

// Multi fans an event out to every attached sink.
type Multi struct {
	sinks  []namedSink
	logger *zap.Logger
}

func NewMulti(logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{logger: logger.Named("events")}
}

// Add attaches a sink under name.
func (m *Multi) Add(name string, p Publisher) {
	m.sinks = append(m.sinks, namedSink{name: name, pub: p})
}

// Len returns the number of attached sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Publish delivers e to every sink, even when some fail. Failures are
// counted per sink and joined into the returned error.
func (m *Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Publish(ctx, e); err != nil {
			metrics.PublishErrors.WithLabelValues(s.name).Inc()
			m.logger.Warn("publish event",
				zap.String("sink", s.name),
				zap.String("event_id", e.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
