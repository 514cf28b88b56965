package events

import (
	"context"

	"go.uber.org/zap"
)

// Log writes events to a zap logger at info level.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("events")}
}

func (l *Log) Publish(_ context.Context, e Event) error {
	l.logger.Info("row change",
		zap.String("id", e.ID),
		zap.String("op", string(e.Op)),
		zap.String("schema", e.Schema),
		zap.String("table", e.Table),
		zap.Int("key_len", len(e.Key)),
		zap.Int64("affected", e.Affected),
		zap.Int64("ts_ms", e.TsMs),
	)
	return nil
}

func (l *Log) Close() error {
	return l.logger.Sync()
}

func init() {
	Register(ConnectorLog, func(_ context.Context, _ map[string]any, logger *zap.Logger) (Publisher, error) {
		return NewLog(logger), nil
	})
}
