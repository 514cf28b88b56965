package table

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/edgeflare/pgtable/pkg/metrics"
	"github.com/edgeflare/pgtable/pkg/pgx/schema"
	"github.com/edgeflare/pgtable/pkg/sqlb"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultDiscoveryTimeout = 10 * time.Second

// Registry hands out one Handle per schema.table, discovering each table on
// first use. Handles are never evicted.
type Registry struct {
	exec             Executor
	publisher        events.Publisher
	logger           *zap.Logger
	discoveryTimeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle // keyed by quoted identifier
	group   singleflight.Group
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPublisher sets the sink for change events of every handle.
func WithPublisher(p events.Publisher) RegistryOption {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithRegistryLogger sets the logger handed to every handle.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDiscoveryTimeout bounds a table discovery. Zero or less keeps the default of 10s.
func WithDiscoveryTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.discoveryTimeout = d
		}
	}
}

// NewRegistry returns an empty registry whose handles all run on exec.
func NewRegistry(exec Executor, opts ...RegistryOption) *Registry {
	r := &Registry{
		exec:             exec,
		publisher:        events.Nop{},
		logger:           zap.NewNop(),
		discoveryTimeout: defaultDiscoveryTimeout,
		handles:          make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

// Handle returns the handle of schema.table, discovering it if needed.
// Concurrent first calls for the same table share a single discovery.
// Failures are returned as *RegistryError and are not cached.
func (r *Registry) Handle(ctx context.Context, schemaName, tableName string) (*Handle, error) {
	// Quoted form keeps ("a.b", "c") and ("a", "b.c") apart.
	id := sqlb.Ident{schemaName, tableName}.Sanitize()
	if h, ok := r.lookup(id); ok {
		return h, nil
	}

	name := schemaName + "." + tableName
	ch := r.group.DoChan(id, func() (any, error) {
		if h, ok := r.lookup(id); ok {
			return h, nil
		}

		// Discovery outlives a canceled first caller so waiting callers still get a result.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.discoveryTimeout)
		defer cancel()

		start := time.Now()
		h, err := discover(dctx, r.exec, schemaName, tableName, r.publisher, r.logger)
		if err != nil {
			metrics.Discoveries.WithLabelValues(discoveryResult(err)).Inc()
			r.logger.Warn("table discovery failed", zap.String("table", name), zap.Error(err))
			return nil, &RegistryError{Schema: schemaName, Table: tableName, Err: err}
		}

		r.mu.Lock()
		r.handles[id] = h
		n := len(r.handles)
		r.mu.Unlock()

		metrics.Discoveries.WithLabelValues("ok").Inc()
		metrics.CachedTables.Set(float64(n))
		r.logger.Info("table discovered",
			zap.String("table", name),
			zap.Strings("keys", h.keys),
			zap.Int("columns", len(h.columns)),
			zap.Int64("rows", h.RowCount()),
			zap.Duration("latency", time.Since(start)))
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) lookup(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Tables returns the schema.table names of the cached handles, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handles))
	for _, h := range r.handles {
		names = append(names, h.ident.String())
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

func discoveryResult(err error) string {
	switch {
	case errors.Is(err, schema.ErrTableNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
