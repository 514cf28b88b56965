package rest

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeflare/pgtable/pkg/httputil"
	"github.com/edgeflare/pgtable/pkg/pgx/schema"
	"github.com/edgeflare/pgtable/pkg/sqlb"
	"github.com/edgeflare/pgtable/pkg/table"
	"go.uber.org/zap"
)

const (
	DefaultBasePath     = "/api"
	DefaultKeyDelimiter = "_"
)

// Options configures a Server.
type Options struct {
	BasePath     string // defaults to /api
	KeyDelimiter string // defaults to _
	Logger       *zap.Logger
}

// Server translates HTTP requests into table handle operations.
type Server struct {
	registry     *table.Registry
	catalog      schema.Querier
	logger       *zap.Logger
	basePath     string
	keyDelimiter string
}

// NewServer returns a Server over the tables of registry. catalog answers
// the schema listings and the health check, usually the same executor the
// registry runs on.
func NewServer(registry *table.Registry, catalog schema.Querier, opts Options) *Server {
	s := &Server{
		registry:     registry,
		catalog:      catalog,
		logger:       zap.NewNop(),
		basePath:     "/" + strings.Trim(cmp.Or(opts.BasePath, DefaultBasePath), "/"),
		keyDelimiter: cmp.Or(opts.KeyDelimiter, DefaultKeyDelimiter),
	}
	if s.basePath == "/" {
		s.basePath = ""
	}
	if opts.Logger != nil {
		s.logger = opts.Logger
	}
	s.logger = s.logger.Named("rest")
	return s
}

// Register adds the server's routes to router.
func (s *Server) Register(router *httputil.Router) {
	router.HandleFunc("GET /health", s.handleHealth)

	api := router.Group(s.basePath)
	api.HandleFunc("GET /databases", s.handleListSchemas)
	api.HandleFunc("GET /databases/{db}", s.handleListTables)

	api.HandleFunc("GET /{db}/{resource}", s.withHandle(s.handleFind))
	api.HandleFunc("POST /{db}/{resource}", s.withHandle(s.handleInsert))
	api.HandleFunc("PUT /{db}/{resource}", s.withHandle(s.handleUpdate))
	api.HandleFunc("DELETE /{db}/{resource}", s.withHandle(s.handleDelete))

	api.HandleFunc("GET /{db}/{resource}/{key}", s.withHandle(s.handleFindByKey))
	api.HandleFunc("PUT /{db}/{resource}/{key}", s.withHandle(s.handleUpdateByKey))
	api.HandleFunc("DELETE /{db}/{resource}/{key}", s.withHandle(s.handleDeleteByKey))
}

// Handler returns the server's routes on a fresh router, without middleware.
func (s *Server) Handler() http.Handler {
	router := httputil.NewRouter()
	s.Register(router)
	return router.Handler()
}

type tableHandler func(w http.ResponseWriter, r *http.Request, h *table.Handle)

// withHandle resolves {db}/{resource} through the registry.
func (s *Server) withHandle(next tableHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := s.registry.Handle(r.Context(), r.PathValue("db"), r.PathValue("resource"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r, h)
	}
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value(httputil.LogEntryCtxKey).(*zap.Logger); ok {
		return logger.Named("rest")
	}
	return s.logger
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.catalog.Query(ctx, "SELECT 1"); err != nil {
		s.requestLogger(r).Warn("health check failed", zap.Error(err))
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"time":   time.Now().UTC(),
		})
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := schema.Schemas(r.Context(), s.catalog)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, schemas)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := schema.Tables(r.Context(), s.catalog, r.PathValue("db"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	httputil.JSON(w, http.StatusOK, names)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	params, err := parseQueryParams(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows, err := h.FindByTemplate(r.Context(), params.Template, params.Options)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	prefer := parsePrefer(r)
	switch {
	case prefer.WantsCountExact():
		total, err := h.RefreshRowCount(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Range", contentRange(params.Options.Offset, len(rows), total))
	case prefer.WantsCountEstimated():
		w.Header().Set("Content-Range", contentRange(params.Options.Offset, len(rows), h.RowCount()))
	}

	httputil.JSON(w, http.StatusOK, rows)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	var rec sqlb.Record
	if err := httputil.BindOrError(r, w, &rec); err != nil {
		return
	}

	n, err := h.Insert(r.Context(), rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key, hasKey := h.KeyOf(rec)
	if hasKey {
		if segment, ok := joinKey(key, s.keyDelimiter); ok {
			w.Header().Set("Location", s.resourcePath(h, segment))
		}
	}

	prefer := parsePrefer(r)
	switch {
	case prefer.WantsHeadersOnly():
		w.WriteHeader(http.StatusCreated)
	case prefer.WantsRepresentation() && hasKey:
		stored, err := h.FindByKey(r.Context(), key, nil)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusCreated, stored)
	default:
		httputil.JSON(w, http.StatusCreated, map[string]int64{"inserted": n})
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	params, ok := s.filterOnly(w, r)
	if !ok {
		return
	}

	var changed sqlb.Record
	if err := httputil.BindOrError(r, w, &changed); err != nil {
		return
	}

	n, err := h.UpdateByTemplate(r.Context(), params.Template, changed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCount(w, r, "updated", n)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	params, ok := s.filterOnly(w, r)
	if !ok {
		return
	}

	n, err := h.DeleteByTemplate(r.Context(), params.Template)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCount(w, r, "deleted", n)
}

func (s *Server) handleFindByKey(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	params, err := parseQueryParams(r.URL.Query())
	if err == nil && (len(params.Template) > 0 || len(params.Options.OrderBy) > 0 || params.Options.Limit != 0 || params.Options.Offset != 0) {
		err = fmt.Errorf("%w: a keyed GET takes only fields", sqlb.ErrInvalidInput)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := h.FindByKey(r.Context(), splitKey(r.PathValue("key"), s.keyDelimiter), params.Options.Fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateByKey(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	var changed sqlb.Record
	if err := httputil.BindOrError(r, w, &changed); err != nil {
		return
	}

	key := splitKey(r.PathValue("key"), s.keyDelimiter)
	n, err := h.UpdateByKey(r.Context(), key, changed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if parsePrefer(r).WantsRepresentation() && n > 0 {
		// the update may have moved the row to a new key
		for i, col := range h.Keys() {
			if v, ok := changed[col]; ok {
				key[i] = v
			}
		}
		stored, err := h.FindByKey(r.Context(), key, nil)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusOK, stored)
		return
	}
	s.writeCount(w, r, "updated", n)
}

func (s *Server) handleDeleteByKey(w http.ResponseWriter, r *http.Request, h *table.Handle) {
	n, err := h.DeleteByKey(r.Context(), splitKey(r.PathValue("key"), s.keyDelimiter))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCount(w, r, "deleted", n)
}

// filterOnly parses the query of a collection PUT or DELETE, which accepts
// column filters only.
func (s *Server) filterOnly(w http.ResponseWriter, r *http.Request) (queryParams, bool) {
	params, err := parseQueryParams(r.URL.Query())
	if err == nil && params.windowed() {
		err = fmt.Errorf("%w: fields, order, limit and offset apply to GET only", sqlb.ErrInvalidInput)
	}
	if err != nil {
		s.writeError(w, r, err)
		return params, false
	}
	return params, true
}

func (s *Server) writeCount(w http.ResponseWriter, r *http.Request, name string, n int64) {
	if parsePrefer(r).WantsHeadersOnly() {
		w.WriteHeader(http.StatusOK)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]int64{name: n})
}

func (s *Server) resourcePath(h *table.Handle, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", s.basePath, url.PathEscape(h.Schema()), url.PathEscape(h.Name()), key)
}

// contentRange formats rows offset..offset+n-1 of total as in RFC 9110,
// with "*" for an empty page.
func contentRange(offset, n int, total int64) string {
	if n == 0 {
		return fmt.Sprintf("*/%d", total)
	}
	return fmt.Sprintf("%d-%d/%d", offset, offset+n-1, total)
}
