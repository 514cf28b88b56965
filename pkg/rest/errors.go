package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/edgeflare/pgtable/pkg/httputil"
	"github.com/edgeflare/pgtable/pkg/metrics"
	"github.com/edgeflare/pgtable/pkg/pgx"
	"github.com/edgeflare/pgtable/pkg/pgx/schema"
	"github.com/edgeflare/pgtable/pkg/table"
	"go.uber.org/zap"
)

// statusClientClosedRequest is the nginx convention for a request the client gave up on.
const statusClientClosedRequest = 499

// statusOf maps an operation error to an HTTP status and a client safe message.
func statusOf(err error) (int, string) {
	var qe *pgx.QueryError
	var re *table.RegistryError

	switch {
	case errors.Is(err, table.ErrInvalidInput),
		errors.Is(err, table.ErrInvalidKey),
		errors.Is(err, table.ErrNoPrimaryKey):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, table.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.As(err, &re):
		if errors.Is(err, schema.ErrTableNotFound) {
			return http.StatusNotFound, fmt.Sprintf("table %s.%s not found", re.Schema, re.Table)
		}
		return http.StatusBadGateway, fmt.Sprintf("table %s.%s: discovery failed", re.Schema, re.Table)

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"

	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "request canceled"

	case errors.As(err, &qe):
		// driver messages may quote argument values; only the SQLSTATE is passed on
		switch metrics.SQLStateClass(qe.SQLState) {
		case "22":
			return http.StatusBadRequest, fmt.Sprintf("invalid value in %s [%s]", qe.Op, qe.SQLState)
		case "23":
			return http.StatusConflict, fmt.Sprintf("integrity constraint violation [%s]", qe.SQLState)
		}
		return http.StatusInternalServerError, fmt.Sprintf("%s failed", qe.Op)
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	httputil.Error(w, status, msg)
}
