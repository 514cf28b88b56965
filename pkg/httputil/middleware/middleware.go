package middleware

import (
	"net/http"

	"github.com/edgeflare/pgtable/pkg/httputil"
)

// Stack composes middlewares into a single one. The first middleware is the
// outermost wrapper.
func Stack(middlewares ...httputil.Middleware) httputil.Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}
