// Package rest exposes the tables of a PostgreSQL database as JSON resources.
//
// Routes, relative to the configured base path (default /api):
//
//	GET    /databases                  list schemas
//	GET    /databases/{db}             list tables and views of a schema
//	GET    /{db}/{resource}            rows matching the query filters
//	POST   /{db}/{resource}            insert the JSON body as one row
//	PUT    /{db}/{resource}            update rows matching the query filters
//	DELETE /{db}/{resource}            delete rows matching the query filters
//	GET    /{db}/{resource}/{key}      one row by primary key
//	PUT    /{db}/{resource}/{key}      update one row by primary key
//	DELETE /{db}/{resource}/{key}      delete one row by primary key
//
// GET /health sits outside the base path.
//
// A {key} holds one value per primary key column, in key order, joined by the
// key delimiter (default "_").
//
// Query parameters:
//
//	Parameter         | Description
//	------------------|------------------------------------------------
//	?fields=col1,col2 | Select specific columns
//	?order=col.desc   | Order results (col, col.asc or col.desc)
//	?limit=100        | Limit number of results
//	?offset=0         | Pagination offset
//	?col=val          | Filter by column equality
//	?col=eq.val       | Same, for values that look like an operator
//	?col=gt.val       | Filter with >, also gte, lt, lte, neq
//	?col=like.val     | Filter with pattern matching, also ilike
//	?col=in.(a,b,c)   | Filter with value lists
//	?col=is.null      | Filter for null values, also is.not.null, is.true, is.false
//
// An empty value (?col=) does not filter. PUT and DELETE on a collection
// refuse to run without at least one filter. GET on a {key} accepts only
// fields; any other parameter is a 400.
//
// The Prefer header (RFC 7240) is honored as follows:
//
//	Header                         | Description
//	-------------------------------|----------------------------------------
//	Prefer: return=representation  | POST and keyed PUT answer with the stored row
//	Prefer: return=headers-only    | Mutations answer with status and headers only
//	Prefer: count=exact            | GET adds Content-Range with a fresh row count
//	Prefer: count=estimated        | GET adds Content-Range with the cached row count
//
// Example usage:
//
//	srv := rest.NewServer(registry, executor, rest.Options{Logger: logger})
//	router := httputil.NewRouter()
//	srv.Register(router)
//	log.Fatal(router.ListenAndServe(":8080"))
package rest
