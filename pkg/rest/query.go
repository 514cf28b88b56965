package rest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/edgeflare/pgtable/pkg/sqlb"
)

// queryParams is the parsed query string of a table request.
type queryParams struct {
	Template sqlb.Template
	Options  sqlb.SelectOptions
}

// windowed reports whether any select-only parameter was given.
func (q queryParams) windowed() bool {
	o := q.Options
	return len(o.Fields) > 0 || len(o.OrderBy) > 0 || o.Limit != 0 || o.Offset != 0
}

// parseQueryParams splits the reserved parameters from the column filters.
// Only the first value of a repeated parameter is used.
func parseQueryParams(values url.Values) (queryParams, error) {
	params := queryParams{Template: make(sqlb.Template)}

	if fields := values.Get("fields"); fields != "" {
		params.Options.Fields = parseFieldsParam(fields)
	}

	if order := values.Get("order"); order != "" {
		params.Options.OrderBy = parseOrderParam(order)
	}

	var err error
	if params.Options.Limit, err = parseIntParam(values, "limit"); err != nil {
		return params, err
	}
	if params.Options.Offset, err = parseIntParam(values, "offset"); err != nil {
		return params, err
	}

	for key, vals := range values {
		if isReservedParam(key) || len(vals) == 0 {
			continue
		}
		params.Template[key] = parseFilterParam(vals[0])
	}

	return params, nil
}

func parseFieldsParam(fields string) []string {
	var out []string
	for f := range strings.SplitSeq(fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseFilterParam turns op.value into a sqlb.Cond. A value without a known
// operator prefix is a plain equality value.
func parseFilterParam(value string) any {
	prefix, rest, ok := strings.Cut(value, ".")
	if !ok {
		return value
	}
	op, ok := sqlb.ParseOp(prefix)
	if !ok {
		return value
	}

	switch op {
	case sqlb.OpIn:
		rest = strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
		var list []any
		for v := range strings.SplitSeq(rest, ",") {
			if v = strings.TrimSpace(v); v != "" {
				list = append(list, v)
			}
		}
		return sqlb.Cond{Op: op, Value: list}
	}
	return sqlb.Cond{Op: op, Value: rest}
}

func parseIntParam(values url.Values, name string) (int, error) {
	s := values.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", sqlb.ErrInvalidInput, name)
	}
	return n, nil
}

func isReservedParam(name string) bool {
	switch name {
	case "fields", "order", "limit", "offset":
		return true
	}
	return false
}

// splitKey splits a {key} path segment into one value per key column.
func splitKey(raw, delimiter string) []any {
	parts := strings.Split(raw, delimiter)
	key := make([]any, len(parts))
	for i, p := range parts {
		key[i] = p
	}
	return key
}

// joinKey formats key values as a {key} path segment. It reports false when
// a value contains the delimiter and so could not be split back.
func joinKey(key []any, delimiter string) (string, bool) {
	parts := make([]string, len(key))
	for i, v := range key {
		s := keyPart(v)
		if s == "" || strings.Contains(s, delimiter) {
			return "", false
		}
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, delimiter), true
}

// keyPart formats one key value the way PostgreSQL would parse it back.
// Floats never use exponent form.
func keyPart(v any) string {
	switch v := v.(type) {
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
