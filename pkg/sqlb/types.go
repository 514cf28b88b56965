package sqlb

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrInvalidInput is returned when a statement cannot be built from the given
// arguments, eg an empty record or an unfiltered delete.
var ErrInvalidInput = errors.New("invalid input")

// maxIdentLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentLen = 63

// Record is a single row: column name to value. Values are whatever the
// driver produced or the caller supplied; no coercion happens here.
type Record map[string]any

// Template is a column to value filter. Entries are ANDed.
type Template map[string]any

// Ident is a possibly schema-qualified identifier, eg Ident{"bank", "accounts"}.
type Ident []string

// NewIdent validates the parts of an identifier.
func NewIdent(parts ...string) (Ident, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidInput)
	}
	for _, p := range parts {
		if err := validateName(p); err != nil {
			return nil, err
		}
	}
	return Ident(parts), nil
}

// Sanitize returns the quoted form of the identifier, safe to embed in SQL.
func (id Ident) Sanitize() string {
	return pgx.Identifier(id).Sanitize()
}

func (id Ident) String() string {
	return strings.Join(id, ".")
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty identifier", ErrInvalidInput)
	case len(name) > maxIdentLen:
		return fmt.Errorf("%w: identifier %.16q... longer than %d bytes", ErrInvalidInput, name, maxIdentLen)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: identifier contains NUL byte", ErrInvalidInput)
	}
	return nil
}

// quoteColumn validates and quotes a single column name.
func quoteColumn(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// Op is a comparison operator usable in a Cond.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpLike  Op = "like"
	OpILike Op = "ilike"
	OpIn    Op = "in"
	OpIs    Op = "is"
)

var sqlOps = map[Op]string{
	OpEq:    "=",
	OpNeq:   "<>",
	OpGt:    ">",
	OpGte:   ">=",
	OpLt:    "<",
	OpLte:   "<=",
	OpLike:  "LIKE",
	OpILike: "ILIKE",
	OpIn:    "IN",
	OpIs:    "IS",
}

// ParseOp reports whether s names a supported operator.
func ParseOp(s string) (Op, bool) {
	op := Op(strings.ToLower(s))
	_, ok := sqlOps[op]
	return op, ok
}

// Cond is a structured comparison for a template entry.
//
// For OpIn, Value must be a non-empty slice. For OpIs, Value is nil or "null"
// (IS NULL), "not.null" (IS NOT NULL), or a bool / "true" / "false".
type Cond struct {
	Op    Op
	Value any
}

// Eq is shorthand for Cond{Op: OpEq, Value: v}.
func Eq(v any) Cond { return Cond{Op: OpEq, Value: v} }

// Order is one ORDER BY item.
type Order struct {
	Column string
	Desc   bool
}

// SelectOptions controls the projection, ordering and window of a select.
// Zero Limit and Offset mean "not set".
type SelectOptions struct {
	Fields  []string
	OrderBy []Order
	Limit   int
	Offset  int
}

// Effective returns a copy of t without the entries that do not filter:
// nil values and empty strings. Cond entries are always kept.
func (t Template) Effective() Template {
	out := make(Template, len(t))
	for k, v := range t {
		if skip(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Columns returns the template's column names in sorted order.
func (t Template) Columns() []string {
	return slices.Sorted(maps.Keys(t))
}

func skip(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	return false
}

// Columns returns the record's column names in sorted order.
func (r Record) Columns() []string {
	return slices.Sorted(maps.Keys(r))
}
