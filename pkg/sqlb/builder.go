package sqlb

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// builder accumulates positional arguments and hands out matching
// placeholders.
type builder struct {
	args      []any
	nextIndex int
}

func newBuilder(start int) *builder {
	if start < 1 {
		start = 1
	}
	return &builder{nextIndex: start}
}

func (b *builder) bind(value any) string {
	b.args = append(b.args, value)
	placeholder := "$" + strconv.Itoa(b.nextIndex)
	b.nextIndex++
	return placeholder
}

// Where renders the effective template as a boolean expression without the
// WHERE keyword. Placeholders are numbered from start. It returns an empty
// clause when the effective template is empty.
func Where(tmpl Template, start int) (clause string, args []any, next int, err error) {
	b := newBuilder(start)
	clause, err = b.where(tmpl)
	if err != nil {
		return "", nil, start, err
	}
	return clause, b.args, b.nextIndex, nil
}

func (b *builder) where(tmpl Template) (string, error) {
	eff := tmpl.Effective()
	if len(eff) == 0 {
		return "", nil
	}

	conds := make([]string, 0, len(eff))
	for _, col := range eff.Columns() {
		quoted, err := quoteColumn(col)
		if err != nil {
			return "", err
		}

		c, ok := eff[col].(Cond)
		if !ok {
			conds = append(conds, quoted+" = "+b.bind(eff[col]))
			continue
		}

		expr, err := b.cond(quoted, c)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", quoted, err)
		}
		conds = append(conds, expr)
	}
	return strings.Join(conds, " AND "), nil
}

func (b *builder) cond(quoted string, c Cond) (string, error) {
	sqlOp, ok := sqlOps[c.Op]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidInput, c.Op)
	}

	switch c.Op {
	case OpIs:
		operand, err := isOperand(c.Value)
		if err != nil {
			return "", err
		}
		return quoted + " " + operand, nil

	case OpIn:
		values, err := asSlice(c.Value)
		if err != nil {
			return "", err
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.bind(v)
		}
		return fmt.Sprintf("%s IN (%s)", quoted, strings.Join(placeholders, ", ")), nil
	}

	if c.Value == nil {
		return "", fmt.Errorf("%w: operator %s needs a value, use is for NULL", ErrInvalidInput, c.Op)
	}
	return quoted + " " + sqlOp + " " + b.bind(c.Value), nil
}

func isOperand(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "IS NULL", nil
	case bool:
		if v {
			return "IS TRUE", nil
		}
		return "IS FALSE", nil
	case string:
		switch strings.ToLower(v) {
		case "null":
			return "IS NULL", nil
		case "not.null":
			return "IS NOT NULL", nil
		case "true":
			return "IS TRUE", nil
		case "false":
			return "IS FALSE", nil
		}
	}
	return "", fmt.Errorf("%w: is accepts null, not.null, true or false, got %T", ErrInvalidInput, v)
}

func asSlice(v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: in needs at least one value", ErrInvalidInput)
		}
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return asSlice(out)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: in needs a list, got %T", ErrInvalidInput, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return asSlice(out)
}

// Select builds a SELECT over table. Empty opts.Fields selects every column;
// an empty effective template selects every row.
func Select(table Ident, tmpl Template, opts SelectOptions) (string, []any, error) {
	if _, err := NewIdent(table...); err != nil {
		return "", nil, err
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return "", nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidInput)
	}

	projection := "*"
	if len(opts.Fields) > 0 {
		cols := make([]string, len(opts.Fields))
		for i, f := range opts.Fields {
			quoted, err := quoteColumn(strings.TrimSpace(f))
			if err != nil {
				return "", nil, err
			}
			cols[i] = quoted
		}
		projection = strings.Join(cols, ", ")
	}

	var query strings.Builder
	fmt.Fprintf(&query, "SELECT %s FROM %s", projection, table.Sanitize())

	b := newBuilder(1)
	where, err := b.where(tmpl)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		query.WriteString(" WHERE " + where)
	}

	if len(opts.OrderBy) > 0 {
		items := make([]string, len(opts.OrderBy))
		for i, o := range opts.OrderBy {
			quoted, err := quoteColumn(o.Column)
			if err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			items[i] = quoted + " " + dir
		}
		query.WriteString(" ORDER BY " + strings.Join(items, ", "))
	}

	if opts.Limit > 0 {
		query.WriteString(" LIMIT " + b.bind(opts.Limit))
	}
	if opts.Offset > 0 {
		query.WriteString(" OFFSET " + b.bind(opts.Offset))
	}

	return query.String(), b.args, nil
}

// Insert builds a single-row INSERT. Columns are emitted in sorted order and
// args follow the same order.
func Insert(table Ident, rec Record) (string, []any, error) {
	if _, err := NewIdent(table...); err != nil {
		return "", nil, err
	}
	if len(rec) == 0 {
		return "", nil, fmt.Errorf("%w: empty record", ErrInvalidInput)
	}

	b := newBuilder(1)
	cols := rec.Columns()
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		q, err := quoteColumn(col)
		if err != nil {
			return "", nil, err
		}
		quoted[i] = q
		placeholders[i] = b.bind(rec[col])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	return query, b.args, nil
}

// Update builds an UPDATE setting changed on the rows matching tmpl.
// It fails when changed is empty or when tmpl does not filter anything.
func Update(table Ident, tmpl Template, changed Record) (string, []any, error) {
	if _, err := NewIdent(table...); err != nil {
		return "", nil, err
	}
	if len(changed) == 0 {
		return "", nil, fmt.Errorf("%w: no columns to update", ErrInvalidInput)
	}

	b := newBuilder(1)
	cols := changed.Columns()
	sets := make([]string, len(cols))
	for i, col := range cols {
		q, err := quoteColumn(col)
		if err != nil {
			return "", nil, err
		}
		sets[i] = q + " = " + b.bind(changed[col])
	}

	where, err := b.where(tmpl)
	if err != nil {
		return "", nil, err
	}
	if where == "" {
		return "", nil, fmt.Errorf("%w: update without a filter", ErrInvalidInput)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table.Sanitize(), strings.Join(sets, ", "), where)
	return query, b.args, nil
}

// Delete builds a DELETE for the rows matching tmpl. It fails when tmpl does
// not filter anything.
func Delete(table Ident, tmpl Template) (string, []any, error) {
	if _, err := NewIdent(table...); err != nil {
		return "", nil, err
	}

	b := newBuilder(1)
	where, err := b.where(tmpl)
	if err != nil {
		return "", nil, err
	}
	if where == "" {
		return "", nil, fmt.Errorf("%w: delete without a filter", ErrInvalidInput)
	}

	return fmt.Sprintf("DELETE FROM %s WHERE %s", table.Sanitize(), where), b.args, nil
}

// Count builds a SELECT count(*) over the rows matching tmpl.
func Count(table Ident, tmpl Template) (string, []any, error) {
	if _, err := NewIdent(table...); err != nil {
		return "", nil, err
	}

	b := newBuilder(1)
	where, err := b.where(tmpl)
	if err != nil {
		return "", nil, err
	}

	query := "SELECT count(*) AS count FROM " + table.Sanitize()
	if where != "" {
		query += " WHERE " + where
	}
	return query, b.args, nil
}
