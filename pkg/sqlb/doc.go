// Package sqlb builds parameterized PostgreSQL statements from dynamic
// column/value templates.
//
// Nothing that originates from a caller is ever interpolated into statement
// text as data: values are bound positionally ($1, $2, ...) and identifiers
// (schema, table and column names) are validated and quoted.
//
// A Template maps column names to either a literal value, meaning equality,
// or a Cond carrying an explicit operator. Entries are combined with AND.
// Template entries whose value is nil or the empty string are skipped: they
// mean "no filter on this column". Use Cond{Op: OpIs, Value: nil} to match
// NULL.
//
//	stmt, args, err := sqlb.Select(sqlb.Ident{"bank", "accounts"},
//		sqlb.Template{"id": 1},
//		sqlb.SelectOptions{Fields: []string{"balance"}})
//	// SELECT "balance" FROM "bank"."accounts" WHERE "id" = $1
//
// Update and Delete refuse to build a statement whose effective template is
// empty, so a whole-table mutation can never be produced by accident.
package sqlb
