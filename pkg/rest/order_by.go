package rest

import (
	"strings"

	"github.com/edgeflare/pgtable/pkg/sqlb"
)

// parseOrderParam parses a comma separated list of col, col.asc or col.desc.
// A suffix other than asc or desc is part of the column name.
func parseOrderParam(order string) []sqlb.Order {
	parts := strings.Split(order, ",")
	result := make([]sqlb.Order, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		o := sqlb.Order{Column: part}
		if i := strings.LastIndexByte(part, '.'); i > 0 {
			switch strings.ToLower(part[i+1:]) {
			case "asc":
				o.Column = part[:i]
			case "desc":
				o.Column = part[:i]
				o.Desc = true
			}
		}
		result = append(result, o)
	}

	return result
}
