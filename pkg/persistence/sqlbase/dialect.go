package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
// Queries are written with '?' placeholders and rebound per dialect.
type Dialect struct {
	Name     string
	Numbered bool // placeholders are $1, $2, ...
}

var (
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite"}
)

// Rebind rewrites '?' placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var builder strings.Builder

	builder.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r != '?' {
			builder.WriteRune(r)

			continue
		}

		n++
		builder.WriteByte('$')
		builder.WriteString(strconv.Itoa(n))
	}

	return builder.String()
}
