package sqlbase

import (
	"strconv"
	"strings"
	"time"
)

// sqliteTimeLayout is fixed width so text comparisons order like timestamps.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// Dialect captures the differences between the SQL backends sharing these repositories.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name string

	// NumberedParams rewrites ? into $1, $2, ...
	NumberedParams bool

	// RowLocks appends FOR UPDATE to read-modify-write selects.
	RowLocks bool

	// TextTimestamps stores timestamps as fixed-width UTC text.
	TextTimestamps bool

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool
}

// Rebind converts ? placeholders to the dialect's syntax.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedParams {
		return query
	}

	var (
		out strings.Builder
		n   int
	)

	out.Grow(len(query) + 8)

	for _, r := range query {
		if r != '?' {
			out.WriteRune(r)

			continue
		}

		n++
		out.WriteByte('$')
		out.WriteString(strconv.Itoa(n))
	}

	return out.String()
}

// Time converts t into a bind parameter.
func (d Dialect) Time(t time.Time) any {
	if d.TextTimestamps {
		return t.UTC().Format(sqliteTimeLayout)
	}

	return t.UTC()
}

// NullTime converts an optional timestamp into a bind parameter.
func (d Dialect) NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return d.Time(*t)
}

func (d Dialect) lockSuffix() string {
	if d.RowLocks {
		return " FOR UPDATE"
	}

	return ""
}

func (d Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}
