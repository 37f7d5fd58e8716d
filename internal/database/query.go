package database

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// queryBuilder assembles a SELECT with equality conditions, using the
// placeholder style of the dialect.
type queryBuilder struct {
	dialect     dialect
	baseQuery   string
	paramsCount int
	where       []string
	args        []any
}

func newQueryBuilder(d dialect, baseQuery string) *queryBuilder {
	return &queryBuilder{dialect: d, baseQuery: baseQuery}
}

func (q *queryBuilder) inc() string {
	q.paramsCount++
	return q.dialect.placeholder(q.paramsCount)
}

// Where adds "column = value", or "column IS NULL" for a nil value.
func (q *queryBuilder) Where(column string, val any) {
	col := q.dialect.quote(column)
	if val == nil {
		q.where = append(q.where, col+" IS NULL")
		return
	}
	q.where = append(q.where, fmt.Sprintf("%s = %s", col, q.inc()))
	q.args = append(q.args, filterArg(val))
}

// WhereAll adds every filter entry, in column order
func (q *queryBuilder) WhereAll(filter map[string]any) {
	columns := make([]string, 0, len(filter))
	for c := range filter {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	for _, c := range columns {
		q.Where(c, filter[c])
	}
}

func (q *queryBuilder) Query() string {
	if len(q.where) == 0 {
		return q.baseQuery
	}
	return q.baseQuery + " WHERE " + strings.Join(q.where, " AND ")
}

func (q *queryBuilder) Arguments() []any {
	return q.args
}

// filterArg turns decoded JSON numbers with no fraction into integers so
// drivers compare them against integer columns without casts.
func filterArg(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
