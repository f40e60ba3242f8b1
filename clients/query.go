package clients

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query builds the PostgREST query string for a table request.
type Query struct {
	selectCols string
	filters    url.Values
	order      []string
	limit      int
	offset     int
}

// NewQuery starts an unfiltered query selecting every column.
func NewQuery() *Query {
	return &Query{filters: url.Values{}, limit: -1}
}

// Select sets the column list ("id,brand,model").
func (q *Query) Select(cols string) *Query {
	q.selectCols = cols
	return q
}

func (q *Query) add(col, op string, val interface{}) *Query {
	q.filters.Add(col, op+"."+formatValue(val))
	return q
}

func (q *Query) Eq(col string, val interface{}) *Query  { return q.add(col, "eq", val) }
func (q *Query) Neq(col string, val interface{}) *Query { return q.add(col, "neq", val) }
func (q *Query) Gt(col string, val interface{}) *Query  { return q.add(col, "gt", val) }
func (q *Query) Gte(col string, val interface{}) *Query { return q.add(col, "gte", val) }
func (q *Query) Lt(col string, val interface{}) *Query  { return q.add(col, "lt", val) }
func (q *Query) Lte(col string, val interface{}) *Query { return q.add(col, "lte", val) }
func (q *Query) ILike(col, pattern string) *Query       { return q.add(col, "ilike", pattern) }
func (q *Query) Like(col, pattern string) *Query        { return q.add(col, "like", pattern) }

// Is filters on null, true or false.
func (q *Query) Is(col, val string) *Query { return q.add(col, "is", val) }

// In matches any of vals. Values containing PostgREST separators are double-quoted.
func (q *Query) In(col string, vals ...interface{}) *Query {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = quoteListItem(formatValue(v))
	}
	q.filters.Add(col, "in.("+strings.Join(parts, ",")+")")
	return q
}

// Not negates an operator: Not("image_url", "is", "null").
func (q *Query) Not(col, op string, val interface{}) *Query {
	if op == "in" {
		items, _ := val.([]interface{})
		parts := make([]string, len(items))
		for i, v := range items {
			parts[i] = quoteListItem(formatValue(v))
		}
		q.filters.Add(col, "not.in.("+strings.Join(parts, ",")+")")
		return q
	}
	q.filters.Add(col, "not."+op+"."+formatValue(val))
	return q
}

// Order appends a sort key.
func (q *Query) Order(col string, asc bool) *Query {
	dir := "asc"
	if !asc {
		dir = "desc"
	}
	q.order = append(q.order, col+"."+dir)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// HasFilter reports whether any row filter is set.
func (q *Query) HasFilter() bool {
	return q != nil && len(q.filters) > 0
}

// Values renders the query as URL values.
func (q *Query) Values() url.Values {
	v := url.Values{}
	if q == nil {
		return v
	}
	for k, vals := range q.filters {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	if q.selectCols != "" {
		v.Set("select", q.selectCols)
	}
	if len(q.order) > 0 {
		v.Set("order", strings.Join(q.order, ","))
	}
	if q.limit >= 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		v.Set("offset", strconv.Itoa(q.offset))
	}
	return v
}

// Encode returns the "?a=b" suffix, or "" for an empty query.
func (q *Query) Encode() string {
	v := q.Values()
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (q *Query) clone() *Query {
	c := NewQuery()
	if q == nil {
		return c
	}
	c.selectCols = q.selectCols
	for k, vals := range q.filters {
		c.filters[k] = append([]string(nil), vals...)
	}
	c.order = append([]string(nil), q.order...)
	c.limit = q.limit
	c.offset = q.offset
	return c
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}

func quoteListItem(s string) string {
	if !strings.ContainsAny(s, ",.:()\" ") {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
