package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// From starts a PostgREST query on table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// QueryBuilder builds PostgREST queries.
type QueryBuilder struct {
	client  *Client
	table   string
	columns string
	params  url.Values
	orders  []string
	limit   int
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.filter(column, fmt.Sprintf("eq.%v", value))
}

// ILike adds a case-insensitive pattern filter.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.filter(column, "ilike."+pattern)
}

// Or adds a disjunction, e.g. Or("and(a.eq.1,b.eq.2)", "and(a.eq.2,b.eq.1)").
func (q *QueryBuilder) Or(conditions ...string) *QueryBuilder {
	return q.filter("or", "("+strings.Join(conditions, ",")+")")
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) filter(key, value string) *QueryBuilder {
	if q.params == nil {
		q.params = url.Values{}
	}
	q.params.Add(key, value)
	return q
}

func (q *QueryBuilder) path() string {
	params := url.Values{}
	for k, vs := range q.params {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.limit))
	}

	p := "/rest/v1/" + q.table
	if len(params) > 0 {
		p += "?" + params.Encode()
	}
	return p
}

// Execute runs a SELECT and decodes the rows into dest (a pointer to a slice).
func (q *QueryBuilder) Execute(ctx context.Context, dest any) error {
	req, err := q.client.newRequest(ctx, http.MethodGet, q.path(), nil)
	if err != nil {
		return err
	}
	resp, err := q.client.do(req)
	if err != nil {
		return err
	}
	return resp.JSON(dest)
}

// ExecuteInsert inserts data and decodes the inserted rows into dest.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data, dest any) error {
	req, err := q.client.newRequest(ctx, http.MethodPost, q.path(), data)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := q.client.do(req)
	if err != nil {
		return err
	}
	return resp.JSON(dest)
}

// ExecuteUpdate patches the filtered rows and decodes the result into dest.
// Without a filter PostgREST would update every row, so one is required.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, data, dest any) error {
	if len(q.params) == 0 {
		return fmt.Errorf("supabase: update on %s without a filter", q.table)
	}
	req, err := q.client.newRequest(ctx, http.MethodPatch, q.path(), data)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := q.client.do(req)
	if err != nil {
		return err
	}
	return resp.JSON(dest)
}
