package query

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when pageSize is not specified.
	DefaultPageSize = 20
	// MaxPageSize is the upper bound for pageSize.
	MaxPageSize = 100
)

// ListOptions holds parsed list query parameters. Pages are 1-based.
type ListOptions struct {
	Page      int
	PageSize  int
	SortBy    string   // validated column name, already mapped to its DB column
	Ascending bool
	Statuses  []string // comma-separated status filter, empty means all
	Search    string   // case-insensitive substring over displayed string fields
}

// Offset returns the row offset for the current page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// Direction returns the SQL sort direction keyword.
func (o ListOptions) Direction() string {
	if o.Ascending {
		return "ASC"
	}
	return "DESC"
}

// ParseListOptions extracts list parameters from the request query string.
// sortColumns maps accepted sortBy values to DB column names; defaultSort
// must be a key of sortColumns. An unknown sortBy is a validation error so
// column names never flow into ORDER BY unchecked.
func ParseListOptions(r *http.Request, sortColumns map[string]string, defaultSort string) (ListOptions, error) {
	q := r.URL.Query()

	opts := ListOptions{
		Page:      1,
		PageSize:  DefaultPageSize,
		SortBy:    sortColumns[defaultSort],
		Ascending: true,
		Search:    strings.TrimSpace(q.Get("q")),
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, Errorf(CodeValidation, "invalid page %q", v)
		}
		opts.Page = n
	}

	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, Errorf(CodeValidation, "invalid pageSize %q", v)
		}
		opts.PageSize = n
	}
	if opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}

	if v := q.Get("sortBy"); v != "" {
		col, ok := sortColumns[v]
		if !ok {
			return opts, Errorf(CodeValidation, "unknown sortBy %q (accepted: %s)", v, strings.Join(sortKeys(sortColumns), ", "))
		}
		opts.SortBy = col
	}

	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		opts.Ascending = false
	default:
		return opts, Errorf(CodeValidation, "invalid order %q (accepted: asc, desc)", q.Get("order"))
	}

	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Statuses = append(opts.Statuses, s)
			}
		}
	}

	return opts, nil
}

// OrderClause returns the ORDER BY expression for the options, with a
// secondary id ascending tie-break so pagination stays stable.
func (o ListOptions) OrderClause() string {
	return fmt.Sprintf("%s %s, id ASC", o.SortBy, o.Direction())
}

func sortKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
