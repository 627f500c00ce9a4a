package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/schema"
)

var orderDirections = map[string]string{"$asc": "ASC", "$desc": "DESC"}

// Find compiles a SELECT. Besides filters the query object may carry
// $orderby ({"$desc": "created"} or {"$asc": ["a", "b"]}) and $limit.
func (c *Compiler) Find(q Object, opts FindOptions) (*Statement, error) {
	var orderBy []string
	var limit int64
	for _, p := range q {
		switch strings.ToLower(p.Key) {
		case "$orderby":
			order, err := compileOrderBy(p.Value)
			if err != nil {
				return nil, err
			}
			orderBy = append(orderBy, order...)
		case "$limit":
			n, err := compileLimit(p.Value)
			if err != nil {
				return nil, err
			}
			limit = n
		}
	}

	where, params, err := c.CompileWhere(q)
	if err != nil {
		return nil, err
	}

	table := c.table()
	if opts.MaterializedView != "" {
		table = schema.QuoteIdent(opts.MaterializedView)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if opts.Distinct {
		b.WriteString("DISTINCT ")
	}
	columns, err := projection(opts.Select)
	if err != nil {
		return nil, err
	}
	b.WriteString(columns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if where != "" {
		b.WriteString(" " + where)
	}
	if len(orderBy) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(orderBy, ", "))
	}
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.FormatInt(limit, 10))
	}
	if opts.AllowFiltering {
		b.WriteString(" ALLOW FILTERING")
	}
	b.WriteString(";")

	return &Statement{Query: b.String(), Params: params, Raw: opts.Raw || len(opts.Select) > 0}, nil
}

// FindOne is Find with $limit forced to 1.
func (c *Compiler) FindOne(q Object, opts FindOptions) (*Statement, error) {
	limited := make(Object, 0, len(q)+1)
	for _, p := range q {
		if !strings.EqualFold(p.Key, "$limit") {
			limited = append(limited, p)
		}
	}
	return c.Find(append(limited, Pair{Key: "$limit", Value: 1}), opts)
}

func compileOrderBy(v any) ([]string, error) {
	order, ok := asObject(v)
	if !ok || len(order) == 0 {
		return nil, cqlerr.New(cqlerr.InvalidOrder, "$orderby requires an object such as {\"$desc\": \"field\"}")
	}
	if len(order) > 1 {
		return nil, cqlerr.New(cqlerr.InvalidOrder, "$orderby accepts a single direction; list several fields under it instead")
	}
	direction, ok := orderDirections[strings.ToLower(order[0].Key)]
	if !ok {
		return nil, cqlerr.Newf(cqlerr.InvalidOrder, "invalid $orderby direction %q", order[0].Key)
	}

	var fields []string
	switch f := order[0].Value.(type) {
	case string:
		fields = []string{f}
	case []string:
		fields = f
	case []any:
		for _, item := range f {
			name, ok := item.(string)
			if !ok {
				return nil, cqlerr.Newf(cqlerr.InvalidOrder, "$orderby field %v is not a string", item)
			}
			fields = append(fields, name)
		}
	default:
		return nil, cqlerr.Newf(cqlerr.InvalidOrder, "$orderby fields must be a string or a list of strings, got %T", f)
	}

	out := make([]string, len(fields))
	for i, name := range fields {
		out[i] = fmt.Sprintf("%s %s", schema.QuoteIdent(name), direction)
	}
	return out, nil
}

func compileLimit(v any) (int64, error) {
	var n int64
	switch l := v.(type) {
	case int:
		n = int64(l)
	case int32:
		n = int64(l)
	case int64:
		n = l
	case uint64:
		if l > math.MaxInt64 {
			return 0, cqlerr.Newf(cqlerr.InvalidLimit, "$limit %d is out of range", l)
		}
		n = int64(l)
	case float64:
		if l != math.Trunc(l) {
			return 0, cqlerr.Newf(cqlerr.InvalidLimit, "$limit must be a whole number, got %v", l)
		}
		n = int64(l)
	default:
		return 0, cqlerr.Newf(cqlerr.InvalidLimit, "$limit must be a number, got %T", v)
	}
	if n <= 0 {
		return 0, cqlerr.Newf(cqlerr.InvalidLimit, "$limit must be positive, got %d", n)
	}
	return n, nil
}

// projection renders a select list. Each entry is split on parentheses and
// spaces: "name" → "name", "name AS n" → "name" AS n, "count(id)" →
// count("id") and "count(id) AS total" → count("id") AS total. Function
// names and aliases go into the statement unquoted, so they must be plain
// identifiers.
func projection(selects []string) (string, error) {
	if len(selects) == 0 {
		return "*", nil
	}
	columns := make([]string, 0, len(selects))
	for _, sel := range selects {
		tokens := strings.FieldsFunc(sel, func(r rune) bool {
			return r == '(' || r == ')' || r == ' '
		})
		var column string
		switch len(tokens) {
		case 1:
			column = selectColumn(tokens[0])
		case 2, 4:
			if !schema.ValidIdentifier(tokens[0]) {
				return "", cqlerr.New(cqlerr.InvalidFindOperator, fmt.Sprintf("invalid function %q in select %q", tokens[0], sel))
			}
			column = fmt.Sprintf("%s(%s)", tokens[0], selectColumn(tokens[1]))
			if len(tokens) == 4 {
				alias, err := selectAlias(sel, tokens[2], tokens[3])
				if err != nil {
					return "", err
				}
				column += alias
			}
		case 3:
			alias, err := selectAlias(sel, tokens[1], tokens[2])
			if err != nil {
				return "", err
			}
			column = schema.QuoteIdent(tokens[0]) + alias
		default:
			return "", cqlerr.New(cqlerr.InvalidFindOperator, fmt.Sprintf("invalid select %q", sel))
		}
		columns = append(columns, column)
	}
	return strings.Join(columns, ", "), nil
}

func selectAlias(sel, as, alias string) (string, error) {
	if !strings.EqualFold(as, "as") || !schema.ValidIdentifier(alias) {
		return "", cqlerr.New(cqlerr.InvalidFindOperator, fmt.Sprintf("invalid alias in select %q", sel))
	}
	return fmt.Sprintf(" %s %s", as, alias), nil
}

func selectColumn(name string) string {
	if name == "*" {
		return name
	}
	return schema.QuoteIdent(name)
}
