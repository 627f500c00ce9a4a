package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/schema"
)

var operators = map[string]string{
	"$eq":           "=",
	"$gt":           ">",
	"$lt":           "<",
	"$gte":          ">=",
	"$lte":          "<=",
	"$in":           "IN",
	"$like":         "LIKE",
	"$token":        "token",
	"$contains":     "CONTAINS",
	"$contains_key": "CONTAINS KEY",
}

// comparison operators allowed inside $token
var tokenOperators = map[string]bool{"$eq": true, "$gt": true, "$lt": true, "$gte": true, "$lte": true}

// Compiler turns query objects into statement text and bound parameters for
// one table. It holds no state besides the schema and is safe for concurrent
// use.
type Compiler struct {
	Schema *schema.Schema
}

func NewCompiler(s *schema.Schema) *Compiler {
	return &Compiler{Schema: s}
}

func (c *Compiler) table() string {
	return schema.QuoteIdent(c.Schema.TableName)
}

// CompileWhere compiles the filter part of a query object into a WHERE
// clause. Keys starting with "$" other than $expr and $solr_query belong to
// Find and are skipped.
func (c *Compiler) CompileWhere(where Object) (string, []any, error) {
	var relations []string
	var params []any

	for _, p := range where {
		if strings.HasPrefix(p.Key, "$") {
			relation, err := c.searchRelation(p)
			if err != nil {
				return "", nil, err
			}
			if relation != "" {
				relations = append(relations, relation)
			}
			continue
		}

		for _, rel := range relationList(p.Value) {
			r, ps, err := c.relation(p.Key, rel)
			if err != nil {
				return "", nil, err
			}
			relations = append(relations, r...)
			params = append(params, ps...)
		}
	}

	if len(relations) == 0 {
		return "", params, nil
	}
	return "WHERE " + strings.Join(relations, " AND "), params, nil
}

func (c *Compiler) searchRelation(p Pair) (string, error) {
	switch strings.ToLower(p.Key) {
	case "$expr":
		if expr, ok := asObject(p.Value); ok {
			index, _ := expr.Get("index")
			text, _ := expr.Get("query")
			indexName, iok := index.(string)
			queryText, qok := text.(string)
			if iok && qok {
				return fmt.Sprintf("expr(%s,%s)", indexName, schema.StringConstant(queryText)), nil
			}
		}
		return "", cqlerr.New(cqlerr.InvalidFindOperator, "$expr requires string index and query values")
	case "$solr_query":
		text, ok := p.Value.(string)
		if !ok {
			return "", cqlerr.New(cqlerr.InvalidFindOperator, "$solr_query requires a string value")
		}
		return "solr_query=" + schema.StringConstant(text), nil
	case "$orderby", "$limit":
		return "", nil
	}
	return "", cqlerr.Newf(cqlerr.InvalidFindOperator, "invalid query key %q", p.Key)
}

// relationList splits a field value into relations. A list made only of
// operator objects is several relations on the same field; anything else is a
// single relation.
func relationList(v any) []any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return []any{v}
	}
	for _, item := range list {
		if obj, ok := asObject(item); !ok || !isOperatorObject(obj) {
			return []any{v}
		}
	}
	return list
}

func isOperatorObject(obj Object) bool {
	if len(obj) == 0 {
		return false
	}
	for _, p := range obj {
		if _, ok := operators[strings.ToLower(p.Key)]; !ok {
			return false
		}
	}
	return true
}

// relation compiles one relation. A bare value, or an object that is not
// made of operators, means equality against the literal. An object mixing
// operators with other keys is rejected.
func (c *Compiler) relation(field string, v any) ([]string, []any, error) {
	rel, ok := asObject(v)
	if ok && !isOperatorObject(rel) {
		for _, p := range rel {
			if _, known := operators[strings.ToLower(p.Key)]; known {
				return nil, nil, cqlerr.Field(cqlerr.InvalidFindOperator, field, fmt.Sprintf("operator %q cannot be mixed with other keys", p.Key))
			}
		}
	}
	if !ok || !isOperatorObject(rel) {
		rel = Object{{Key: "$eq", Value: v}}
	}

	var relations []string
	var params []any
	for _, p := range rel {
		op := strings.ToLower(p.Key)
		switch op {
		case "$token":
			r, ps, err := c.tokenRelation(field, p.Value)
			if err != nil {
				return nil, nil, err
			}
			relations = append(relations, r...)
			params = append(params, ps...)
			continue
		case "$contains":
			typ, err := c.fieldType(field)
			if err != nil {
				return nil, nil, err
			}
			if !containerType(typ) {
				return nil, nil, cqlerr.Field(cqlerr.InvalidContainsOperator, field, fmt.Sprintf("$contains is not supported on %s fields", typ))
			}
			if entry, ok := asObject(p.Value); ok && typ == "map" && len(entry) == 1 {
				relations = append(relations, fmt.Sprintf("%s[?] = ?", schema.QuoteIdent(field)))
				params = append(params, entry[0].Key, plain(entry[0].Value))
				continue
			}
			relations = append(relations, fmt.Sprintf("%s CONTAINS ?", schema.QuoteIdent(field)))
			params = append(params, plain(p.Value))
			continue
		case "$contains_key":
			typ, err := c.fieldType(field)
			if err != nil {
				return nil, nil, err
			}
			if typ != "map" {
				return nil, nil, cqlerr.Field(cqlerr.InvalidContainsOperator, field, "$contains_key is only supported on map fields")
			}
			relations = append(relations, fmt.Sprintf("%s CONTAINS KEY ?", schema.QuoteIdent(field)))
			params = append(params, p.Value)
			continue
		case "$in":
			if !isList(p.Value) {
				return nil, nil, cqlerr.Field(cqlerr.InvalidFindOperator, field, "$in requires a list value")
			}
		}

		segment, param, bound, err := c.bind(field, p.Value)
		if err != nil {
			return nil, nil, err
		}
		relations = append(relations, fmt.Sprintf("%s %s %s", schema.QuoteIdent(field), operators[op], segment))
		if bound {
			params = append(params, param)
		}
	}
	return relations, params, nil
}

// tokenRelation compiles {"$token": {"$gt": value}} on one partition key
// field, or on a comma-separated list of them with a list of values.
func (c *Compiler) tokenRelation(key string, v any) ([]string, []any, error) {
	rel, ok := asObject(v)
	if !ok {
		return nil, nil, cqlerr.Field(cqlerr.InvalidFindOperator, key, "$token requires an object value")
	}
	columns := strings.Split(key, ",")
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}

	var relations []string
	var params []any
	for _, p := range rel {
		op := strings.ToLower(p.Key)
		if !tokenOperators[op] {
			return nil, nil, cqlerr.Field(cqlerr.InvalidFindOperator, key, fmt.Sprintf("invalid $token operator %q", p.Key))
		}
		values := []any{p.Value}
		if len(columns) > 1 {
			list, ok := p.Value.([]any)
			if !ok || len(list) != len(columns) {
				return nil, nil, cqlerr.Field(cqlerr.InvalidFindOperator, key, fmt.Sprintf("$token on %d fields requires a list of %d values", len(columns), len(columns)))
			}
			values = list
		}
		segments := make([]string, len(columns))
		for i, col := range columns {
			segment, param, bound, err := c.bind(col, values[i])
			if err != nil {
				return nil, nil, err
			}
			segments[i] = segment
			if bound {
				params = append(params, param)
			}
		}
		relations = append(relations, fmt.Sprintf("token(%s) %s token(%s)",
			strings.Join(schema.QuoteIdents(columns), ", "), operators[op], strings.Join(segments, ", ")))
	}
	return relations, params, nil
}

// bind validates value against the field's validators and returns the
// statement segment for it: a placeholder with its parameter, or the verbatim
// text of a DBFunction.
func (c *Compiler) bind(field string, value any) (string, any, bool, error) {
	if value == nil {
		return "?", nil, true, nil
	}
	if fn, ok := value.(schema.DBFunction); ok {
		return string(fn), nil, false, nil
	}
	typ, err := c.fieldType(field)
	if err != nil {
		return "", nil, false, err
	}
	value = plain(value)

	// a list bound to a scalar field, as in $in
	if isList(value) && !listType(typ) {
		rv := reflect.ValueOf(value)
		for i := 0; i < rv.Len(); i++ {
			if err := c.validate(field, typ, rv.Index(i).Interface()); err != nil {
				return "", nil, false, err
			}
		}
		return "?", value, true, nil
	}
	if err := c.validate(field, typ, value); err != nil {
		return "", nil, false, err
	}
	return "?", value, true, nil
}

func (c *Compiler) validate(field, typ string, value any) error {
	validators, err := c.Schema.Validators(field)
	if err != nil {
		return cqlerr.Wrap(cqlerr.InvalidSchema, "", err)
	}
	if msg, ok := schema.Validate(validators, value, field, typ); !ok {
		return cqlerr.Field(cqlerr.ValidationFailed, field, msg)
	}
	return nil
}

func (c *Compiler) fieldType(field string) (string, error) {
	f := c.Schema.Field(field)
	if f == nil || f.Virtual != nil {
		return "", cqlerr.Field(cqlerr.InvalidFindOperator, field, fmt.Sprintf("unknown field in table %q", c.Schema.TableName))
	}
	return schema.ExtractType(f.Type), nil
}

func containerType(typ string) bool {
	switch typ {
	case "map", "list", "set", "frozen":
		return true
	}
	return false
}

func listType(typ string) bool {
	switch typ {
	case "list", "set", "frozen":
		return true
	}
	return false
}

func isList(v any) bool {
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
