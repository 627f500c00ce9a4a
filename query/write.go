package query

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/schema"
)

var collectionOperators = map[string]bool{
	"$add":     true,
	"$append":  true,
	"$prepend": true,
	"$replace": true,
	"$remove":  true,
}

// Insert compiles an INSERT of every persisted field of r in declaration
// order. Unset fields take their default; unset key fields and required
// fields without a default are errors.
func (c *Compiler) Insert(r *Record, opts SaveOptions) (*Statement, error) {
	var columns, values []string
	var params []any

	for _, f := range c.Schema.PersistedFields() {
		value, ok := r.Lookup(f.Name)
		if !ok {
			def, hasDefault := f.Default.Resolve()
			if !hasDefault {
				if err := c.checkUnset(f, "save"); err != nil {
					return nil, err
				}
				continue
			}
			value = def
			if f.Rule == nil || !f.Rule.IgnoreDefault {
				if err := c.validate(f.Name, schema.ExtractType(f.Type), value); err != nil {
					return nil, cqlerr.Field(cqlerr.ValidationFailed, f.Name,
						fmt.Sprintf("invalid default value %v for field %s of type %s", value, f.Name, schema.ExtractType(f.Type)))
				}
			}
		}
		if value == nil {
			if err := c.checkUnset(f, "save"); err != nil {
				return nil, err
			}
		}

		segment, param, bound, err := c.bind(f.Name, value)
		if err != nil {
			return nil, err
		}
		columns = append(columns, schema.QuoteIdent(f.Name))
		values = append(values, segment)
		if bound {
			params = append(params, param)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.table(), strings.Join(columns, ", "), strings.Join(values, ", "))
	if opts.IfNotExists {
		query += " IF NOT EXISTS"
	}
	if opts.TTL > 0 {
		query += fmt.Sprintf(" USING TTL %d", opts.TTL)
	}
	return &Statement{Query: query + ";", Params: params}, nil
}

func (c *Compiler) checkUnset(f *schema.Field, op string) error {
	if c.Schema.Key.Contains(f.Name) {
		return cqlerr.Field(cqlerr.UnsetKeyField, f.Name, fmt.Sprintf("%s requires a value for primary key field", op))
	}
	if f.Rule != nil && f.Rule.Required {
		return cqlerr.Field(cqlerr.UnsetRequiredField, f.Name, fmt.Sprintf("%s requires a value for required field", op))
	}
	return nil
}

// Update compiles an UPDATE. values maps fields to new values or to one of
// the collection operators $add, $append, $prepend, $remove and $replace.
// Counter fields take a signed delta.
func (c *Compiler) Update(where, values Object, opts UpdateOptions) (*Statement, error) {
	var assignments []string
	var params []any

	for _, p := range values {
		f := c.Schema.Field(p.Key)
		if f == nil {
			return nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, p.Key, fmt.Sprintf("unknown field in table %q", c.Schema.TableName))
		}
		if f.Virtual != nil {
			continue
		}
		if p.Value == nil {
			if err := c.checkUnset(f, "update"); err != nil {
				return nil, err
			}
		}

		assignment, ps, err := c.assignment(f, p.Value)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
		params = append(params, ps...)
	}
	if len(assignments) == 0 {
		return nil, cqlerr.New(cqlerr.InvalidUpdateOperator, "update has no fields to set")
	}

	whereClause, whereParams, err := c.CompileWhere(where)
	if err != nil {
		return nil, err
	}
	params = append(params, whereParams...)

	query := "UPDATE " + c.table()
	if opts.TTL > 0 {
		query += fmt.Sprintf(" USING TTL %d", opts.TTL)
	}
	query += " SET " + strings.Join(assignments, ", ")
	if whereClause != "" {
		query += " " + whereClause
	}

	if len(opts.Conditions) > 0 {
		conditions := make([]string, 0, len(opts.Conditions))
		for _, p := range opts.Conditions {
			segment, param, bound, err := c.bind(p.Key, p.Value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, fmt.Sprintf("%s = %s", schema.QuoteIdent(p.Key), segment))
			if bound {
				params = append(params, param)
			}
		}
		query += " IF " + strings.Join(conditions, " AND ")
	}
	if opts.IfExists {
		query += " IF EXISTS"
	}
	return &Statement{Query: query + ";", Params: params}, nil
}

func (c *Compiler) assignment(f *schema.Field, value any) (string, []any, error) {
	column := schema.QuoteIdent(f.Name)
	typ := schema.ExtractType(f.Type)

	op, operand, err := updateOperator(f.Name, value)
	if err != nil {
		return "", nil, err
	}

	if typ == "counter" && op == "" {
		delta, negative, ok := counterDelta(operand)
		if !ok {
			return "", nil, cqlerr.Field(cqlerr.ValidationFailed, f.Name, schema.GenericValidatorMessage(operand, f.Name, typ))
		}
		sign := "+"
		if negative {
			sign = "-"
		}
		return fmt.Sprintf("%s = %s %s ?", column, column, sign), []any{delta}, nil
	}

	if op != "" && typ != "map" && typ != "list" && typ != "set" {
		return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, f.Name, fmt.Sprintf("%s is not supported on %s fields", op, typ))
	}

	if op == "$replace" {
		return c.replace(f.Name, typ, operand)
	}

	segment, param, bound, err := c.bind(f.Name, operand)
	if err != nil {
		return "", nil, err
	}
	var params []any
	if bound {
		params = []any{param}
	}

	switch op {
	case "$add", "$append":
		return fmt.Sprintf("%s = %s + %s", column, column, segment), params, nil
	case "$prepend":
		if typ != "list" {
			return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, f.Name, fmt.Sprintf("%s fields do not support $prepend, use $add instead", typ))
		}
		return fmt.Sprintf("%s = %s + %s", column, segment, column), params, nil
	case "$remove":
		if typ == "map" && bound {
			params = []any{mapKeys(operand)}
		}
		return fmt.Sprintf("%s = %s - %s", column, column, segment), params, nil
	}
	return fmt.Sprintf("%s = %s", column, segment), params, nil
}

// updateOperator splits {"$append": [...]} into its operator and operand.
// Objects without a "$" key are plain values.
func updateOperator(field string, value any) (string, any, error) {
	obj, ok := value.(Object)
	if !ok {
		m, isMap := value.(map[string]any)
		if !isMap {
			return "", value, nil
		}
		obj = FromMap(m)
	}
	hasOperator := false
	for _, p := range obj {
		if strings.HasPrefix(p.Key, "$") {
			hasOperator = true
		}
	}
	if !hasOperator {
		return "", value, nil
	}
	if len(obj) != 1 {
		return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, field, "an update operator object must have exactly one key")
	}
	op := strings.ToLower(obj[0].Key)
	if !collectionOperators[op] {
		return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, field, fmt.Sprintf("unknown update operator %q", obj[0].Key))
	}
	return op, obj[0].Value, nil
}

// replace compiles $replace: {"key": value} on a map, [index, value] on a
// list.
func (c *Compiler) replace(field, typ string, operand any) (string, []any, error) {
	column := schema.QuoteIdent(field)
	switch typ {
	case "map":
		entry, ok := asObject(operand)
		if !ok || len(entry) != 1 {
			return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, field, "$replace in map requires exactly one entry")
		}
		return fmt.Sprintf("%s[?] = ?", column), []any{entry[0].Key, plain(entry[0].Value)}, nil
	case "list":
		if !isList(operand) || reflect.ValueOf(operand).Len() != 2 {
			return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, field, "$replace in list requires exactly 2 items, the index and the value")
		}
		rv := reflect.ValueOf(operand)
		return fmt.Sprintf("%s[?] = ?", column), []any{rv.Index(0).Interface(), plain(rv.Index(1).Interface())}, nil
	}
	return "", nil, cqlerr.Field(cqlerr.InvalidUpdateOperator, field, fmt.Sprintf("%s fields do not support $replace", typ))
}

// mapKeys returns the keys of a map operand, in Object order for Objects.
func mapKeys(operand any) []string {
	if obj, ok := operand.(Object); ok {
		return obj.Keys()
	}
	if m, ok := operand.(map[string]any); ok {
		return FromMap(m).Keys()
	}
	rv := reflect.ValueOf(operand)
	if rv.Kind() != reflect.Map {
		return nil
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	slices.Sort(keys)
	return keys
}

// counterDelta folds the sign of a counter delta into the operator. Deltas
// whose magnitude does not fit a bigint are rejected.
func counterDelta(v any) (any, bool, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n == math.MinInt64 {
			return nil, false, false
		}
		if n < 0 {
			return -n, true, true
		}
		return n, false, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > math.MaxInt64 {
			return nil, false, false
		}
		return int64(n), false, true
	case reflect.Float64, reflect.Float32:
		f := rv.Float()
		if math.Abs(f) >= math.MaxInt64 || f != math.Trunc(f) {
			return nil, false, false
		}
		if f < 0 {
			return int64(-f), true, true
		}
		return int64(f), false, true
	}
	return nil, false, false
}

// Delete compiles a DELETE for the rows matching where.
func (c *Compiler) Delete(where Object) (*Statement, error) {
	clause, params, err := c.CompileWhere(where)
	if err != nil {
		return nil, err
	}
	query := "DELETE FROM " + c.table()
	if clause != "" {
		query += " " + clause
	}
	return &Statement{Query: query + ";", Params: params}, nil
}
