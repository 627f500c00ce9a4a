package schema

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	primitiveTypes = map[string]bool{
		"ascii":     true,
		"bigint":    true,
		"blob":      true,
		"boolean":   true,
		"counter":   true,
		"date":      true,
		"decimal":   true,
		"double":    true,
		"duration":  true,
		"float":     true,
		"inet":      true,
		"int":       true,
		"smallint":  true,
		"text":      true,
		"time":      true,
		"timestamp": true,
		"timeuuid":  true,
		"tinyint":   true,
		"uuid":      true,
		"varint":    true,
	}
	parameterizedTypes = map[string]bool{
		"list":   true,
		"set":    true,
		"map":    true,
		"frozen": true,
		"tuple":  true,
	}
	// The catalog always reports the canonical spelling.
	dataTypeAliases = map[string]string{
		"varchar": "text",
	}
)

// DBFunction is a value rendered verbatim into statement text instead of being
// bound as a parameter, e.g. DBFunction("toTimestamp(now())").
type DBFunction string

func normalizeTypeName(typeName string) string {
	normalized := strings.ToLower(strings.TrimSpace(typeName))
	if alias, ok := dataTypeAliases[normalized]; ok {
		normalized = alias
	}
	return normalized
}

// normalizeTypeDef lowercases a type parameterization like "<Text, varchar>"
// and strips the whitespace so it compares equal to what the catalog reports.
func normalizeTypeDef(typeDef string) string {
	if typeDef == "" {
		return ""
	}
	var b strings.Builder
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			b.WriteString(normalizeTypeName(word.String()))
			word.Reset()
		}
	}
	for _, r := range typeDef {
		switch r {
		case '<', '>', ',':
			flush()
			b.WriteRune(r)
		case ' ', '\t', '\n':
			continue
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return b.String()
}

// ExtractType returns the base type of a catalog type string:
// "map<text, int>" -> "map", "frozen<list<int>>" -> "frozen".
func ExtractType(catalogType string) string {
	if i := strings.IndexByte(catalogType, '<'); i >= 0 {
		return normalizeTypeName(catalogType[:i])
	}
	return normalizeTypeName(catalogType)
}

// ExtractTypeDef returns the parameterization of a catalog type string:
// "map<text, int>" -> "<text,int>".
var typeDefWord = regexp.MustCompile(`^(?:[a-z0-9_]+|"[^"]+")(?:\.(?:[a-z0-9_]+|"[^"]+"))?$`)

// validTypeDef reports whether a normalized typeDef is a balanced
// "<...>" list of type names, numbers and keyspace-qualified UDTs.
func validTypeDef(typeDef string) bool {
	if !strings.HasPrefix(typeDef, "<") || !strings.HasSuffix(typeDef, ">") {
		return false
	}
	depth := 0
	var word strings.Builder
	flush := func() bool {
		w := word.String()
		word.Reset()
		return w == "" || typeDefWord.MatchString(w)
	}
	for _, r := range typeDef {
		switch r {
		case '<':
			if !flush() {
				return false
			}
			depth++
		case '>':
			if !flush() {
				return false
			}
			depth--
			if depth < 0 {
				return false
			}
		case ',':
			if !flush() || depth == 0 {
				return false
			}
		default:
			if depth == 0 {
				return false
			}
			word.WriteRune(r)
		}
	}
	return depth == 0
}

func ExtractTypeDef(catalogType string) string {
	if i := strings.IndexByte(catalogType, '<'); i >= 0 {
		return normalizeTypeDef(catalogType[i:])
	}
	return ""
}

func IsCollection(typeName string) bool {
	switch typeName {
	case "list", "set", "map":
		return true
	}
	return false
}

func isKnownType(typeName string) bool {
	return primitiveTypes[typeName] || parameterizedTypes[typeName]
}

func isParameterized(typeName string) bool {
	return parameterizedTypes[typeName]
}

// GenericTypeValidator checks that a Go value can be bound to a column of the
// given CQL type. Unknown types (user-defined types) accept anything.
func GenericTypeValidator(typeName string) *Validator {
	var check func(v any) bool
	switch typeName {
	case "ascii", "text", "inet":
		check = func(v any) bool { _, ok := v.(string); return ok }
	case "int", "smallint", "tinyint", "bigint", "counter":
		check = isInteger
	case "varint":
		check = func(v any) bool {
			if _, ok := v.(*big.Int); ok {
				return true
			}
			return isInteger(v)
		}
	case "float", "double", "decimal":
		check = isNumber
	case "boolean":
		check = func(v any) bool { _, ok := v.(bool); return ok }
	case "uuid", "timeuuid":
		check = isUUID
	case "timestamp", "date", "time":
		check = func(v any) bool {
			switch v.(type) {
			case time.Time, string, time.Duration:
				return true
			}
			return isInteger(v)
		}
	case "duration":
		check = func(v any) bool {
			switch v.(type) {
			case time.Duration, string:
				return true
			}
			return false
		}
	case "blob":
		check = func(v any) bool {
			switch v.(type) {
			case []byte, string:
				return true
			}
			return false
		}
	case "list", "set":
		check = func(v any) bool {
			k := reflect.ValueOf(v).Kind()
			return k == reflect.Slice || k == reflect.Array
		}
	case "map":
		check = func(v any) bool { return reflect.ValueOf(v).Kind() == reflect.Map }
	default:
		return nil
	}
	return &Validator{Func: check, Message: GenericValidatorMessage}
}

// GenericValidatorMessage is used when a rule does not carry its own message.
func GenericValidatorMessage(value any, field, typeName string) string {
	return fmt.Sprintf("Invalid Value: \"%v\" for Field: %s (Type: %s)", value, field, typeName)
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		// numbers decoded from YAML/JSON documents
		return n == math.Trunc(n)
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float32, float64, *big.Float, *big.Rat:
		return true
	}
	return isInteger(v)
}

func isUUID(v any) bool {
	switch u := v.(type) {
	case string:
		_, err := uuid.Parse(u)
		return err == nil
	case fmt.Stringer:
		if _, err := uuid.Parse(u.String()); err == nil {
			return true
		}
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8
}
