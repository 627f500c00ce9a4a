package schema

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Validator is one field-level rule. Either Func is set, or Builtin names one
// of the validators registered in builtinValidators.
type Validator struct {
	Func    func(value any) bool
	Message func(value any, field, typeName string) string
	Builtin string
}

type Rule struct {
	Validators    []Validator
	Required      bool
	IgnoreDefault bool
}

var builtinValidators = map[string]func(any) bool{
	"not_empty": func(v any) bool {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
			return rv.Len() > 0
		}
		return true
	},
	"positive": func(v any) bool {
		f, ok := toFloat(v)
		return ok && f > 0
	},
	"non_negative": func(v any) bool {
		f, ok := toFloat(v)
		return ok && f >= 0
	},
	"uuid": func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return isUUID(v)
		}
		_, err := uuid.Parse(s)
		return err == nil
	},
}

func BuiltinValidatorNames() []string {
	names := make([]string, 0, len(builtinValidators))
	for name := range builtinValidators {
		names = append(names, name)
	}
	return names
}

// resolve returns a copy with Func bound, or an error if the validator is
// neither a function nor a known built-in.
func (v Validator) resolve() (Validator, error) {
	if v.Func != nil {
		return v, nil
	}
	if v.Builtin == "" {
		return v, fmt.Errorf("validation rule must be a function or a built-in name")
	}
	f, ok := builtinValidators[v.Builtin]
	if !ok {
		return v, fmt.Errorf("unknown built-in validator %q", v.Builtin)
	}
	v.Func = f
	return v, nil
}

// Validate runs validators in order and returns the message of the first
// failure. nil values and DBFunction values always pass.
func Validate(validators []Validator, value any, field, typeName string) (string, bool) {
	if value == nil {
		return "", true
	}
	if _, ok := value.(DBFunction); ok {
		return "", true
	}
	for _, v := range validators {
		if v.Func == nil {
			continue
		}
		if !v.Func(value) {
			msg := v.Message
			if msg == nil {
				msg = GenericValidatorMessage
			}
			return msg(value, field, typeName), false
		}
	}
	return "", true
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
