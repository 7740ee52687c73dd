package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/juju/schema"

	"github.com/persistorai/docmigrate/internal/rules"
)

// checkerFor returns the schema checker for a destination field type.
func checkerFor(t rules.FieldType) schema.Checker {
	switch t {
	case rules.TypeString:
		return schema.String()
	case rules.TypeInt:
		return intC{}
	case rules.TypeDecimal:
		return decimalC{}
	case rules.TypeBool:
		return schema.Bool()
	case rules.TypeTime:
		return schema.Time()
	default:
		return jsonC{}
	}
}

// buildSchema turns a rule's field types into a FieldMap checker. Required
// fields have no default, so their absence is a coercion error; every other
// field is omitted when absent.
func buildSchema(r *rules.Rule, skip map[string]bool) schema.Checker {
	fields := schema.Fields{}
	defaults := schema.Defaults{}

	required := make(map[string]bool, len(r.Required))
	for _, f := range r.Required {
		required[f] = true
	}

	for name, t := range r.Types {
		if skip[name] {
			continue
		}

		fields[name] = checkerFor(t)
		if !required[name] {
			defaults[name] = schema.Omit
		}
	}

	// Required fields without a declared type still have to be present.
	for name := range required {
		if _, ok := fields[name]; !ok && !skip[name] {
			fields[name] = schema.Any()
		}
	}

	return schema.FieldMap(fields, defaults)
}

type intC struct{}

// Coerce accepts json.Number, numeric strings, integral floats and Go integers.
func (intC) Coerce(v any, path []string) (any, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected integer, got %q", pathString(path), n.String())
		}

		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected integer, got %q", pathString(path), n)
		}

		return i, nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%s: expected integer, got %v", pathString(path), n)
		}

		return int64(n), nil
	}

	return schema.Int().Coerce(v, path)
}

type decimalC struct{}

// Coerce accepts json.Number, numeric strings and Go numbers, returning an
// exact *apd.Decimal. Floats are formatted with the shortest representation
// before parsing so 10.1 stays 10.1.
func (decimalC) Coerce(v any, path []string) (any, error) {
	var s string

	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case *apd.Decimal:
		return n, nil
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			s = strconv.FormatInt(rv.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			s = strconv.FormatUint(rv.Uint(), 10)
		default:
			return nil, fmt.Errorf("%s: expected decimal, got %T(%#v)", pathString(path), v, v)
		}
	}

	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return nil, fmt.Errorf("%s: expected decimal, got %q", pathString(path), s)
	}

	return d, nil
}

type jsonC struct{}

// Coerce accepts any value that can be encoded as JSON and returns its encoding.
func (jsonC) Coerce(v any, path []string) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: expected JSON value: %w", pathString(path), err)
	}

	return string(data), nil
}

func pathString(path []string) string {
	if len(path) > 0 && path[0] == "." {
		path = path[1:]
	}

	if len(path) == 0 {
		return "value"
	}

	return strings.Join(path, "")
}
