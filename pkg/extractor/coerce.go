package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// pipeline applies the ordered pre-cast formatters, the type cast, then the
// ordered post-cast formatters. Each step is independently failable and wraps
// its error as a FormatterError naming the field.
func (a *Assembler) pipeline(raw any, f *schema.FieldSpec) (any, error) {
	value := raw
	for _, name := range f.Preformat {
		formatter, _ := a.registry.Formatter(name)
		next, err := formatter(value)
		if err != nil {
			return nil, &FormatterError{Field: f.Name, Stage: "preformat", Err: fmt.Errorf("%s: %w", name, err)}
		}
		value = next
	}

	value, err := castValue(value, f.Type)
	if err != nil {
		return nil, &FormatterError{Field: f.Name, Stage: "cast", Err: err}
	}

	for _, name := range f.Postformat {
		formatter, _ := a.registry.Formatter(name)
		next, err := formatter(value)
		if err != nil {
			return nil, &FormatterError{Field: f.Name, Stage: "postformat", Err: fmt.Errorf("%s: %w", name, err)}
		}
		value = next
	}
	return value, nil
}

// castValue converts a raw value per the field type. Numbers parse as
// floating point and narrow to int64 when the fractional part is zero. The
// undefined type passes the value through untouched. List elements cast as
// text.
func castValue(value any, t schema.FieldType) (any, error) {
	switch t {
	case schema.TypeNumber:
		s := strings.TrimSpace(asString(value))
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to number: %w", s, err)
		}
		if n == float64(int64(n)) {
			return int64(n), nil
		}
		return n, nil
	case schema.TypeJSON:
		var out any
		if err := json.Unmarshal([]byte(asString(value)), &out); err != nil {
			return nil, fmt.Errorf("cannot cast to json: %w", err)
		}
		return out, nil
	case schema.TypeUndefined:
		return value, nil
	default: // text, list elements, unset
		return asString(value), nil
	}
}

func asString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
