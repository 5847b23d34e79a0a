package schema

import (
	"fmt"
	"strings"

	"github.com/markusmobius/go-trafilatura"

	"github.com/amosWeiskopf/schemasmith/pkg/utils"
)

// Formatter transforms a single field value. Formatters are referenced from
// schemas by name so that schemas stay serializable.
type Formatter func(value any) (any, error)

// Aggregate reduces a full list-field sequence to a single value.
type Aggregate func(values []any) (any, error)

// Registry resolves formatter and aggregate names at schema-validation time.
type Registry struct {
	formatters map[string]Formatter
	aggregates map[string]Aggregate
}

// NewRegistry returns a registry containing only the built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{
		formatters: make(map[string]Formatter),
		aggregates: make(map[string]Aggregate),
	}
	r.registerBuiltins()
	return r
}

// RegisterFormatter adds or replaces a named formatter.
func (r *Registry) RegisterFormatter(name string, f Formatter) {
	r.formatters[name] = f
}

// RegisterAggregate adds or replaces a named aggregate.
func (r *Registry) RegisterAggregate(name string, f Aggregate) {
	r.aggregates[name] = f
}

// Formatter looks up a formatter by name.
func (r *Registry) Formatter(name string) (Formatter, bool) {
	f, ok := r.formatters[name]
	return f, ok
}

// Aggregate looks up an aggregate by name.
func (r *Registry) Aggregate(name string) (Aggregate, bool) {
	f, ok := r.aggregates[name]
	return f, ok
}

func stringFormatter(f func(string) string) Formatter {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return f(s), nil
	}
}

func (r *Registry) registerBuiltins() {
	r.RegisterFormatter("trim", stringFormatter(strings.TrimSpace))
	r.RegisterFormatter("lower", stringFormatter(strings.ToLower))
	r.RegisterFormatter("upper", stringFormatter(strings.ToUpper))
	r.RegisterFormatter("clean", stringFormatter(utils.CleanText))
	r.RegisterFormatter("strip_currency", stringFormatter(utils.StripCurrency))

	// article extracts readable main text from an HTML value, typically the
	// body of a followed page.
	r.RegisterFormatter("article", func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		result, err := trafilatura.Extract(strings.NewReader(s), trafilatura.Options{})
		if err != nil {
			return nil, err
		}
		if result == nil {
			return "", nil
		}
		return result.ContentText, nil
	})

	r.RegisterAggregate("count", func(values []any) (any, error) {
		return int64(len(values)), nil
	})
	r.RegisterAggregate("first", func(values []any) (any, error) {
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	})
	r.RegisterAggregate("join", func(values []any) (any, error) {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("%v", v)
		}
		return strings.Join(parts, ", "), nil
	})
	r.RegisterAggregate("sum", func(values []any) (any, error) {
		var total float64
		for _, v := range values {
			switch n := v.(type) {
			case int64:
				total += float64(n)
			case float64:
				total += n
			default:
				return nil, fmt.Errorf("cannot sum %T", v)
			}
		}
		if total == float64(int64(total)) {
			return int64(total), nil
		}
		return total, nil
	})
}
