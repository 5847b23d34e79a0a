package schema

import (
	"errors"
	"fmt"
)

// ErrInvalidSchema reports structurally wrong field or pagination
// configuration. It is detected before any network or DOM work.
var ErrInvalidSchema = errors.New("invalid schema")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchema, fmt.Sprintf(format, args...))
}

// Validate checks the schema tree against the registry: selectors must
// compile, formatter and aggregate names must resolve, the pagination union
// must carry exactly one variant, and the follow tree must not cycle back
// into itself.
func (s *Schema) Validate(reg *Registry) error {
	return s.validate(reg, map[*Schema]bool{})
}

func (s *Schema) validate(reg *Registry, visiting map[*Schema]bool) error {
	if s == nil {
		return invalidf("schema is nil")
	}
	if visiting[s] {
		return invalidf("follow schemas form a cycle")
	}
	visiting[s] = true
	defer delete(visiting, s)

	if s.BaseSelector == "" {
		return invalidf("missing base_selector")
	}
	if err := validSelector(s.BaseSelector); err != nil {
		return invalidf("%v", err)
	}
	if len(s.Fields) == 0 {
		return invalidf("schema declares no fields")
	}
	for i := range s.Fields {
		if err := s.Fields[i].validate(reg, visiting); err != nil {
			return err
		}
	}
	if s.WaitForSelector != nil {
		if s.WaitForSelector.Selector == "" {
			return invalidf("wait_for_selector missing selector")
		}
		if err := validSelector(s.WaitForSelector.Selector); err != nil {
			return invalidf("%v", err)
		}
	}
	if s.Pagination != nil {
		if err := s.Pagination.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *FieldSpec) validate(reg *Registry, visiting map[*Schema]bool) error {
	label := f.Name
	if label == "" {
		label = f.Selector
	}
	if f.Selector == "" {
		return invalidf("field %q missing selector", label)
	}
	if err := validSelector(f.Selector); err != nil {
		return invalidf("field %q: %v", label, err)
	}
	if f.Name == "" && f.Follow == nil {
		return invalidf("field with selector %q has no name and no follow schema", f.Selector)
	}

	switch f.Type {
	case TypeText, TypeNumber, TypeJSON, TypeList, TypeUndefined, "":
	default:
		return invalidf("field %q has unknown type %q", label, f.Type)
	}

	if f.Type != TypeList {
		if len(f.SubFields) > 0 {
			return invalidf("field %q declares sub_fields but is not a list", label)
		}
		if f.ListAggregate != "" {
			return invalidf("field %q declares list_aggregate but is not a list", label)
		}
	} else if f.Follow != nil {
		// follow belongs on sub-fields for list types
		return invalidf("list field %q cannot carry a follow schema", label)
	}

	for _, name := range f.Preformat {
		if _, ok := reg.Formatter(name); !ok {
			return invalidf("field %q references unknown formatter %q", label, name)
		}
	}
	for _, name := range f.Postformat {
		if _, ok := reg.Formatter(name); !ok {
			return invalidf("field %q references unknown formatter %q", label, name)
		}
	}
	if f.ListAggregate != "" {
		if _, ok := reg.Aggregate(f.ListAggregate); !ok {
			return invalidf("field %q references unknown aggregate %q", label, f.ListAggregate)
		}
	}
	switch f.OnError {
	case OnErrorUnset, OnErrorDefault, OnErrorRaise:
	default:
		return invalidf("field %q has unknown on_error policy %q", label, f.OnError)
	}

	if f.Follow != nil {
		if err := f.Follow.validate(reg, visiting); err != nil {
			return err
		}
	}
	for i := range f.SubFields {
		sub := &f.SubFields[i]
		if sub.Type == TypeList {
			return invalidf("sub-field %q of %q cannot itself be a list", sub.Name, label)
		}
		if err := sub.validate(reg, visiting); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pagination) validate() error {
	set := 0
	if p.URL != nil {
		set++
	}
	if p.Scroll != nil {
		set++
	}
	if p.Click != nil {
		set++
	}
	if set != 1 {
		return invalidf("pagination must set exactly one of url, scroll, click (got %d)", set)
	}

	switch {
	case p.URL != nil:
		u := p.URL
		start, end := u.StartPage, u.EndPage
		if start == 0 {
			start = 1
		}
		if end == 0 {
			end = start
		}
		if start < 0 || end < start {
			return invalidf("url pagination has bad page range [%d, %d]", u.StartPage, u.EndPage)
		}
	case p.Scroll != nil:
		sc := p.Scroll
		switch sc.StopCondition {
		case "", ScrollStopCount:
		case ScrollStopElement:
			if sc.StopSelector == "" {
				return invalidf(`scroll pagination with stop_condition "element" requires stop_selector`)
			}
			if err := validSelector(sc.StopSelector); err != nil {
				return invalidf("%v", err)
			}
		case ScrollStopNoNew:
			if sc.RetryLimit < 0 {
				return invalidf("scroll pagination retry_limit must not be negative")
			}
		default:
			return invalidf("unknown scroll stop_condition %q", sc.StopCondition)
		}
	case p.Click != nil:
		c := p.Click
		if c.ButtonSelector == "" {
			return invalidf("click pagination requires button_selector")
		}
		if err := validSelector(c.ButtonSelector); err != nil {
			return invalidf("%v", err)
		}
		switch c.StopCondition {
		case "", ClickStopNoButton:
		case ClickStopCount:
			if c.ClickCount <= 0 {
				return invalidf(`click pagination with stop_condition "count" requires a positive click_count`)
			}
		case ClickStopElement:
			if c.StopSelector == "" {
				return invalidf(`click pagination with stop_condition "element" requires stop_selector`)
			}
		default:
			return invalidf("unknown click stop_condition %q", c.StopCondition)
		}
		if c.StopSelector != "" {
			if err := validSelector(c.StopSelector); err != nil {
				return invalidf("%v", err)
			}
		}
	}
	return nil
}
