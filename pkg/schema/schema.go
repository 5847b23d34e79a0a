package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// FieldType selects how a resolved raw value is cast.
type FieldType string

const (
	TypeText      FieldType = "text"
	TypeNumber    FieldType = "number"
	TypeJSON      FieldType = "json"
	TypeList      FieldType = "list"
	TypeUndefined FieldType = "undefined"
)

// ErrorPolicy decides what happens when a cast or formatter fails for a field.
// The empty value means: substitute the default if one is declared, raise otherwise.
type ErrorPolicy string

const (
	OnErrorUnset   ErrorPolicy = ""
	OnErrorDefault ErrorPolicy = "default"
	OnErrorRaise   ErrorPolicy = "raise"
)

// FieldSpec describes how to pull and shape one named value from a record unit.
type FieldSpec struct {
	Name      string    `json:"name,omitempty"`
	Selector  string    `json:"selector"`
	Type      FieldType `json:"type,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
	Default   any       `json:"default,omitempty"`

	// Preformat and Postformat name registry formatters applied in order
	// before and after the type cast.
	Preformat  []string    `json:"preformat,omitempty"`
	Postformat []string    `json:"postformat,omitempty"`
	OnError    ErrorPolicy `json:"on_error,omitempty"`

	// Follow triggers a nested fetch+extract cycle when the resolved value
	// is a URL string. The nested schema's field names replace this field's
	// own name in the parent record.
	Follow *Schema `json:"follow,omitempty"`

	// SubFields turns a list field into a sequence of structured objects,
	// one per matched node.
	SubFields []FieldSpec `json:"sub_fields,omitempty"`

	// ListAggregate names a registry aggregate that reduces the full list
	// sequence to a single value, e.g. "count".
	ListAggregate string `json:"list_aggregate,omitempty"`
}

// HasDefault reports whether the field declares a fallback value.
func (f *FieldSpec) HasDefault() bool {
	return f.Default != nil
}

// FailOpen reports whether a cast/formatter failure should substitute the
// default instead of propagating.
func (f *FieldSpec) FailOpen() bool {
	switch f.OnError {
	case OnErrorDefault:
		return true
	case OnErrorRaise:
		return false
	default:
		return f.HasDefault()
	}
}

// WaitForSelector delays extraction until a selector reaches the wanted state
// on a rendered page. Browser crawlers only.
type WaitForSelector struct {
	Selector string   `json:"selector"`
	Timeout  Duration `json:"timeout,omitempty"`
	State    string   `json:"state,omitempty"` // "visible" (default) or "attached"
}

// Schema describes what to extract from a page: the repeating record unit,
// its fields, and optionally how to paginate. One record is produced per
// base-selector match.
type Schema struct {
	BaseSelector    string           `json:"base_selector"`
	Fields          []FieldSpec      `json:"fields"`
	Pagination      *Pagination      `json:"pagination,omitempty"`
	WaitForSelector *WaitForSelector `json:"wait_for_selector,omitempty"`
}

// Pagination is a closed union: exactly one variant must be set.
type Pagination struct {
	URL    *URLPagination    `json:"url,omitempty"`
	Scroll *ScrollPagination `json:"scroll,omitempty"`
	Click  *ClickPagination  `json:"click,omitempty"`
}

// URLPagination substitutes a page index into the URL template for each page
// from StartPage to EndPage inclusive.
type URLPagination struct {
	Placeholder string   `json:"placeholder,omitempty"` // default "{page}"
	StartPage   int      `json:"start_page,omitempty"`  // default 1
	EndPage     int      `json:"end_page,omitempty"`    // default 1
	Delay       Duration `json:"delay,omitempty"`
}

const DefaultPlaceholder = "{page}"

// ScrollStop is the predicate that terminates a scroll pagination loop.
type ScrollStop string

const (
	ScrollStopCount  ScrollStop = "count"
	ScrollStopElement ScrollStop = "element"
	ScrollStopNoNew  ScrollStop = "no-new-elements"
)

// ScrollPagination scrolls the page (or a named container) until the stop
// condition holds, then extracts once over the final render.
type ScrollPagination struct {
	StopCondition ScrollStop `json:"stop_condition,omitempty"` // default "count"

	ScrollDistance int      `json:"scroll_distance,omitempty"` // default 1000
	ScrollDelay    Duration `json:"scroll_delay,omitempty"`    // default 1.5s
	ScrollTarget   string   `json:"scroll_target,omitempty"`   // "" or "window" scrolls the window
	Horizontal     bool     `json:"horizontal,omitempty"`

	// count condition
	ScrollCount int `json:"scroll_count,omitempty"` // default 5

	// element condition
	StopSelector string `json:"stop_selector,omitempty"`

	// no-new-elements condition
	RetryLimit          int `json:"retry_limit,omitempty"` // default 3
	RetryScrollDistance int `json:"retry_scroll_distance,omitempty"`
}

// ClickStop is the predicate that terminates a click pagination loop.
type ClickStop string

const (
	ClickStopCount   ClickStop = "count"
	ClickStopElement ClickStop = "element"
	ClickStopNoButton ClickStop = "no-button"
)

// ClickPagination repeatedly clicks a button (e.g. "load more"), extracting a
// full assembler pass after each click.
type ClickPagination struct {
	StopCondition  ClickStop `json:"stop_condition,omitempty"` // default "no-button"
	ButtonSelector string    `json:"button_selector"`

	// count condition
	ClickCount int `json:"click_count,omitempty"`

	// element condition, also usable as a secondary exit
	StopSelector string `json:"stop_selector,omitempty"`

	// optional pre-click scroll, scroll-style secondary exit
	ScrollDistance int    `json:"scroll_distance,omitempty"`
	ScrollTarget   string `json:"scroll_target,omitempty"`
	Horizontal     bool   `json:"horizontal,omitempty"`
	ScrollCount    int    `json:"scroll_count,omitempty"`

	CycleDelay          Duration `json:"cycle_delay,omitempty"` // default 1s
	RetryDelay          Duration `json:"retry_delay,omitempty"` // default 1s
	RetryLimit          int      `json:"retry_limit,omitempty"` // default 3
	RetryScrollDistance int      `json:"retry_scroll_distance,omitempty"`
}

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("1.5s") or a bare number of seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", str, err)
		}
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// OrDefault returns the duration, or fallback when unset.
func (d Duration) OrDefault(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

func validSelector(sel string) error {
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("bad selector %q: %w", sel, err)
	}
	return nil
}
