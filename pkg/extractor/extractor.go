// Package extractor turns matched DOM nodes into typed, formatted records
// according to a schema: one record per base-selector match, one value per
// field spec, with nested follow links resolved through a caller-supplied
// fetch function.
package extractor

import (
	"fmt"

	"github.com/amosWeiskopf/schemasmith/pkg/query"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// FollowFunc performs a full fetch-and-extract cycle against url with the
// nested schema. Crawlers inject their own recursion here.
type FollowFunc func(url string, nested *schema.Schema) ([]*schema.Record, error)

// FormatterError reports a failed pre/post transform or type cast, naming
// the field and pipeline stage.
type FormatterError struct {
	Field string
	Stage string // "preformat", "cast", "postformat" or "aggregate"
	Err   error
}

func (e *FormatterError) Error() string {
	return fmt.Sprintf("field %q: %s: %v", e.Field, e.Stage, e.Err)
}

func (e *FormatterError) Unwrap() error {
	return e.Err
}

// Assembler iterates base-selector matches and runs the field pipeline for
// each, producing one record per match.
type Assembler struct {
	registry *schema.Registry
	follow   FollowFunc
}

// New returns an Assembler resolving formatter names against reg. follow may
// be nil, in which case follow fields resolve to an error.
func New(reg *schema.Registry, follow FollowFunc) *Assembler {
	if follow == nil {
		follow = func(url string, _ *schema.Schema) ([]*schema.Record, error) {
			return nil, fmt.Errorf("no follow resolver configured (wanted to follow %q)", url)
		}
	}
	return &Assembler{registry: reg, follow: follow}
}

// Assemble produces one record per base-selector match in doc. A field
// failure aborts the whole pass and propagates.
func (a *Assembler) Assemble(doc *query.Document, s *schema.Schema) ([]*schema.Record, error) {
	nodes := doc.SelectAll(s.BaseSelector)
	records := make([]*schema.Record, 0, len(nodes))
	for _, node := range nodes {
		record := schema.NewRecord()
		for i := range s.Fields {
			if err := a.extractField(node, &s.Fields[i], record); err != nil {
				return nil, err
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// extractField resolves one field against parent and stores the result in
// record. Follow fields merge the nested schema's keys instead of storing a
// value under their own name.
func (a *Assembler) extractField(parent *query.Node, f *schema.FieldSpec, record *schema.Record) error {
	if f.Type == schema.TypeList {
		value, err := a.extractList(parent, f)
		if err != nil {
			return err
		}
		record.Set(f.Name, value)
		return nil
	}

	value, found, err := a.scalarValue(parent, f)
	if err != nil {
		return err
	}
	if !found {
		// missing source node: the default wins and formatters are skipped
		if f.Name != "" {
			record.Set(f.Name, f.Default)
		}
		return nil
	}
	return a.storeOrFollow(f, value, record)
}

// storeOrFollow stores value under the field's name, unless the field
// declares a follow schema and the value is a string URL, in which case the
// nested result's keys are merged in and the field's own name is discarded.
func (a *Assembler) storeOrFollow(f *schema.FieldSpec, value any, record *schema.Record) error {
	if f.Follow != nil {
		if url, ok := value.(string); ok {
			nested, err := a.follow(url, f.Follow)
			if err != nil {
				return err
			}
			for _, nr := range nested {
				record.Merge(nr)
			}
			return nil
		}
	}
	if f.Name != "" {
		record.Set(f.Name, value)
	}
	return nil
}

// scalarValue resolves the field's selector under parent and runs the
// formatter pipeline. found is false when the selector (or the named
// attribute) has no match; the pipeline is skipped entirely in that case.
func (a *Assembler) scalarValue(parent *query.Node, f *schema.FieldSpec) (value any, found bool, err error) {
	node := parent.SelectFirst(f.Selector)
	if node == nil {
		return nil, false, nil
	}
	raw, ok := nodeValue(node, f)
	if !ok {
		return nil, false, nil
	}
	value, err = a.pipeline(raw, f)
	if err != nil {
		if f.FailOpen() {
			return f.Default, true, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// extractList resolves a repeated selector into a sequence of scalars or
// structured objects, then applies the list aggregate once, if configured.
func (a *Assembler) extractList(parent *query.Node, f *schema.FieldSpec) (any, error) {
	nodes := parent.SelectAll(f.Selector)
	sequence := make([]any, 0, len(nodes))

	for _, node := range nodes {
		if len(f.SubFields) > 0 {
			obj := schema.NewRecord()
			for i := range f.SubFields {
				if err := a.extractField(node, &f.SubFields[i], obj); err != nil {
					return nil, err
				}
			}
			sequence = append(sequence, obj)
			continue
		}

		raw, ok := nodeValue(node, f)
		if !ok {
			sequence = append(sequence, f.Default)
			continue
		}
		value, err := a.pipeline(raw, f)
		if err != nil {
			if f.FailOpen() {
				sequence = append(sequence, f.Default)
				continue
			}
			return nil, err
		}
		sequence = append(sequence, value)
	}

	if f.ListAggregate != "" {
		aggregate, _ := a.registry.Aggregate(f.ListAggregate)
		reduced, err := aggregate(sequence)
		if err != nil {
			return nil, &FormatterError{Field: f.Name, Stage: "aggregate", Err: err}
		}
		return reduced, nil
	}
	return sequence, nil
}

// nodeValue pulls the named attribute or the element's own text. A missing
// attribute counts as no match.
func nodeValue(node *query.Node, f *schema.FieldSpec) (string, bool) {
	if f.Attribute != "" {
		return node.Attr(f.Attribute)
	}
	return node.Text(true), true
}
