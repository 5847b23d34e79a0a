package crawler

import (
	"errors"
	"fmt"

	"github.com/amosWeiskopf/schemasmith/pkg/extractor"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// Error taxonomy. Every run-time failure kind wraps ErrCrawler; schema
// configuration problems surface as schema.ErrInvalidSchema instead and are
// reported before any network or DOM work.
var (
	ErrCrawler   = errors.New("crawler error")
	ErrRequest   = fmt.Errorf("request failed: %w", ErrCrawler)
	ErrParse     = fmt.Errorf("parse failed: %w", ErrCrawler)
	ErrFormatter = fmt.Errorf("formatter failed: %w", ErrCrawler)
)

// ErrInvalidSchema is re-exported so callers can match configuration errors
// without importing pkg/schema.
var ErrInvalidSchema = schema.ErrInvalidSchema

// RequestError reports a transport or navigation failure, including
// timeouts, for a specific URL.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() []error {
	return []error{ErrRequest, e.Err}
}

func requestErr(url string, err error) error {
	return &RequestError{URL: url, Err: err}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func parseErr(err error) error {
	return &kindError{kind: ErrParse, err: err}
}

func crawlErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCrawler, fmt.Sprintf(format, args...))
}

// tagExtractErr folds extraction failures into the taxonomy: formatter and
// cast failures match ErrFormatter, anything else matches ErrCrawler.
func tagExtractErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCrawler) || errors.Is(err, schema.ErrInvalidSchema) {
		return err
	}
	var fe *extractor.FormatterError
	if errors.As(err, &fe) {
		return &kindError{kind: ErrFormatter, err: err}
	}
	return &kindError{kind: ErrCrawler, err: err}
}
