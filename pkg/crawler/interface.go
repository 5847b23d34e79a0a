package crawler

import (
	"context"
	"time"

	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// PageDriver is the page-driving capability consumed by the browser crawler:
// navigation, script evaluation, element location and clicking, and scoped
// tabs for nested follow fetches. Implemented by pkg/browser via chromedp;
// tests use scripted fakes.
type PageDriver interface {
	// Navigate loads url and blocks until the page settles.
	Navigate(ctx context.Context, url string) error

	// Evaluate runs js in the page. out may be nil to discard the result.
	Evaluate(ctx context.Context, js string, out any) error

	// Content dumps the current rendered markup.
	Content(ctx context.Context) (string, error)

	// Count returns the number of elements matching selector in the
	// current render.
	Count(ctx context.Context, selector string) (int, error)

	// Visible reports whether the first element matching selector is
	// currently visible. A selector with no match is not visible.
	Visible(ctx context.Context, selector string) (bool, error)

	// Click clicks the first visible element matching selector.
	Click(ctx context.Context, selector string) error

	// WaitForSelector blocks until the selector reaches the wanted state
	// or the timeout elapses.
	WaitForSelector(ctx context.Context, opts schema.WaitForSelector) error

	// NewTab opens an independently-owned page sharing the session. The
	// caller must Close it.
	NewTab(ctx context.Context) (PageDriver, error)

	// Close releases the page.
	Close(ctx context.Context) error
}

// Transport is the HTTP capability consumed by the HTTP crawler. Get returns
// the response body and fails on any non-2xx status.
type Transport interface {
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// HTTPOptions configures an HTTP crawler.
type HTTPOptions struct {
	// Headers are sent with every request.
	Headers map[string]string

	UserAgent string
	Timeout   time.Duration

	// RequestsPerSecond rate-limits outgoing fetches. Zero disables the
	// limiter.
	RequestsPerSecond int

	// RespectRobots consults the target host's robots.txt before fetching.
	RespectRobots bool

	// Concurrency bounds simultaneous in-flight page fetches in fan-out
	// mode. Values below 2 keep the crawler fully sequential.
	Concurrency int

	// OnPageLoad runs after every successful fetch, before extraction.
	OnPageLoad func(url string, body []byte)
}

// BrowserOptions configures a browser crawler.
type BrowserOptions struct {
	// NavigationDelay is the settle wait after each URL-pagination
	// navigation.
	NavigationDelay time.Duration

	// OnPageLoad runs after every successful navigation.
	OnPageLoad func(driver PageDriver)

	// OnScroll runs after every scroll cycle.
	OnScroll func(driver PageDriver)
}
