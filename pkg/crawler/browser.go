package crawler

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/amosWeiskopf/schemasmith/pkg/extractor"
	"github.com/amosWeiskopf/schemasmith/pkg/query"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// BrowserCrawler drives a rendered page session. One logical page is reused
// across a whole pagination run; nested follows open a scoped tab so sibling
// navigation never disturbs the parent's render.
type BrowserCrawler struct {
	driver   PageDriver
	registry *schema.Registry
	opts     BrowserOptions
	log      *logrus.Entry
	baseURL  string
}

// NewBrowser builds a crawler around an already-started page driver. reg may
// be nil to use the built-in registry.
func NewBrowser(driver PageDriver, opts BrowserOptions, reg *schema.Registry) *BrowserCrawler {
	if reg == nil {
		reg = schema.NewRegistry()
	}
	return &BrowserCrawler{
		driver:   driver,
		registry: reg,
		opts:     opts,
		log:      logrus.WithField("component", "browser_crawler"),
	}
}

// Fetch validates the schema, then dispatches on the pagination union:
// URL pagination navigates per page, scroll pagination scrolls then extracts
// the final render once, click pagination extracts after every click, and an
// unpaginated schema extracts the single page.
func (c *BrowserCrawler) Fetch(ctx context.Context, pageURL string, s *schema.Schema) ([]*schema.Record, error) {
	if err := s.Validate(c.registry); err != nil {
		return nil, err
	}
	return c.fetch(ctx, pageURL, s)
}

func (c *BrowserCrawler) fetch(ctx context.Context, pageURL string, s *schema.Schema) ([]*schema.Record, error) {
	if s.Pagination != nil && s.Pagination.URL != nil {
		return c.urlPaginate(ctx, pageURL, s)
	}

	if err := c.navigate(ctx, pageURL, s); err != nil {
		return nil, err
	}

	switch {
	case s.Pagination == nil:
		return c.extract(ctx, s)
	case s.Pagination.Scroll != nil:
		if err := c.runScroll(ctx, s); err != nil {
			return nil, err
		}
		return c.extract(ctx, s)
	case s.Pagination.Click != nil:
		return c.runClick(ctx, s)
	default:
		return c.extract(ctx, s)
	}
}

// navigate loads pageURL and applies the schema's post-load waits and hook.
func (c *BrowserCrawler) navigate(ctx context.Context, pageURL string, s *schema.Schema) error {
	c.log.WithField("url", pageURL).Debug("navigating")
	if err := c.driver.Navigate(ctx, pageURL); err != nil {
		return requestErr(pageURL, err)
	}
	c.baseURL = pageURL
	if s.WaitForSelector != nil {
		if err := c.driver.WaitForSelector(ctx, *s.WaitForSelector); err != nil {
			return requestErr(pageURL, err)
		}
	}
	if c.opts.OnPageLoad != nil {
		c.opts.OnPageLoad(c.driver)
	}
	return nil
}

// extract runs one assembler pass over the current render.
func (c *BrowserCrawler) extract(ctx context.Context, s *schema.Schema) ([]*schema.Record, error) {
	markup, err := c.driver.Content(ctx)
	if err != nil {
		return nil, requestErr(c.baseURL, err)
	}
	doc, err := query.Parse(markup)
	if err != nil {
		return nil, parseErr(err)
	}

	assembler := extractor.New(c.registry, func(followURL string, nested *schema.Schema) ([]*schema.Record, error) {
		return c.followInTab(ctx, followURL, nested)
	})
	records, err := assembler.Assemble(doc, s)
	if err != nil {
		return nil, tagExtractErr(err)
	}
	return records, nil
}

// followInTab performs a nested fetch in a freshly opened tab. The tab is
// released on every exit path so concurrent sibling records cannot interfere
// with each other's navigation state.
func (c *BrowserCrawler) followInTab(ctx context.Context, followURL string, nested *schema.Schema) ([]*schema.Record, error) {
	tab, err := c.driver.NewTab(ctx)
	if err != nil {
		return nil, requestErr(followURL, err)
	}
	defer tab.Close(ctx)

	nestedCrawler := &BrowserCrawler{
		driver:   tab,
		registry: c.registry,
		opts:     c.opts,
		log:      c.log.WithField("follow", followURL),
	}
	return nestedCrawler.fetch(ctx, c.resolveURL(followURL), nested)
}

func (c *BrowserCrawler) resolveURL(ref string) string {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
