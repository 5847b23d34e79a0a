package crawler

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/schemasmith/pkg/extractor"
	"github.com/amosWeiskopf/schemasmith/pkg/query"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// restyTransport adapts a resty client to the Transport capability.
type restyTransport struct {
	client *resty.Client
}

func newRestyTransport(opts HTTPOptions) *restyTransport {
	client := resty.New()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err == nil {
		client.SetCookieJar(jar)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)
	agent := opts.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	client.SetHeader("User-Agent", agent)
	return &restyTransport{client: client}
}

func (t *restyTransport) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	res, err := t.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(url)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode())
	}
	return res.Body(), nil
}

// HTTPCrawler fetches pages over plain HTTP and extracts records per schema.
// One crawler may serve many Fetch calls; the transport session is shared
// read-only across concurrent fetches.
type HTTPCrawler struct {
	transport Transport
	registry  *schema.Registry
	limiter   *rate.Limiter
	opts      HTTPOptions
	log       *logrus.Entry

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.RobotsData
}

// NewHTTP builds an HTTP crawler with a resty-backed transport. reg may be
// nil to use the built-in registry.
func NewHTTP(opts HTTPOptions, reg *schema.Registry) *HTTPCrawler {
	return NewHTTPWithTransport(newRestyTransport(opts), opts, reg)
}

// NewHTTPWithTransport builds an HTTP crawler around a caller-supplied
// transport.
func NewHTTPWithTransport(transport Transport, opts HTTPOptions, reg *schema.Registry) *HTTPCrawler {
	if reg == nil {
		reg = schema.NewRegistry()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestsPerSecond)
	}
	return &HTTPCrawler{
		transport: transport,
		registry:  reg,
		limiter:   limiter,
		opts:      opts,
		robots:    make(map[string]*robotstxt.RobotsData),
		log:       logrus.WithField("component", "http_crawler"),
	}
}

// Fetch validates the schema, then runs the URL pagination machine or a
// single-page extraction. Scroll and click pagination need a rendered page
// and are rejected here.
func (c *HTTPCrawler) Fetch(ctx context.Context, pageURL string, s *schema.Schema) ([]*schema.Record, error) {
	if err := s.Validate(c.registry); err != nil {
		return nil, err
	}
	return c.fetch(ctx, pageURL, s)
}

// fetch assumes s was already validated; nested follow schemas re-enter here.
func (c *HTTPCrawler) fetch(ctx context.Context, pageURL string, s *schema.Schema) ([]*schema.Record, error) {
	if s.Pagination != nil {
		switch {
		case s.Pagination.URL != nil:
			return c.fetchPaginated(ctx, pageURL, s)
		default:
			return nil, fmt.Errorf("%w: scroll and click pagination require a browser crawler", schema.ErrInvalidSchema)
		}
	}
	return c.fetchOne(ctx, pageURL, s)
}

// fetchOne performs one GET + parse + assemble pass.
func (c *HTTPCrawler) fetchOne(ctx context.Context, pageURL string, s *schema.Schema) ([]*schema.Record, error) {
	if c.opts.RespectRobots {
		if err := c.checkRobots(ctx, pageURL); err != nil {
			return nil, err
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, requestErr(pageURL, err)
		}
	}

	c.log.WithField("url", pageURL).Debug("fetching page")
	body, err := c.transport.Get(ctx, pageURL, c.opts.Headers)
	if err != nil {
		return nil, requestErr(pageURL, err)
	}
	if c.opts.OnPageLoad != nil {
		c.opts.OnPageLoad(pageURL, body)
	}

	doc, err := query.Parse(string(body))
	if err != nil {
		return nil, parseErr(err)
	}

	assembler := extractor.New(c.registry, func(followURL string, nested *schema.Schema) ([]*schema.Record, error) {
		return c.fetch(ctx, c.resolveURL(pageURL, followURL), nested)
	})
	records, err := assembler.Assemble(doc, s)
	if err != nil {
		return nil, tagExtractErr(err)
	}
	return records, nil
}

// fetchPaginated runs the URL machine: substitute the placeholder for every
// page index, fetch, extract, concatenate in page order. A navigation
// failure on any page is fatal for the pass.
func (c *HTTPCrawler) fetchPaginated(ctx context.Context, template string, s *schema.Schema) ([]*schema.Record, error) {
	p := s.Pagination.URL
	placeholder := p.Placeholder
	if placeholder == "" {
		placeholder = schema.DefaultPlaceholder
	}
	if !strings.Contains(template, placeholder) {
		return nil, fmt.Errorf("%w: url template %q missing placeholder %q", schema.ErrInvalidSchema, template, placeholder)
	}
	start, end := p.StartPage, p.EndPage
	if start == 0 {
		start = 1
	}
	if end == 0 {
		end = start
	}

	page := &schema.Schema{
		BaseSelector:    s.BaseSelector,
		Fields:          s.Fields,
		WaitForSelector: s.WaitForSelector,
	}
	urls := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		urls = append(urls, strings.ReplaceAll(template, placeholder, strconv.Itoa(i)))
	}

	if c.opts.Concurrency > 1 {
		return c.fetchFanOut(ctx, urls, page)
	}

	var records []*schema.Record
	for i, pageURL := range urls {
		c.log.WithFields(logrus.Fields{"page": start + i, "url": pageURL}).Info("fetching paginated page")
		pageRecords, err := c.fetchOne(ctx, pageURL, page)
		if err != nil {
			return nil, err
		}
		records = append(records, pageRecords...)
		if d := p.Delay.Std(); d > 0 && i < len(urls)-1 {
			if err := sleepCtx(ctx, d); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}

// fetchFanOut fetches independent pages concurrently, bounded by the
// configured concurrency limit. The returned sequence reflects request
// order, not completion order; the first failure fails the whole call and
// sibling results are discarded.
func (c *HTTPCrawler) fetchFanOut(ctx context.Context, urls []string, page *schema.Schema) ([]*schema.Record, error) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.opts.Concurrency)

	perPage := make([][]*schema.Record, len(urls))
	for i, pageURL := range urls {
		group.Go(func() error {
			pageRecords, err := c.fetchOne(ctx, pageURL, page)
			if err != nil {
				return err
			}
			perPage[i] = pageRecords
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var records []*schema.Record
	for _, pageRecords := range perPage {
		records = append(records, pageRecords...)
	}
	return records, nil
}

// checkRobots fetches and caches the host's robots.txt; a disallowed path is
// reported as a request failure. Unreachable or malformed robots files allow
// everything.
func (c *HTTPCrawler) checkRobots(ctx context.Context, pageURL string) error {
	u, err := url.Parse(pageURL)
	if err != nil {
		return requestErr(pageURL, err)
	}

	c.robotsMu.Lock()
	data, cached := c.robots[u.Host]
	c.robotsMu.Unlock()

	if !cached {
		robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
		body, err := c.transport.Get(ctx, robotsURL, c.opts.Headers)
		if err == nil {
			data, _ = robotstxt.FromBytes(body)
		}
		c.robotsMu.Lock()
		c.robots[u.Host] = data
		c.robotsMu.Unlock()
	}

	if data != nil && !data.TestAgent(u.Path, c.agent()) {
		return requestErr(pageURL, fmt.Errorf("disallowed by robots.txt"))
	}
	return nil
}

func (c *HTTPCrawler) agent() string {
	if c.opts.UserAgent != "" {
		return c.opts.UserAgent
	}
	return defaultUserAgent
}

// resolveURL makes a followed link absolute against the page it came from.
func (c *HTTPCrawler) resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
