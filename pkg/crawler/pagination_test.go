package crawler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// fakeDriver is a scripted PageDriver. Unset hooks fall back to benign
// defaults so each test only scripts the calls it cares about.
type fakeDriver struct {
	navigateFn func(url string) error
	evaluateFn func(js string) error
	contentFn  func() (string, error)
	countFn    func(selector string) (int, error)
	visibleFn  func(selector string) (bool, error)
	clickFn    func(selector string) error
	newTabFn   func() (PageDriver, error)

	navigated []string
	evaluated []string
	clicks    int
	closed    bool
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.navigated = append(d.navigated, url)
	if d.navigateFn != nil {
		return d.navigateFn(url)
	}
	return nil
}

func (d *fakeDriver) Evaluate(ctx context.Context, js string, out any) error {
	d.evaluated = append(d.evaluated, js)
	if d.evaluateFn != nil {
		return d.evaluateFn(js)
	}
	return nil
}

func (d *fakeDriver) Content(ctx context.Context) (string, error) {
	if d.contentFn != nil {
		return d.contentFn()
	}
	return "<html></html>", nil
}

func (d *fakeDriver) Count(ctx context.Context, selector string) (int, error) {
	if d.countFn != nil {
		return d.countFn(selector)
	}
	return 0, nil
}

func (d *fakeDriver) Visible(ctx context.Context, selector string) (bool, error) {
	if d.visibleFn != nil {
		return d.visibleFn(selector)
	}
	return false, nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.clicks++
	if d.clickFn != nil {
		return d.clickFn(selector)
	}
	return nil
}

func (d *fakeDriver) WaitForSelector(ctx context.Context, opts schema.WaitForSelector) error {
	return nil
}

func (d *fakeDriver) NewTab(ctx context.Context) (PageDriver, error) {
	if d.newTabFn != nil {
		return d.newTabFn()
	}
	return &fakeDriver{}, nil
}

func (d *fakeDriver) Close(ctx context.Context) error {
	d.closed = true
	return nil
}

func itemsHTML(n int) string {
	out := "<html><body>"
	for i := 1; i <= n; i++ {
		out += fmt.Sprintf(`<div class="item"><h3>item-%d</h3></div>`, i)
	}
	return out + "</body></html>"
}

func itemSchema() *schema.Schema {
	return &schema.Schema{
		BaseSelector: "div.item",
		Fields:       []schema.FieldSpec{{Name: "name", Selector: "h3"}},
	}
}

const fastDelay = schema.Duration(time.Millisecond)

func TestBrowserFetchSinglePage(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(3), nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	records, err := c.Fetch(context.Background(), "http://shop.test/", itemSchema())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://shop.test/"}, driver.navigated)
	require.Len(t, records, 3)
	name, _ := records[0].Get("name")
	assert.Equal(t, "item-1", name)
}

func TestBrowserURLPagination(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(1), nil },
	}
	c := NewBrowser(driver, BrowserOptions{NavigationDelay: time.Millisecond}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{URL: &schema.URLPagination{StartPage: 2, EndPage: 4, Delay: fastDelay}}

	records, err := c.Fetch(context.Background(), "http://shop.test/?p={page}", s)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://shop.test/?p=2",
		"http://shop.test/?p=3",
		"http://shop.test/?p=4",
	}, driver.navigated)
	assert.Len(t, records, 3)
}

func TestBrowserURLPaginationMissingPlaceholder(t *testing.T) {
	driver := &fakeDriver{}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{URL: &schema.URLPagination{StartPage: 1, EndPage: 2}}

	_, err := c.Fetch(context.Background(), "http://shop.test/list", s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSchema)
	assert.Empty(t, driver.navigated, "broken template must fail before any navigation")
}

func TestScrollStopsAfterFixedCount(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(4), nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Scroll: &schema.ScrollPagination{
		StopCondition: schema.ScrollStopCount,
		ScrollCount:   3,
		ScrollDelay:   fastDelay,
	}}

	records, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Len(t, driver.evaluated, 3)
	assert.Contains(t, driver.evaluated[0], "window.scrollBy(0, 1000)")
	// extraction runs once, over the final render
	assert.Len(t, records, 4)
}

func TestScrollStopsOnElement(t *testing.T) {
	visibleCalls := 0
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(2), nil },
		visibleFn: func(selector string) (bool, error) {
			assert.Equal(t, "div.end", selector)
			visibleCalls++
			return visibleCalls >= 3, nil
		},
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Scroll: &schema.ScrollPagination{
		StopCondition: schema.ScrollStopElement,
		StopSelector:  "div.end",
		ScrollDelay:   fastDelay,
	}}

	_, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Len(t, driver.evaluated, 3)
}

func TestScrollNoNewElementsRetriesThenStops(t *testing.T) {
	// match counts per cycle: grows, stalls once, grows again, then stalls
	// for good. The retry counter must reset on growth.
	counts := []int{10, 20, 20, 30, 30, 30, 30}
	cycle := 0
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(30), nil },
		countFn: func(selector string) (int, error) {
			assert.Equal(t, "div.item", selector)
			n := counts[cycle]
			cycle++
			return n, nil
		},
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Scroll: &schema.ScrollPagination{
		StopCondition: schema.ScrollStopNoNew,
		RetryLimit:    3,
		ScrollDelay:   fastDelay,
	}}

	records, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Equal(t, 7, cycle, "stalled three consecutive cycles after the last growth")
	assert.Len(t, records, 30)
}

func TestScrollNudgesOnRetry(t *testing.T) {
	counts := []int{5, 5, 5}
	cycle := 0
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(5), nil },
		countFn: func(string) (int, error) {
			n := counts[cycle]
			cycle++
			return n, nil
		},
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Scroll: &schema.ScrollPagination{
		StopCondition:       schema.ScrollStopNoNew,
		RetryLimit:          2,
		RetryScrollDistance: -200,
		ScrollDelay:         fastDelay,
	}}

	_, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	// three main scrolls plus a backwards nudge per stalled cycle
	assert.Contains(t, driver.evaluated, "window.scrollBy(0, -200)")
	assert.Len(t, driver.evaluated, 5)
}

func TestScrollContainerTargetHorizontal(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(1), nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Scroll: &schema.ScrollPagination{
		StopCondition:  schema.ScrollStopCount,
		ScrollCount:    1,
		ScrollDelay:    fastDelay,
		ScrollTarget:   "div.carousel",
		Horizontal:     true,
		ScrollDistance: 300,
	}}

	_, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	require.Len(t, driver.evaluated, 1)
	assert.Equal(t, `document.querySelector("div.carousel").scrollBy(300, 0)`, driver.evaluated[0])
}

func TestClickStopsWhenButtonGone(t *testing.T) {
	// the button survives two cycles, then disappears; one retry round
	// confirms it is gone before the machine stops
	visibleCalls := 0
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(2), nil },
		visibleFn: func(selector string) (bool, error) {
			visibleCalls++
			return visibleCalls <= 2, nil
		},
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Click: &schema.ClickPagination{
		ButtonSelector: "button.more",
		RetryLimit:     1,
		CycleDelay:     fastDelay,
		RetryDelay:     fastDelay,
	}}

	records, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Equal(t, 2, driver.clicks)
	// two post-click extraction passes over a 2-item render
	assert.Len(t, records, 4)
}

func TestClickStopsAtClickCount(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(1), nil },
		visibleFn: func(string) (bool, error) { return true, nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Click: &schema.ClickPagination{
		StopCondition:  schema.ClickStopCount,
		ButtonSelector: "button.more",
		ClickCount:     3,
		CycleDelay:     fastDelay,
	}}

	records, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Equal(t, 3, driver.clicks)
	assert.Len(t, records, 3)
}

func TestClickStopsOnElement(t *testing.T) {
	cycle := 0
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(1), nil },
		visibleFn: func(selector string) (bool, error) {
			if selector == "button.more" {
				return true, nil
			}
			// div.end becomes visible after the second click
			cycle++
			return cycle >= 2, nil
		},
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Click: &schema.ClickPagination{
		StopCondition:  schema.ClickStopElement,
		ButtonSelector: "button.more",
		StopSelector:   "div.end",
		CycleDelay:     fastDelay,
	}}

	_, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Equal(t, 2, driver.clicks)
}

func TestClickMissingButtonErrorsUnderStrictStop(t *testing.T) {
	driver := &fakeDriver{
		visibleFn: func(string) (bool, error) { return false, nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Click: &schema.ClickPagination{
		StopCondition:  schema.ClickStopCount,
		ButtonSelector: "button.more",
		ClickCount:     2,
		RetryLimit:     1,
		RetryDelay:     fastDelay,
	}}

	_, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrawler)
	assert.Zero(t, driver.clicks)
}

func TestClickNeverClickableStillExtractsOnce(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(5), nil },
		visibleFn: func(string) (bool, error) { return false, nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Pagination = &schema.Pagination{Click: &schema.ClickPagination{
		ButtonSelector: "button.more",
		RetryLimit:     1,
		RetryDelay:     fastDelay,
	}}

	records, err := c.Fetch(context.Background(), "http://shop.test/", s)
	require.NoError(t, err)
	assert.Zero(t, driver.clicks)
	assert.Len(t, records, 5, "the initial render still counts")
}

func TestBrowserFollowOpensAndClosesTab(t *testing.T) {
	tab := &fakeDriver{
		contentFn: func() (string, error) {
			return `<div class="detail"><span class="brand">Acme</span></div>`, nil
		},
	}
	driver := &fakeDriver{
		contentFn: func() (string, error) {
			return `<div class="item"><h3>Widget</h3><a href="/item/1">more</a></div>`, nil
		},
		newTabFn: func() (PageDriver, error) { return tab, nil },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	s := itemSchema()
	s.Fields = append(s.Fields, schema.FieldSpec{
		Selector: "a", Attribute: "href",
		Follow: &schema.Schema{
			BaseSelector: "div.detail",
			Fields:       []schema.FieldSpec{{Name: "brand", Selector: "span.brand"}},
		},
	})

	records, err := c.Fetch(context.Background(), "http://shop.test/list", s)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// the relative href resolved against the parent page, in its own tab
	assert.Equal(t, []string{"http://shop.test/item/1"}, tab.navigated)
	assert.True(t, tab.closed, "follow tab must be released")

	brand, _ := records[0].Get("brand")
	assert.Equal(t, "Acme", brand)
}

func TestBrowserNavigateFailure(t *testing.T) {
	driver := &fakeDriver{
		navigateFn: func(url string) error { return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED") },
	}
	c := NewBrowser(driver, BrowserOptions{}, nil)

	_, err := c.Fetch(context.Background(), "http://nope.invalid/", itemSchema())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequest)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "http://nope.invalid/", reqErr.URL)
}

func TestBrowserOnPageLoadHook(t *testing.T) {
	driver := &fakeDriver{
		contentFn: func() (string, error) { return itemsHTML(1), nil },
	}
	var hookCalls int
	c := NewBrowser(driver, BrowserOptions{
		OnPageLoad: func(d PageDriver) {
			hookCalls++
			assert.Same(t, driver, d)
		},
	}, nil)

	_, err := c.Fetch(context.Background(), "http://shop.test/", itemSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, hookCalls)
}
