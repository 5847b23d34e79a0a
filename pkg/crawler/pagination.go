package crawler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// Pagination defaults shared with the original schema semantics.
const (
	defaultScrollDistance  = 1000
	defaultScrollDelay     = 1500 * time.Millisecond
	defaultScrollCount     = 5
	defaultRetryLimit      = 3
	defaultCycleDelay      = time.Second
	defaultNavigationDelay = 1500 * time.Millisecond
)

// urlPaginate navigates the template URL page by page, extracting after each
// render and concatenating records in page order. Terminal after the end
// page; a navigation failure is fatal for the pass.
func (c *BrowserCrawler) urlPaginate(ctx context.Context, template string, s *schema.Schema) ([]*schema.Record, error) {
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
	delay := p.Delay.Std()
	if delay == 0 {
		delay = c.opts.NavigationDelay
		if delay == 0 {
			delay = defaultNavigationDelay
		}
	}

	var records []*schema.Record
	for i := start; i <= end; i++ {
		pageURL := strings.ReplaceAll(template, placeholder, strconv.Itoa(i))
		c.log.WithFields(logrus.Fields{"page": i, "url": pageURL}).Info("fetching paginated page")
		if err := c.navigate(ctx, pageURL, s); err != nil {
			return nil, err
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		pageRecords, err := c.extract(ctx, s)
		if err != nil {
			return nil, err
		}
		records = append(records, pageRecords...)
	}
	return records, nil
}

// runScroll drives the scroll machine: scroll, wait, recount base-selector
// matches, evaluate the stop condition. Extraction happens once after the
// loop, over the final render.
func (c *BrowserCrawler) runScroll(ctx context.Context, s *schema.Schema) error {
	p := s.Pagination.Scroll
	distance := p.ScrollDistance
	if distance == 0 {
		distance = defaultScrollDistance
	}
	delay := p.ScrollDelay.OrDefault(defaultScrollDelay)
	retryLimit := p.RetryLimit
	if retryLimit == 0 {
		retryLimit = defaultRetryLimit
	}
	scrollCount := p.ScrollCount
	if scrollCount == 0 {
		scrollCount = defaultScrollCount
	}
	stop := p.StopCondition
	if stop == "" {
		stop = schema.ScrollStopCount
	}

	scrolls := 0
	previousCount := 0
	retries := 0

	for {
		if err := c.scrollBy(ctx, p.ScrollTarget, distance, p.Horizontal); err != nil {
			return err
		}
		if c.opts.OnScroll != nil {
			c.opts.OnScroll(c.driver)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
		scrolls++

		currentCount, err := c.driver.Count(ctx, s.BaseSelector)
		if err != nil {
			return requestErr(c.baseURL, err)
		}
		c.log.WithFields(logrus.Fields{"scrolls": scrolls, "matches": currentCount}).Debug("scroll cycle")

		switch stop {
		case schema.ScrollStopCount:
			if scrolls >= scrollCount {
				return nil
			}
		case schema.ScrollStopElement:
			visible, err := c.driver.Visible(ctx, p.StopSelector)
			if err != nil {
				return requestErr(c.baseURL, err)
			}
			if visible {
				return nil
			}
		case schema.ScrollStopNoNew:
			if currentCount == previousCount {
				retries++
				if p.RetryScrollDistance != 0 {
					if err := c.scrollBy(ctx, p.ScrollTarget, p.RetryScrollDistance, p.Horizontal); err != nil {
						return err
					}
				}
				if retries >= retryLimit {
					return nil
				}
			} else {
				retries = 0
				previousCount = currentCount
			}
		}
	}
}

// runClick drives the click machine: optionally scroll, check the button,
// click it, wait, extract the fresh render, evaluate the stop conditions. A
// button that never appears stops silently under the no-button condition and
// is a crawler error under any other.
func (c *BrowserCrawler) runClick(ctx context.Context, s *schema.Schema) ([]*schema.Record, error) {
	p := s.Pagination.Click
	stop := p.StopCondition
	if stop == "" {
		stop = schema.ClickStopNoButton
	}
	retryLimit := p.RetryLimit
	if retryLimit == 0 {
		retryLimit = defaultRetryLimit
	}
	cycleDelay := p.CycleDelay.OrDefault(defaultCycleDelay)
	retryDelay := p.RetryDelay.OrDefault(defaultCycleDelay)

	var records []*schema.Record
	clicks := 0
	scrolls := 0
	retries := 0

	for {
		if p.ScrollDistance != 0 {
			if err := c.scrollBy(ctx, p.ScrollTarget, p.ScrollDistance, p.Horizontal); err != nil {
				return nil, err
			}
			scrolls++
		}

		visible, err := c.driver.Visible(ctx, p.ButtonSelector)
		if err != nil {
			return nil, requestErr(c.baseURL, err)
		}
		if !visible {
			if retries < retryLimit {
				retries++
				c.log.WithFields(logrus.Fields{"retries": retries, "button": p.ButtonSelector}).Debug("button not visible, retrying")
				if p.RetryScrollDistance != 0 {
					if err := c.scrollBy(ctx, p.ScrollTarget, p.RetryScrollDistance, p.Horizontal); err != nil {
						return nil, err
					}
				}
				if err := sleepCtx(ctx, retryDelay); err != nil {
					return nil, err
				}
				continue
			}
			if stop == schema.ClickStopNoButton {
				break
			}
			return nil, crawlErrf("pagination button %q never appeared", p.ButtonSelector)
		}
		retries = 0

		if err := c.driver.Click(ctx, p.ButtonSelector); err != nil {
			return nil, requestErr(c.baseURL, err)
		}
		clicks++
		if err := sleepCtx(ctx, cycleDelay); err != nil {
			return nil, err
		}

		cycleRecords, err := c.extract(ctx, s)
		if err != nil {
			return nil, err
		}
		records = append(records, cycleRecords...)
		c.log.WithFields(logrus.Fields{"clicks": clicks, "records": len(records)}).Debug("click cycle")

		done, err := c.clickStop(ctx, p, stop, clicks, scrolls)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	// a page whose button was never clickable still yields its records
	if clicks == 0 {
		return c.extract(ctx, s)
	}
	return records, nil
}

// clickStop evaluates the primary stop condition, then the optional
// scroll-style secondary exits.
func (c *BrowserCrawler) clickStop(ctx context.Context, p *schema.ClickPagination, stop schema.ClickStop, clicks, scrolls int) (bool, error) {
	switch stop {
	case schema.ClickStopCount:
		if clicks >= p.ClickCount {
			return true, nil
		}
	case schema.ClickStopElement:
		visible, err := c.driver.Visible(ctx, p.StopSelector)
		if err != nil {
			return false, requestErr(c.baseURL, err)
		}
		if visible {
			return true, nil
		}
	}

	if p.ScrollCount > 0 && scrolls >= p.ScrollCount {
		return true, nil
	}
	if stop != schema.ClickStopElement && p.StopSelector != "" {
		visible, err := c.driver.Visible(ctx, p.StopSelector)
		if err != nil {
			return false, requestErr(c.baseURL, err)
		}
		if visible {
			return true, nil
		}
	}
	return false, nil
}

// scrollBy scrolls the window or a named container by distance pixels,
// vertically unless horizontal is set. Negative distances scroll backwards.
func (c *BrowserCrawler) scrollBy(ctx context.Context, target string, distance int, horizontal bool) error {
	x, y := 0, distance
	if horizontal {
		x, y = distance, 0
	}
	var js string
	if target == "" || target == "window" {
		js = fmt.Sprintf("window.scrollBy(%d, %d)", x, y)
	} else {
		js = fmt.Sprintf("document.querySelector(%q).scrollBy(%d, %d)", target, x, y)
	}
	if err := c.driver.Evaluate(ctx, js, nil); err != nil {
		return requestErr(c.baseURL, err)
	}
	return nil
}
