// Package browser implements the crawler's PageDriver capability on top of
// chromedp. A Driver owns one tab; NewTab opens sibling tabs in the same
// browser so nested follow fetches share the session without sharing render
// state.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/amosWeiskopf/schemasmith/pkg/crawler"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// Options configures the underlying Chrome process.
type Options struct {
	Headless  bool
	UserAgent string

	// NavigationTimeout bounds each Navigate call. Zero means 30s.
	NavigationTimeout time.Duration
}

// Driver drives one Chrome tab.
type Driver struct {
	ctx     context.Context
	cancels []context.CancelFunc
	opts    Options
}

var _ crawler.PageDriver = (*Driver)(nil)

// New starts a Chrome process and returns a driver for its first tab. Close
// releases the whole browser.
func New(ctx context.Context, opts Options) (*Driver, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// start the browser eagerly so startup failures surface here
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}
	return &Driver{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{cancelTab, cancelAlloc},
		opts:    opts,
	}, nil
}

func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := d.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	timeout := d.opts.NavigationTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return d.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *Driver) Evaluate(ctx context.Context, js string, out any) error {
	return d.run(ctx, 0, chromedp.Evaluate(js, out))
}

func (d *Driver) Content(ctx context.Context) (string, error) {
	var markup string
	err := d.run(ctx, 0, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
	return markup, err
}

func (d *Driver) Count(ctx context.Context, selector string) (int, error) {
	var count int
	js := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	err := d.run(ctx, 0, chromedp.Evaluate(js, &count))
	return count, err
}

func (d *Driver) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const rects = el.getClientRects();
		return rects.length > 0 && el.offsetParent !== null;
	})()`, selector)
	err := d.run(ctx, 0, chromedp.Evaluate(js, &visible))
	return visible, err
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, 10*time.Second, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (d *Driver) WaitForSelector(ctx context.Context, opts schema.WaitForSelector) error {
	timeout := opts.Timeout.OrDefault(30 * time.Second)
	var action chromedp.Action
	switch opts.State {
	case "attached":
		action = chromedp.WaitReady(opts.Selector, chromedp.ByQuery)
	default:
		action = chromedp.WaitVisible(opts.Selector, chromedp.ByQuery)
	}
	return d.run(ctx, timeout, action)
}

// NewTab opens a sibling tab in the same browser. Closing the tab does not
// close the browser.
func (d *Driver) NewTab(ctx context.Context) (crawler.PageDriver, error) {
	tabCtx, cancel := chromedp.NewContext(d.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	return &Driver{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{cancel},
		opts:    d.opts,
	}, nil
}

func (d *Driver) Close(_ context.Context) error {
	for _, cancel := range d.cancels {
		cancel()
	}
	return nil
}
