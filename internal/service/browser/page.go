package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// inspection is what the DOM inspection saw.
type inspection struct {
	Error     string `json:"error"`
	Confirmed bool   `json:"confirmed"`
	OrderID   string `json:"order_id"`
}

// tab is one isolated browser context. Implementations are used from a
// single goroutine.
type tab interface {
	Open(ctx context.Context, url, script string) error
	Click(ctx context.Context, xpath string) error
	Inspect(ctx context.Context, expr string) (inspection, error)
	Login(ctx context.Context, signInURL, email, password string) error
	Cookies(ctx context.Context) (map[string]string, error)
	Close() error
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// newChromeTab opens a target in the running browser, in a fresh browser
// context when isolated is set.
func newChromeTab(browser context.Context, isolated bool) (*chromeTab, error) {
	var opts []chromedp.ContextOption
	if isolated {
		opts = append(opts, chromedp.WithNewBrowserContext())
	}
	ctx, cancel := chromedp.NewContext(browser, opts...)
	// the first Run starts the target
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	return &chromeTab{ctx: ctx, cancel: cancel}, nil
}

// bind ties a request context's deadline to the tab's context.
func (t *chromeTab) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(t.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if dl, ok := ctx.Deadline(); ok {
		var c2 context.CancelFunc
		tctx, c2 = context.WithDeadline(tctx, dl)
		return tctx, func() { stop(); c2(); cancel() }
	}
	return tctx, func() { stop(); cancel() }
}

func (t *chromeTab) Open(ctx context.Context, url, script string) error {
	rctx, cancel := t.bind(ctx)
	defer cancel()
	return chromedp.Run(rctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
	)
}

func (t *chromeTab) Click(ctx context.Context, xpath string) error {
	rctx, cancel := t.bind(ctx)
	defer cancel()
	return chromedp.Run(rctx, chromedp.Click(xpath, chromedp.BySearch, chromedp.NodeVisible))
}

func (t *chromeTab) Inspect(ctx context.Context, expr string) (inspection, error) {
	rctx, cancel := t.bind(ctx)
	defer cancel()
	var out inspection
	err := chromedp.Run(rctx, chromedp.Evaluate(expr, &out))
	return out, err
}

func (t *chromeTab) Login(ctx context.Context, signInURL, email, password string) error {
	rctx, cancel := t.bind(ctx)
	defer cancel()
	if err := chromedp.Run(rctx,
		chromedp.Navigate(signInURL),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, email, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
		chromedp.Submit(`input[name="password"]`, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("sign-in form: %w", err)
	}
	// signed in once the page leaves the sign-in path
	for {
		var loc string
		if err := chromedp.Run(rctx, chromedp.Location(&loc)); err != nil {
			return fmt.Errorf("sign-in: %w", err)
		}
		if !strings.Contains(loc, "sign-in") {
			return nil
		}
		select {
		case <-rctx.Done():
			return fmt.Errorf("sign-in: %w", rctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (t *chromeTab) Cookies(ctx context.Context) (map[string]string, error) {
	rctx, cancel := t.bind(ctx)
	defer cancel()
	out := make(map[string]string)
	err := chromedp.Run(rctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out[c.Name] = c.Value
		}
		return nil
	}))
	return out, err
}

func (t *chromeTab) Close() error {
	t.cancel()
	return nil
}
