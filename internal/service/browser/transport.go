package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/pkg/logger"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
)

// Config tunes the browser transport.
type Config struct {
	BaseURL           string
	SignInURL         string
	Email             string
	Password          string
	Headless          bool
	UserDataDir       string
	ObservationWindow time.Duration
	SelectorTimeout   time.Duration
	KeepaliveInterval time.Duration
	ProfilePath       string
	LoginTimeout      time.Duration
	ConfirmSelector   string
	ErrorSelectors    []string
	// AcceptOnSilence treats a click with no error overlay as accepted.
	AcceptOnSilence bool
}

var defaultErrorSelectors = []string{
	".notification--error",
	".toast-error",
	".alert-danger",
	"[class*='error-message']",
}

func (c *Config) applyDefaults() {
	if c.ObservationWindow <= 0 {
		c.ObservationWindow = time.Second
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = 500 * time.Millisecond
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 240 * time.Second
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 15 * time.Second
	}
	if len(c.ErrorSelectors) == 0 {
		c.ErrorSelectors = defaultErrorSelectors
	}
}

// Transport places orders by clicking in one isolated browser context per
// asset. It also serves as the cookie source for interactive login.
type Transport struct {
	cfg     Config
	assets  []models.Asset
	log     *logger.Logger
	metrics drepo.Metrics

	newTab func(ctx context.Context) (tab, error)

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	drivers       map[string]*driver
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

var (
	_ drepo.Transport    = (*Transport)(nil)
	_ drepo.CookieSource = (*Transport)(nil)
	_ drepo.Readiness    = (*Transport)(nil)
)

func New(cfg Config, assets []models.Asset, log *logger.Logger, metrics drepo.Metrics) *Transport {
	cfg.applyDefaults()
	t := &Transport{
		cfg:     cfg,
		assets:  assets,
		log:     log.With(logger.String("transport", "browser")),
		metrics: metrics,
		drivers: make(map[string]*driver),
	}
	t.newTab = t.chromeTab
	return t
}

func (t *Transport) Name() string { return "browser" }

// browser starts the single Chrome process all contexts live in. A profile
// directory can only be held by one process.
func (t *Transport) browser() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browserCtx != nil {
		return t.browserCtx, nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", t.cfg.Headless),
	)
	if t.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(t.cfg.UserDataDir))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	t.allocCancel, t.browserCtx, t.browserCancel = allocCancel, browserCtx, browserCancel
	return browserCtx, nil
}

func (t *Transport) chromeTab(context.Context) (tab, error) {
	b, err := t.browser()
	if err != nil {
		return nil, err
	}
	// with a saved profile the tabs share its login; otherwise each asset
	// gets its own cookie jar
	return newChromeTab(b, t.cfg.UserDataDir == "")
}

// Start opens and pins one context per asset, then starts its driver.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.BaseURL == "" {
		return fmt.Errorf("browser transport: %w: empty base url", models.ErrConfig)
	}
	rctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	for _, a := range t.assets {
		if err := t.open(ctx, rctx, a); err != nil {
			_ = t.Close()
			return err
		}
	}
	return nil
}

func (t *Transport) open(ctx, rctx context.Context, a models.Asset) error {
	url, err := AssetURL(t.cfg.BaseURL, a.BrokerID)
	if err != nil {
		return fmt.Errorf("browser %s: %w", a.Name, err)
	}
	script, err := ProtectionScript(a.BrokerID, t.cfg.ProfilePath, t.cfg.KeepaliveInterval)
	if err != nil {
		return err
	}
	tb, err := t.newTab(ctx)
	if err != nil {
		return fmt.Errorf("browser %s: %w", a.Name, err)
	}
	if err := tb.Open(ctx, url, script); err != nil {
		_ = tb.Close()
		return fmt.Errorf("browser %s: open %s: %w", a.Name, url, err)
	}

	d := newDriver(a, tb, t.cfg, t.log, t.metrics)
	t.mu.Lock()
	t.drivers[a.Name] = d
	t.mu.Unlock()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		d.run(rctx)
	}()
	t.log.Info("context pinned", logger.String("asset", a.Name), logger.String("url", url))
	return nil
}

// Ready reports whether every asset has a pinned context.
func (t *Transport) Ready() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.drivers)
	if n == 0 {
		return false, "closed"
	}
	return n == len(t.assets), fmt.Sprintf("%d/%d contexts", n, len(t.assets))
}

// Place clicks the asset's UP or DOWN button in its own context.
func (t *Transport) Place(ctx context.Context, req models.OrderRequest) models.PlaceResult {
	t.mu.Lock()
	d, ok := t.drivers[req.Asset.Name]
	t.mu.Unlock()
	if !ok {
		return models.Unknown(fmt.Errorf("no browser context for %s: %w", req.Asset.Name, models.ErrNotConnected))
	}
	return d.place(ctx, req.Direction)
}

// LatestPrice always reports no quote; ticks fall back to synthetic prices.
func (t *Transport) LatestPrice(context.Context, models.Asset) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

// CaptureCookies signs in through a throwaway context and returns its cookies.
func (t *Transport) CaptureCookies(ctx context.Context) (map[string]string, error) {
	if t.cfg.SignInURL == "" {
		return nil, errors.New("browser login: no sign-in url")
	}
	tb, err := t.newTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser login: %w", err)
	}
	defer tb.Close()

	lctx, cancel := context.WithTimeout(ctx, t.cfg.LoginTimeout)
	defer cancel()
	if err := tb.Login(lctx, t.cfg.SignInURL, t.cfg.Email, t.cfg.Password); err != nil {
		return nil, fmt.Errorf("browser login: %w", err)
	}
	cookies, err := tb.Cookies(lctx)
	if err != nil {
		return nil, fmt.Errorf("browser cookies: %w", err)
	}
	return cookies, nil
}

// Close stops every driver and the browser.
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for name, d := range t.drivers {
		if err := d.tab.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(t.drivers, name)
	}
	if t.browserCancel != nil {
		t.browserCancel()
		t.allocCancel()
		t.browserCtx, t.browserCancel, t.allocCancel = nil, nil, nil
	}
	return errors.Join(errs...)
}
