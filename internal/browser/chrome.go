package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultOpTimeout  = 20 * time.Second
	clickProbeTimeout = 3 * time.Second
	minKeyDelay       = 40 * time.Millisecond
	maxKeyDelay       = 130 * time.Millisecond
)

// Chrome implements Driver on a real chromedp-driven browser.
type Chrome struct {
	opts        Options
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	nav         *rate.Limiter
}

// NewChrome starts a Chrome instance. It satisfies Factory.
func NewChrome(ctx context.Context, opts Options) (Driver, error) {
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(1366, 900),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ProxyURL != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyURL))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Starting eagerly surfaces a missing binary or bad proxy here rather
	// than on the first Navigate.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: start chrome")
	}

	var nav *rate.Limiter
	if opts.NavEvery > 0 {
		nav = rate.NewLimiter(rate.Every(opts.NavEvery), 1)
	}

	return &Chrome{
		opts:        opts,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		nav:         nav,
	}, nil
}

// run executes chromedp actions against the tab with a timeout. The caller
// context only gates the operation; the tab context owns the browser.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(c.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "browser: operation aborted")
		}
		return err
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if c.nav != nil {
		if err := c.nav.Wait(ctx); err != nil {
			return eris.Wrap(err, "browser: navigation pacing")
		}
	}
	if err := c.run(ctx, c.opts.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return eris.Wrap(err, fmt.Sprintf("browser: navigate %s", url))
	}
	return nil
}

func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.run(ctx, c.opts.NavTimeout,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return eris.Wrap(err, "browser: reload")
	}
	return nil
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, defaultOpTimeout, chromedp.Location(&loc)); err != nil {
		return "", eris.Wrap(err, "browser: location")
	}
	return loc, nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, defaultOpTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", eris.Wrap(err, "browser: outer html")
	}
	return html, nil
}

func (c *Chrome) WaitVisible(ctx context.Context, sel string) error {
	if err := c.run(ctx, defaultOpTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return eris.Wrap(err, fmt.Sprintf("browser: wait visible %s", sel))
	}
	return nil
}

func (c *Chrome) Click(ctx context.Context, sel string) error {
	if err := c.run(ctx, defaultOpTimeout, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return eris.Wrap(err, fmt.Sprintf("browser: click %s", sel))
	}
	return nil
}

func (c *Chrome) ClickAny(ctx context.Context, sels []string) (string, error) {
	for _, sel := range sels {
		if err := c.run(ctx, clickProbeTimeout, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "browser: click any")
		}
	}
	return "", eris.Errorf("browser: no clickable element among %d selectors", len(sels))
}

func (c *Chrome) Text(ctx context.Context, sel string) (string, error) {
	var text string
	if err := c.run(ctx, defaultOpTimeout, chromedp.Text(sel, &text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("browser: text %s", sel))
	}
	return strings.TrimSpace(text), nil
}

func (c *Chrome) Attr(ctx context.Context, sel, name string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	if err := c.run(ctx, defaultOpTimeout, chromedp.AttributeValue(sel, name, &val, &ok, chromedp.ByQuery)); err != nil {
		return "", false, eris.Wrap(err, fmt.Sprintf("browser: attr %s[%s]", sel, name))
	}
	return val, ok, nil
}

func (c *Chrome) SetValue(ctx context.Context, sel, value string) error {
	if err := c.run(ctx, defaultOpTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, value, chromedp.ByQuery),
		chromedp.Evaluate(fireInputEvents(sel), nil),
	); err != nil {
		return eris.Wrap(err, fmt.Sprintf("browser: set value %s", sel))
	}
	return nil
}

// fireInputEvents notifies framework-bound fields that their value changed;
// SetValue alone does not trigger input listeners.
func fireInputEvents(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`, sel)
}

func (c *Chrome) TypeHuman(ctx context.Context, sel, text string) error {
	if err := c.run(ctx, defaultOpTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return eris.Wrap(err, fmt.Sprintf("browser: focus %s", sel))
	}
	for _, r := range text {
		if err := c.run(ctx, defaultOpTimeout, chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return eris.Wrap(err, fmt.Sprintf("browser: type into %s", sel))
		}
		if err := sleepRange(ctx, minKeyDelay, maxKeyDelay); err != nil {
			return eris.Wrap(err, "browser: typing aborted")
		}
	}
	return nil
}

func (c *Chrome) FillIfEmpty(ctx context.Context, sel, value string) error {
	var current string
	if err := c.run(ctx, defaultOpTimeout, chromedp.Value(sel, &current, chromedp.ByQuery)); err != nil {
		return eris.Wrap(err, fmt.Sprintf("browser: read value %s", sel))
	}
	if strings.TrimSpace(current) != "" {
		return nil
	}
	return c.SetValue(ctx, sel, value)
}

func (c *Chrome) Eval(ctx context.Context, js string, out any) error {
	if err := c.run(ctx, defaultOpTimeout, chromedp.Evaluate(js, out)); err != nil {
		return eris.Wrap(err, "browser: evaluate")
	}
	return nil
}

// Consent banners on the supported portals. Selector hits are cheaper, the
// XPath text matches are the fallback.
var consentSelectors = []string{
	`#didomi-notice-agree-button`,
	`#onetrust-accept-btn-handler`,
	`button[data-testid="TcfAccept"]`,
	`button[aria-label="Aceptar"]`,
	`button[id*="accept-cookies"]`,
}

var consentTexts = []string{
	"Aceptar y cerrar",
	"Aceptar todo",
	"Aceptar",
	"Accept all",
	"I agree",
}

func (c *Chrome) AcceptConsent(ctx context.Context) bool {
	for _, sel := range consentSelectors {
		if err := c.run(ctx, clickProbeTimeout, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err == nil {
			_ = sleepRange(ctx, 500*time.Millisecond, 1200*time.Millisecond)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	for _, text := range consentTexts {
		xp := fmt.Sprintf(`//button[contains(., "%s")]`, text)
		if err := c.run(ctx, clickProbeTimeout, chromedp.Click(xp, chromedp.BySearch, chromedp.NodeVisible)); err == nil {
			_ = sleepRange(ctx, 500*time.Millisecond, 1200*time.Millisecond)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// Close shuts the browser down and releases the allocator.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.tabCtx)
	c.tabCancel()
	c.allocCancel()
	if err != nil {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}

// sleepRange sleeps a uniformly random duration in [min, max], honoring
// context cancellation.
func sleepRange(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
