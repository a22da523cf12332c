// Package browser wraps chromedp behind a small Driver interface. Portal
// automations and the engine are written against Driver only, which keeps
// them testable without a Chrome binary.
package browser

import (
	"context"
	"time"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	defaultNavTimeout = 45 * time.Second
)

// Options configures one browser session.
type Options struct {
	Headless    bool
	UserAgent   string
	UserDataDir string
	ProxyURL    string
	ExecPath    string
	NavTimeout  time.Duration
	// NavEvery is the minimum interval between navigations. Zero disables
	// navigation pacing.
	NavEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = defaultNavTimeout
	}
	return o
}

// Driver is the set of page operations portal automations use.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	// ClickAny clicks the first selector in sels that matches a visible
	// element and reports which one.
	ClickAny(ctx context.Context, sels []string) (string, error)
	Text(ctx context.Context, sel string) (string, error)
	Attr(ctx context.Context, sel, name string) (string, bool, error)
	SetValue(ctx context.Context, sel, value string) error
	// TypeHuman focuses sel and types text one keystroke at a time with a
	// randomized inter-key delay.
	TypeHuman(ctx context.Context, sel, text string) error
	// FillIfEmpty sets the field only when it currently holds no value,
	// preserving anything the portal pre-filled from the account profile.
	FillIfEmpty(ctx context.Context, sel, value string) error
	Eval(ctx context.Context, js string, out any) error
	// AcceptConsent dismisses a cookie-consent banner if one is present
	// and reports whether anything was clicked.
	AcceptConsent(ctx context.Context) bool
	// Cookies exports the cookie jar as an opaque JSON blob; SetCookies
	// restores one. The blob is the persisted session artifact.
	Cookies(ctx context.Context) ([]byte, error)
	SetCookies(ctx context.Context, data []byte) error
	Close() error
}

// Factory creates a fresh browser session. The engine opens one lazily on
// the first job of a run and keeps it for the rest of the batch.
type Factory func(ctx context.Context, opts Options) (Driver, error)
