// Package engine implements the contact automation core: one job at a
// time through a portal automation, with cached sessions, a hard daily
// contact cap, and randomized human pacing. Strictly sequential by
// contract; a browser session is an exclusive resource and the anti-ban
// strategy depends on humanly-paced, ordered actions.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/portal"
)

// DefaultMaxContactsPerDay caps outbound messages per engine instance.
// The primary anti-ban safeguard; raise it per tenant, never globally.
const DefaultMaxContactsPerDay = 5

// Pacing defaults. The dwell runs before on-page work on each listing,
// the job delay between successive contacts in a batch.
const (
	defaultDwellMin    = 2 * time.Second
	defaultDwellMax    = 4 * time.Second
	defaultJobDelayMin = 120 * time.Second
	defaultJobDelayMax = 300 * time.Second
)

// SessionStore is the slice of the job store the engine needs.
type SessionStore interface {
	GetSession(ctx context.Context, tenant string, portal model.Portal) (*model.Session, error)
	SaveSession(ctx context.Context, session *model.Session) error
	InvalidateSession(ctx context.Context, tenant string, portal model.Portal) error
}

// SpendTracker reports accumulated solver spend for the run summary.
// *portal.Resolver satisfies it.
type SpendTracker interface {
	Spend() float64
}

// Sink receives each finished job's result before the inter-job delay
// starts; the orchestrator persists outcomes there so a crash loses at
// most the in-flight job.
type Sink func(job model.ContactJob, res model.ContactResult)

// Config tunes one engine instance.
type Config struct {
	Tenant      string
	Credentials portal.Credentials
	MaxPerDay   int
	DwellMin    time.Duration
	DwellMax    time.Duration
	JobDelayMin time.Duration
	JobDelayMax time.Duration
	// SkipPhone disables the extraction step; messages still go out.
	SkipPhone bool
}

func (c Config) withDefaults() Config {
	if c.MaxPerDay <= 0 {
		c.MaxPerDay = DefaultMaxContactsPerDay
	}
	if c.DwellMin == 0 && c.DwellMax == 0 {
		c.DwellMin, c.DwellMax = defaultDwellMin, defaultDwellMax
	}
	if c.JobDelayMin == 0 && c.JobDelayMax == 0 {
		c.JobDelayMin, c.JobDelayMax = defaultJobDelayMin, defaultJobDelayMax
	}
	return c
}

// Engine drives contacts for one (tenant, portal) pair. Not safe for
// concurrent use.
type Engine struct {
	auto     portal.Automation
	factory  browser.Factory
	opts     browser.Options
	sessions SessionStore
	spend    SpendTracker
	cfg      Config

	driver   browser.Driver
	loggedIn bool
	sent     int
	fatal    error
}

// New creates an engine around one portal automation. spend may be nil
// when no solver is in play.
func New(auto portal.Automation, factory browser.Factory, opts browser.Options, sessions SessionStore, spend SpendTracker, cfg Config) *Engine {
	return &Engine{
		auto:     auto,
		factory:  factory,
		opts:     opts,
		sessions: sessions,
		spend:    spend,
		cfg:      cfg.withDefaults(),
	}
}

// Sent returns the number of messages sent by this instance.
func (e *Engine) Sent() int { return e.sent }

// Close releases the browser session.
func (e *Engine) Close() error {
	if e.driver == nil {
		return nil
	}
	err := e.driver.Close()
	e.driver = nil
	return err
}

// Contact runs one job end to end. It never returns an error: every
// failure is captured in the result so a batch carries on. Success means
// the phone was extracted or the message was sent.
func (e *Engine) Contact(ctx context.Context, job model.ContactJob, message string) model.ContactResult {
	start := time.Now()
	res := model.ContactResult{
		LeadID:    job.LeadID,
		Portal:    job.Portal,
		Timestamp: start.UTC(),
	}

	err := e.contact(ctx, job, message, &res)
	if err != nil {
		res.Error = resultError(err)
		zap.L().Warn("contact failed",
			zap.String("lead", job.LeadID),
			zap.String("portal", string(job.Portal)),
			zap.String("code", Classify(err)),
			zap.Error(err))
	} else if e.loggedIn && e.driver != nil {
		e.persistSession(ctx, e.driver)
	}

	res.Success = res.Phone != "" || res.MessageSent
	res.Duration = time.Since(start)
	return res
}

func (e *Engine) contact(ctx context.Context, job model.ContactJob, message string, res *model.ContactResult) error {
	if e.fatal != nil {
		return e.fatal
	}
	if e.sent >= e.cfg.MaxPerDay {
		return eris.Wrapf(ErrDailyLimitReached, "%d of %d sent", e.sent, e.cfg.MaxPerDay)
	}

	d, err := e.ensureDriver(ctx)
	if err != nil {
		return err
	}
	if err := e.ensureSession(ctx, d); err != nil {
		return e.noteExpiry(ctx, err)
	}

	if err := d.Navigate(ctx, job.ListingURL); err != nil {
		return e.noteExpiry(ctx, eris.Wrapf(err, "engine: open listing %s", job.ListingURL))
	}
	d.AcceptConsent(ctx)
	if err := Pause(ctx, e.cfg.DwellMin, e.cfg.DwellMax); err != nil {
		return eris.Wrap(err, "engine: dwell aborted")
	}

	if !e.cfg.SkipPhone {
		phone, err := e.auto.ExtractPhone(ctx, d, job.ListingURL)
		if err != nil {
			// Non-fatal: a hidden number must not cost the send.
			zap.L().Warn("phone extraction failed",
				zap.String("lead", job.LeadID), zap.Error(err))
			_ = e.noteExpiry(ctx, err)
		} else if phone != "" {
			res.Phone = phone
			zap.L().Info("phone extracted",
				zap.String("lead", job.LeadID), zap.String("phone", phone))
		}
	}

	if err := e.auto.SendMessage(ctx, d, job.ListingURL, message); err != nil {
		return e.noteExpiry(ctx, eris.Wrap(err, "engine: send message"))
	}
	res.MessageSent = true
	e.sent++
	zap.L().Info("message sent",
		zap.String("lead", job.LeadID),
		zap.String("portal", string(job.Portal)),
		zap.Int("sent_today", e.sent))
	return nil
}

// ContactBatch processes up to min(len(jobs), maxContacts, MaxPerDay)
// jobs strictly in order, rendering the message template per job and
// waiting the mandatory randomized delay between jobs. A job carrying its
// own message template uses it instead of the batch template. The delay
// is the primary anti-ban control: it is never skipped between two
// contacts and never parallelized.
func (e *Engine) ContactBatch(ctx context.Context, jobs []model.ContactJob, template string, maxContacts int, sink Sink) model.RunSummary {
	start := time.Now()
	spendBefore := e.currentSpend()
	summary := model.RunSummary{
		Tenant: e.cfg.Tenant,
		Portal: e.auto.Profile().Portal,
	}

	limit := maxContacts
	if limit <= 0 || limit > e.cfg.MaxPerDay {
		limit = e.cfg.MaxPerDay
	}
	if limit > len(jobs) {
		limit = len(jobs)
	}

	for i := 0; i < limit; i++ {
		if e.sent >= e.cfg.MaxPerDay {
			zap.L().Info("daily contact cap reached, stopping batch",
				zap.Int("sent", e.sent), zap.Int("remaining", len(jobs)-i))
			break
		}
		job := jobs[i]
		tmpl := template
		if job.MessageTemplate != "" {
			tmpl = job.MessageTemplate
		}
		res := e.Contact(ctx, job, model.RenderMessage(tmpl, job))
		if sink != nil {
			sink(job, res)
		}
		summary.Add(res)

		if e.fatal != nil {
			zap.L().Error("aborting batch", zap.Error(e.fatal))
			break
		}
		if ctx.Err() != nil {
			break
		}
		if i+1 < limit && e.sent < e.cfg.MaxPerDay {
			if err := Pause(ctx, e.cfg.JobDelayMin, e.cfg.JobDelayMax); err != nil {
				zap.L().Warn("batch delay aborted", zap.Error(err))
				break
			}
		}
	}

	summary.SolveSpendUSD = e.currentSpend() - spendBefore
	summary.Duration = time.Since(start)
	return summary
}

func (e *Engine) ensureDriver(ctx context.Context) (browser.Driver, error) {
	if e.driver != nil {
		return e.driver, nil
	}
	d, err := e.factory(ctx, e.opts)
	if err != nil {
		return nil, eris.Wrap(err, "engine: start browser")
	}
	e.driver = d
	return d, nil
}

// ensureSession restores the cached session into the browser and logs in
// when the portal demands it. Missing credentials are fatal for the whole
// run, not just the job.
func (e *Engine) ensureSession(ctx context.Context, d browser.Driver) error {
	profile := e.auto.Profile()
	if !profile.RequiresLogin || e.loggedIn {
		return nil
	}

	sess, err := e.sessions.GetSession(ctx, e.cfg.Tenant, profile.Portal)
	if err != nil {
		zap.L().Warn("load stored session",
			zap.String("portal", string(profile.Portal)), zap.Error(err))
	}
	if sess != nil && sess.IsValid && len(sess.Cookies) > 0 {
		if err := d.SetCookies(ctx, sess.Cookies); err != nil {
			zap.L().Warn("restore session cookies", zap.Error(err))
		}
	}

	ok, err := e.auto.IsLoggedIn(ctx, d)
	if err != nil {
		return eris.Wrap(err, "engine: probe login state")
	}
	if ok {
		e.loggedIn = true
		zap.L().Info("session restored",
			zap.String("portal", string(profile.Portal)),
			zap.String("tenant", e.cfg.Tenant))
		return nil
	}

	creds := e.cfg.Credentials
	if creds.Username == "" || creds.Password == "" {
		e.fatal = eris.Wrapf(ErrCredentialsMissing, "portal %s", profile.Portal)
		return e.fatal
	}
	zap.L().Info("logging in",
		zap.String("portal", string(profile.Portal)),
		zap.String("account", creds.Username))
	if err := e.auto.Login(ctx, d, creds); err != nil {
		return eris.Wrap(err, "engine: login")
	}
	e.loggedIn = true
	e.persistSession(ctx, d)
	return nil
}

// persistSession stores the browser's cookie jar so the next run skips
// the login entirely.
func (e *Engine) persistSession(ctx context.Context, d browser.Driver) {
	if !e.auto.Profile().RequiresLogin {
		return
	}
	blob, err := d.Cookies(ctx)
	if err != nil {
		zap.L().Warn("export session cookies", zap.Error(err))
		return
	}
	sess := &model.Session{
		TenantID:    e.cfg.Tenant,
		Portal:      e.auto.Profile().Portal,
		Account:     e.cfg.Credentials.Username,
		Cookies:     blob,
		UserDataDir: e.opts.UserDataDir,
		IsValid:     true,
		LastUsedAt:  time.Now().UTC(),
	}
	if err := e.sessions.SaveSession(ctx, sess); err != nil {
		zap.L().Warn("save session", zap.Error(err))
	}
}

// noteExpiry flips the stored session invalid when err carries the expiry
// signal, forcing a fresh login on the next job in the same run.
func (e *Engine) noteExpiry(ctx context.Context, err error) error {
	if !IsSessionExpiry(err) {
		return err
	}
	e.loggedIn = false
	if e.auto.Profile().RequiresLogin {
		if serr := e.sessions.InvalidateSession(ctx, e.cfg.Tenant, e.auto.Profile().Portal); serr != nil {
			zap.L().Warn("invalidate session", zap.Error(serr))
		} else {
			zap.L().Info("session invalidated",
				zap.String("portal", string(e.auto.Profile().Portal)),
				zap.String("tenant", e.cfg.Tenant))
		}
	}
	return eris.Wrapf(ErrSessionExpired, "%v", err)
}

func (e *Engine) currentSpend() float64 {
	if e.spend == nil {
		return 0
	}
	return e.spend.Spend()
}
