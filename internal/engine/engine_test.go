package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/portal"
)

var (
	_ portal.Automation = (*fakeAutomation)(nil)
	_ browser.Driver    = (*stubDriver)(nil)
	_ SessionStore      = (*fakeSessions)(nil)
)

// fakeAutomation scripts portal behavior. sendErrs is consumed one error
// per SendMessage call; exhausted means success.
type fakeAutomation struct {
	profile  portal.Profile
	loggedIn bool
	loginErr error
	phone    string
	phoneErr error
	sendErrs []error

	isLoggedInCalls int
	loginCalls      int
	phoneCalls      int
	sendCalls       int
	messages        []string
}

func (f *fakeAutomation) Profile() portal.Profile { return f.profile }

func (f *fakeAutomation) IsLoggedIn(context.Context, browser.Driver) (bool, error) {
	f.isLoggedInCalls++
	return f.loggedIn, nil
}

func (f *fakeAutomation) Login(_ context.Context, _ browser.Driver, _ portal.Credentials) error {
	f.loginCalls++
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeAutomation) ExtractPhone(context.Context, browser.Driver, string) (string, error) {
	f.phoneCalls++
	return f.phone, f.phoneErr
}

func (f *fakeAutomation) SendMessage(_ context.Context, _ browser.Driver, _ string, message string) error {
	f.sendCalls++
	f.messages = append(f.messages, message)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

// stubDriver satisfies browser.Driver with recording no-ops; the engine
// only touches navigation, consent, and the cookie jar directly.
type stubDriver struct {
	navErr   error
	jar      []byte
	navs     []string
	setBlobs [][]byte
	consents int
	closed   bool
}

func (s *stubDriver) Navigate(_ context.Context, url string) error {
	if s.navErr != nil {
		return s.navErr
	}
	s.navs = append(s.navs, url)
	return nil
}
func (s *stubDriver) Reload(context.Context) error             { return nil }
func (s *stubDriver) Location(context.Context) (string, error) { return "", nil }
func (s *stubDriver) HTML(context.Context) (string, error)     { return "", nil }
func (s *stubDriver) WaitVisible(context.Context, string) error {
	return nil
}
func (s *stubDriver) Click(context.Context, string) error { return nil }
func (s *stubDriver) ClickAny(context.Context, []string) (string, error) {
	return "", errors.New("no element")
}
func (s *stubDriver) Text(context.Context, string) (string, error) { return "", nil }
func (s *stubDriver) Attr(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (s *stubDriver) SetValue(context.Context, string, string) error    { return nil }
func (s *stubDriver) TypeHuman(context.Context, string, string) error   { return nil }
func (s *stubDriver) FillIfEmpty(context.Context, string, string) error { return nil }
func (s *stubDriver) Eval(context.Context, string, any) error           { return nil }
func (s *stubDriver) AcceptConsent(context.Context) bool {
	s.consents++
	return false
}
func (s *stubDriver) Cookies(context.Context) ([]byte, error) { return s.jar, nil }
func (s *stubDriver) SetCookies(_ context.Context, data []byte) error {
	s.setBlobs = append(s.setBlobs, data)
	return nil
}
func (s *stubDriver) Close() error {
	s.closed = true
	return nil
}

type fakeSessions struct {
	sess        *model.Session
	getCalls    int
	saves       []*model.Session
	invalidated int
}

func (f *fakeSessions) GetSession(context.Context, string, model.Portal) (*model.Session, error) {
	f.getCalls++
	return f.sess, nil
}

func (f *fakeSessions) SaveSession(_ context.Context, s *model.Session) error {
	f.saves = append(f.saves, s)
	return nil
}

func (f *fakeSessions) InvalidateSession(context.Context, string, model.Portal) error {
	f.invalidated++
	if f.sess != nil {
		f.sess.IsValid = false
	}
	return nil
}

type fakeSpend struct{ v float64 }

func (f *fakeSpend) Spend() float64 { return f.v }

// testHarness wires an engine with microsecond pacing so tests run fast.
type testHarness struct {
	auto     *fakeAutomation
	driver   *stubDriver
	sessions *fakeSessions
	spend    *fakeSpend
	factory  int
	engine   *Engine
}

func newHarness(auto *fakeAutomation, cfg Config) *testHarness {
	h := &testHarness{
		auto:     auto,
		driver:   &stubDriver{jar: []byte(`[{"name":"sid","value":"x","domain":".example.es","path":"/"}]`)},
		sessions: &fakeSessions{},
		spend:    &fakeSpend{},
	}
	factory := func(context.Context, browser.Options) (browser.Driver, error) {
		h.factory++
		return h.driver, nil
	}
	if cfg.DwellMin == 0 && cfg.DwellMax == 0 {
		cfg.DwellMin, cfg.DwellMax = time.Microsecond, time.Microsecond
	}
	if cfg.JobDelayMin == 0 && cfg.JobDelayMax == 0 {
		cfg.JobDelayMin, cfg.JobDelayMax = time.Microsecond, time.Microsecond
	}
	h.engine = New(auto, factory, browser.Options{}, h.sessions, h.spend, cfg)
	return h
}

func testJob(lead string) model.ContactJob {
	return model.ContactJob{
		ID:         "job-" + lead,
		TenantID:   "acme",
		LeadID:     lead,
		Portal:     model.PortalCasalia,
		ListingURL: "https://www.casalia.es/piso/" + lead,
		Title:      "Piso en venta " + lead,
		State:      model.JobStatePending,
	}
}

func openProfile() portal.Profile {
	return portal.Profile{Portal: model.PortalCasalia, BaseURL: "https://www.casalia.es"}
}

func loginProfile() portal.Profile {
	return portal.Profile{
		Portal:        model.PortalHogarix,
		BaseURL:       "https://www.hogarix.com",
		RequiresLogin: true,
	}
}

func TestContact_SendsMessage(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile(), phone: "612345678"}
	h := newHarness(auto, Config{Tenant: "acme"})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola, me interesa")

	assert.True(t, res.Success)
	assert.True(t, res.MessageSent)
	assert.Equal(t, "612345678", res.Phone)
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"Hola, me interesa"}, auto.messages)
	assert.Equal(t, 1, h.engine.Sent())
	assert.Equal(t, []string{"https://www.casalia.es/piso/l1"}, h.driver.navs)
	assert.Equal(t, 1, h.driver.consents)
}

func TestContact_DailyLimit(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme", MaxPerDay: 1})

	first := h.engine.Contact(context.Background(), testJob("l1"), "Hola")
	require.True(t, first.Success)

	second := h.engine.Contact(context.Background(), testJob("l2"), "Hola")

	assert.False(t, second.Success)
	assert.Contains(t, second.Error, CodeDailyLimitReached)
	assert.Contains(t, second.Error, "daily limit reached")
	// The gated job never touches the portal or the browser.
	assert.Equal(t, 1, auto.sendCalls)
	assert.Equal(t, 1, h.factory)
}

func TestContact_NoLoginPortalSkipsSessionStore(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	require.True(t, res.Success)
	assert.Zero(t, auto.isLoggedInCalls)
	assert.Zero(t, auto.loginCalls)
	assert.Zero(t, h.sessions.getCalls)
	assert.Empty(t, h.sessions.saves)
}

func TestContact_RestoredSessionSkipsLogin(t *testing.T) {
	auto := &fakeAutomation{profile: loginProfile(), loggedIn: true}
	h := newHarness(auto, Config{
		Tenant:      "acme",
		Credentials: portal.Credentials{Username: "u", Password: "p"},
	})
	blob := []byte(`[{"name":"sid","value":"cached","domain":".hogarix.com","path":"/"}]`)
	h.sessions.sess = &model.Session{
		TenantID: "acme",
		Portal:   model.PortalHogarix,
		Cookies:  blob,
		IsValid:  true,
	}

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	require.True(t, res.Success)
	assert.Zero(t, auto.loginCalls)
	assert.Equal(t, 1, auto.isLoggedInCalls)
	require.Len(t, h.driver.setBlobs, 1)
	assert.Equal(t, blob, h.driver.setBlobs[0])
	// last_used refresh after the job.
	require.Len(t, h.sessions.saves, 1)
	assert.True(t, h.sessions.saves[0].IsValid)
}

func TestContact_LogsInWhenNoSession(t *testing.T) {
	auto := &fakeAutomation{profile: loginProfile()}
	h := newHarness(auto, Config{
		Tenant:      "acme",
		Credentials: portal.Credentials{Username: "agente@homereach.example", Password: "s3cret"},
	})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	require.True(t, res.Success)
	assert.Equal(t, 1, auto.loginCalls)
	// Saved once right after the login and once after the job.
	require.Len(t, h.sessions.saves, 2)
	assert.Equal(t, "agente@homereach.example", h.sessions.saves[0].Account)
	assert.Equal(t, h.driver.jar, h.sessions.saves[0].Cookies)
}

func TestContact_CredentialsMissingIsFatal(t *testing.T) {
	auto := &fakeAutomation{profile: loginProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})

	first := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.False(t, first.Success)
	assert.Contains(t, first.Error, CodeCredentialsMissing)
	assert.Zero(t, auto.loginCalls)

	// The whole run is poisoned; the next job short-circuits without
	// another login probe.
	second := h.engine.Contact(context.Background(), testJob("l2"), "Hola")
	assert.Contains(t, second.Error, CodeCredentialsMissing)
	assert.Equal(t, 1, auto.isLoggedInCalls)
}

func TestContact_LoginFailed(t *testing.T) {
	auto := &fakeAutomation{profile: loginProfile(), loginErr: portal.ErrLoginFailed}
	h := newHarness(auto, Config{
		Tenant:      "acme",
		Credentials: portal.Credentials{Username: "u", Password: "wrong"},
	})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, CodeLoginFailed)
	assert.Zero(t, auto.sendCalls)
}

func TestContact_PhoneFailureIsNonFatal(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile(), phoneErr: errors.New("reveal click intercepted")}
	h := newHarness(auto, Config{Tenant: "acme"})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.True(t, res.Success)
	assert.True(t, res.MessageSent)
	assert.Empty(t, res.Phone)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, auto.sendCalls)
}

func TestContact_PhoneOnlyStillCountsAsSuccess(t *testing.T) {
	auto := &fakeAutomation{
		profile:  openProfile(),
		phone:    "699887766",
		sendErrs: []error{errors.New("contact form vanished")},
	}
	h := newHarness(auto, Config{Tenant: "acme"})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.True(t, res.Success)
	assert.False(t, res.MessageSent)
	assert.Equal(t, "699887766", res.Phone)
	assert.Contains(t, res.Error, CodeAutomationFailed)
	assert.Zero(t, h.engine.Sent())
}

func TestContact_SkipPhone(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile(), phone: "612345678"}
	h := newHarness(auto, Config{Tenant: "acme", SkipPhone: true})

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.True(t, res.Success)
	assert.Empty(t, res.Phone)
	assert.Zero(t, auto.phoneCalls)
}

func TestContact_SessionExpiryTriggersRelogin(t *testing.T) {
	auto := &fakeAutomation{
		profile:  loginProfile(),
		loggedIn: true,
		sendErrs: []error{errors.New("pisea: session cookie rejected")},
	}
	h := newHarness(auto, Config{
		Tenant:      "acme",
		Credentials: portal.Credentials{Username: "u", Password: "p"},
	})
	h.sessions.sess = &model.Session{
		TenantID: "acme",
		Portal:   model.PortalHogarix,
		Cookies:  []byte(`[{"name":"sid","value":"stale","domain":".hogarix.com","path":"/"}]`),
		IsValid:  true,
	}

	first := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.False(t, first.Success)
	assert.Contains(t, first.Error, CodeSessionExpired)
	assert.Equal(t, 1, h.sessions.invalidated)
	assert.False(t, h.sessions.sess.IsValid)

	// The portal dropped the session server-side too.
	auto.loggedIn = false

	second := h.engine.Contact(context.Background(), testJob("l2"), "Hola")

	assert.True(t, second.Success)
	assert.Equal(t, 1, auto.loginCalls)
	// The invalidated cookie jar is not pushed into the browser again.
	assert.Len(t, h.driver.setBlobs, 1)
}

func TestContact_NavigationTimeout(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})
	h.driver.navErr = context.DeadlineExceeded

	res := h.engine.Contact(context.Background(), testJob("l1"), "Hola")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, CodeNetworkTimeout)
	assert.Zero(t, auto.sendCalls)
}

func TestContactBatch_CapsAtDailyLimit(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme", MaxPerDay: 5})

	jobs := make([]model.ContactJob, 20)
	for i := range jobs {
		jobs[i] = testJob(string(rune('a' + i)))
	}

	var sunk int
	summary := h.engine.ContactBatch(context.Background(), jobs, "Hola {title}", 0, func(model.ContactJob, model.ContactResult) {
		sunk++
	})

	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 5, summary.MessagesSent)
	assert.Equal(t, 5, sunk)
	assert.Equal(t, 5, auto.sendCalls)
	assert.Len(t, summary.Results, 5)
}

func TestContactBatch_MaxContactsBelowCap(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme", MaxPerDay: 5})

	jobs := []model.ContactJob{testJob("a"), testJob("b"), testJob("c")}
	summary := h.engine.ContactBatch(context.Background(), jobs, "Hola", 2, nil)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, auto.sendCalls)
}

func TestContactBatch_RendersTemplatePerJob(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})

	jobs := []model.ContactJob{testJob("a"), testJob("b")}
	h.engine.ContactBatch(context.Background(), jobs, "Me interesa {title}", 0, nil)

	assert.Equal(t, []string{
		"Me interesa Piso en venta a",
		"Me interesa Piso en venta b",
	}, auto.messages)
}

func TestContactBatch_JobTemplateWins(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})

	withOwn := testJob("a")
	withOwn.MessageTemplate = "Llamadme sobre {title}"
	jobs := []model.ContactJob{withOwn, testJob("b")}
	h.engine.ContactBatch(context.Background(), jobs, "Me interesa {title}", 0, nil)

	assert.Equal(t, []string{
		"Llamadme sobre Piso en venta a",
		"Me interesa Piso en venta b",
	}, auto.messages)
}

func TestContactBatch_CountsFailures(t *testing.T) {
	auto := &fakeAutomation{
		profile:  openProfile(),
		sendErrs: []error{errors.New("contact form vanished")},
	}
	h := newHarness(auto, Config{Tenant: "acme"})

	summary := h.engine.ContactBatch(context.Background(),
		[]model.ContactJob{testJob("a"), testJob("b")}, "Hola", 0, nil)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.MessagesSent)
}

func TestContactBatch_StopsOnMissingCredentials(t *testing.T) {
	auto := &fakeAutomation{profile: loginProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})

	var sunk int
	summary := h.engine.ContactBatch(context.Background(),
		[]model.ContactJob{testJob("a"), testJob("b"), testJob("c")}, "Hola", 0,
		func(model.ContactJob, model.ContactResult) { sunk++ })

	// The first failure is recorded, the rest of the batch is abandoned.
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, sunk)
}

func TestContactBatch_CancelAbortsBetweenJobs(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{
		Tenant:      "acme",
		JobDelayMin: 10 * time.Second,
		JobDelayMax: 10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	summary := h.engine.ContactBatch(ctx,
		[]model.ContactJob{testJob("a"), testJob("b")}, "Hola", 0,
		func(model.ContactJob, model.ContactResult) { cancel() })

	assert.Equal(t, 1, summary.Processed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestContactBatch_ReportsSolveSpendDelta(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})
	h.spend.v = 0.005

	summary := h.engine.ContactBatch(context.Background(),
		[]model.ContactJob{testJob("a")}, "Hola", 0,
		func(model.ContactJob, model.ContactResult) { h.spend.v = 0.017 })

	assert.InDelta(t, 0.012, summary.SolveSpendUSD, 1e-9)
	assert.Equal(t, model.PortalCasalia, summary.Portal)
	assert.Equal(t, "acme", summary.Tenant)
}

func TestClose(t *testing.T) {
	auto := &fakeAutomation{profile: openProfile()}
	h := newHarness(auto, Config{Tenant: "acme"})

	require.NoError(t, h.engine.Close())
	assert.False(t, h.driver.closed)

	h.engine.Contact(context.Background(), testJob("l1"), "Hola")
	require.NoError(t, h.engine.Close())
	assert.True(t, h.driver.closed)
}
