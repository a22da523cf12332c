package portal

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/pkg/solver"
)

var (
	_ browser.Driver = (*fakeDriver)(nil)
	_ solver.Client  = (*stubSolver)(nil)
)

// fakeDriver scripts browser behavior for automation tests. HTML() serves
// the htmls sequence in order, repeating the last entry.
type fakeDriver struct {
	htmls   []string
	htmlIdx int

	location string
	navs     []string
	reloads  int
	clicks   []string
	waits    []string
	setVals  map[string]string
	fills    map[string]string
	typed    map[string]string
	evals    []string
	cookies  []byte
	consents int
	closed   bool

	// values holds pre-existing field values consulted by FillIfEmpty.
	values map[string]string
	// clickable limits which selectors Click/ClickAny can hit; nil allows
	// everything, an empty map nothing.
	clickable map[string]bool
	// failWait marks selectors WaitVisible should fail for.
	failWait map[string]bool
	// onEval overrides Eval; the default reports success to apply helpers.
	onEval func(js string, out any) error
}

func newFakeDriver(htmls ...string) *fakeDriver {
	return &fakeDriver{
		htmls:   htmls,
		setVals: map[string]string{},
		fills:   map[string]string{},
		typed:   map[string]string{},
		values:  map[string]string{},
	}
}

func (f *fakeDriver) nextHTML() string {
	if len(f.htmls) == 0 {
		return ""
	}
	h := f.htmls[f.htmlIdx]
	if f.htmlIdx < len(f.htmls)-1 {
		f.htmlIdx++
	}
	return h
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.navs = append(f.navs, url)
	f.location = url
	return nil
}

func (f *fakeDriver) Reload(context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeDriver) Location(context.Context) (string, error) {
	return f.location, nil
}

func (f *fakeDriver) HTML(context.Context) (string, error) {
	return f.nextHTML(), nil
}

func (f *fakeDriver) WaitVisible(_ context.Context, sel string) error {
	f.waits = append(f.waits, sel)
	if f.failWait[sel] {
		return fmt.Errorf("wait visible: %s", sel)
	}
	return nil
}

func (f *fakeDriver) Click(_ context.Context, sel string) error {
	if f.clickable != nil && !f.clickable[sel] {
		return fmt.Errorf("no element: %s", sel)
	}
	f.clicks = append(f.clicks, sel)
	return nil
}

func (f *fakeDriver) ClickAny(_ context.Context, sels []string) (string, error) {
	for _, sel := range sels {
		if f.clickable == nil || f.clickable[sel] {
			f.clicks = append(f.clicks, sel)
			return sel, nil
		}
	}
	return "", fmt.Errorf("no clickable element among %d selectors", len(sels))
}

func (f *fakeDriver) Text(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeDriver) Attr(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeDriver) SetValue(_ context.Context, sel, value string) error {
	f.setVals[sel] = value
	return nil
}

func (f *fakeDriver) TypeHuman(_ context.Context, sel, text string) error {
	f.typed[sel] = text
	return nil
}

func (f *fakeDriver) FillIfEmpty(_ context.Context, sel, value string) error {
	if f.values[sel] != "" {
		return nil
	}
	f.fills[sel] = value
	return nil
}

func (f *fakeDriver) Eval(_ context.Context, js string, out any) error {
	f.evals = append(f.evals, js)
	if f.onEval != nil {
		return f.onEval(js, out)
	}
	switch v := out.(type) {
	case *bool:
		*v = true
	case *string:
		*v = "callback"
	}
	return nil
}

func (f *fakeDriver) AcceptConsent(context.Context) bool {
	f.consents++
	return false
}

func (f *fakeDriver) Cookies(context.Context) ([]byte, error) {
	return f.cookies, nil
}

func (f *fakeDriver) SetCookies(_ context.Context, data []byte) error {
	f.cookies = data
	return nil
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

// stubSolver is a solver.Client whose every task resolves immediately.
type stubSolver struct {
	createCalls atomic.Int32
	getCalls    atomic.Int32

	solution  *solver.Solution
	createErr error
	// failCodes holds per-call failure codes; once exhausted, tasks
	// resolve with solution.
	failCodes []string
	// challenges records every submitted challenge in order.
	challenges []solver.Challenge
}

func (s *stubSolver) CreateTask(_ context.Context, ch solver.Challenge) (string, error) {
	n := s.createCalls.Add(1)
	s.challenges = append(s.challenges, ch)
	if s.createErr != nil {
		return "", s.createErr
	}
	return fmt.Sprintf("task-%d", n), nil
}

func (s *stubSolver) GetTask(_ context.Context, id string) (*solver.Task, error) {
	n := int(s.getCalls.Add(1))
	if n <= len(s.failCodes) {
		return &solver.Task{ID: id, Status: solver.TaskFailed, ErrorCode: s.failCodes[n-1]}, nil
	}
	sol := s.solution
	if sol == nil {
		sol = &solver.Solution{Token: "tok-test"}
	}
	return &solver.Task{ID: id, Status: solver.TaskReady, Solution: sol}, nil
}

// Page fixtures shared across the portal tests.
const (
	cleanHTML = `<html><body><h1>Piso en venta en Chamberí</h1></body></html>`

	checkboxHTML = `<html><body>
<div class="cb-widget" data-cb-sitekey="sk-test-123"></div>
<script src="https://static.hogarix.com/checkbox/v2/api.js"></script>
</body></html>`

	sliderV3HTML = `<html><body>
<div class="sv3-wrap"></div>
<script>initSliderV3({"gt": "abcdef0123456789", "challenge": "fedcba9876543210"});</script>
</body></html>`

	sliderV4HTML = `<html><body>
<div data-sv4-key="sv4-key-001"></div>
<script src="/static/slider/v4.js"></script>
</body></html>`

	behavioralHTML = `<html><body>
<div id="bhv-gate">Comprobando tu navegador…</div>
</body></html>`
)
