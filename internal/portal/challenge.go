package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/cost"
	"github.com/homereach/contact-cli/internal/resilience"
	"github.com/homereach/contact-cli/pkg/solver"
)

// maxSolveAttempts bounds the solve-apply-verify loop. A fresh challenge is
// detected before each attempt; past the budget the step aborts instead of
// burning solver credit indefinitely.
const maxSolveAttempts = 2

// fallbackClearanceCookie names the cookie a behavioral solution installs
// when the service does not specify one.
const fallbackClearanceCookie = "bhv_clearance"

// ResolverConfig configures a challenge Resolver.
type ResolverConfig struct {
	// UserAgent must match the browser's, or behavioral solutions get
	// rejected by the portal.
	UserAgent string
	// ProxyURL is the residential proxy forwarded to the solver for
	// behavioral challenges.
	ProxyURL string
	// Costs prices solves when the service omits per-task cost.
	Costs *cost.Calculator
	// Breaker protects the solver service; zero value uses defaults.
	Breaker resilience.CircuitBreakerConfig
	// PollOptions tune solver polling; tests pass short intervals.
	PollOptions []solver.PollOption
}

// Resolver runs the shared solve-apply-verify loop for every portal. One
// instance is shared across automations within a run and accumulates the
// run's solver spend.
type Resolver struct {
	client   solver.Client
	breaker  *resilience.CircuitBreaker
	ua       string
	proxyURL string
	costs    *cost.Calculator
	pollOpts []solver.PollOption

	mu    sync.Mutex
	spend float64
}

// NewResolver creates a Resolver around a solver client.
func NewResolver(client solver.Client, cfg ResolverConfig) *Resolver {
	costs := cfg.Costs
	if costs == nil {
		costs = cost.NewCalculator(cost.DefaultRates())
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.FailureThreshold == 0 && breakerCfg.ResetTimeout == 0 {
		breakerCfg = resilience.DefaultCircuitBreakerConfig()
	}
	if breakerCfg.ShouldTrip == nil {
		// An unsolvable verdict is a service answer, not a service failure.
		breakerCfg.ShouldTrip = func(err error) bool {
			return !eris.Is(err, solver.ErrUnsolvable)
		}
	}
	return &Resolver{
		client:   client,
		breaker:  resilience.NewCircuitBreaker(breakerCfg),
		ua:       cfg.UserAgent,
		proxyURL: cfg.ProxyURL,
		costs:    costs,
		pollOpts: cfg.PollOptions,
	}
}

// Spend returns the accumulated solver spend in USD.
func (r *Resolver) Spend() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spend
}

func (r *Resolver) addSpend(usd float64) {
	r.mu.Lock()
	r.spend += usd
	r.mu.Unlock()
}

// Clear detects and resolves any challenge on the current page. It returns
// nil when no challenge is present or when one was solved and its marker
// verified gone. An explicit unsolvable verdict or a persisting marker gets
// one retry with a freshly detected challenge; past the attempt budget the
// step fails with ErrChallengeUnsolvable.
func (r *Resolver) Clear(ctx context.Context, d browser.Driver, pageURL string) error {
	html, err := d.HTML(ctx)
	if err != nil {
		return eris.Wrap(err, "portal: read page for challenge detection")
	}
	ch, found := Detect(html)
	if !found {
		return nil
	}

	for attempt := 1; attempt <= maxSolveAttempts; attempt++ {
		ch.PageURL = pageURL
		ch.UserAgent = r.ua
		if ch.Type == solver.ChallengeBehavioral {
			ch.ProxyURL = r.proxyURL
		}

		zap.L().Info("solving challenge",
			zap.String("type", string(ch.Type)),
			zap.String("page", pageURL),
			zap.Int("attempt", attempt))

		submitted := ch
		sol, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*solver.Solution, error) {
			return solver.Solve(ctx, r.client, submitted, r.pollOpts...)
		})
		if err != nil {
			if eris.Is(err, solver.ErrUnsolvable) {
				zap.L().Warn("solver reported unsolvable, reloading for a fresh challenge",
					zap.String("type", string(ch.Type)),
					zap.Int("attempt", attempt))
				next, found, derr := r.freshChallenge(ctx, d)
				if derr != nil {
					return derr
				}
				if !found {
					return nil
				}
				ch = next
				continue
			}
			return eris.Wrap(err, "portal: solve challenge")
		}

		usd := sol.CostUSD
		if usd <= 0 {
			usd = r.costs.Solve(string(ch.Type))
		}
		r.addSpend(usd)

		if err := r.apply(ctx, d, ch, sol); err != nil {
			return err
		}

		html, err = d.HTML(ctx)
		if err != nil {
			return eris.Wrap(err, "portal: verify challenge cleared")
		}
		next, still := Detect(html)
		if !still {
			zap.L().Info("challenge cleared",
				zap.String("type", string(ch.Type)),
				zap.Int("attempt", attempt))
			return nil
		}
		ch = next
	}

	return eris.Wrap(ErrChallengeUnsolvable, fmt.Sprintf("%s after %d attempts", ch.Type, maxSolveAttempts))
}

// freshChallenge reloads the page and re-detects.
func (r *Resolver) freshChallenge(ctx context.Context, d browser.Driver) (solver.Challenge, bool, error) {
	if err := d.Reload(ctx); err != nil {
		return solver.Challenge{}, false, eris.Wrap(err, "portal: reload for fresh challenge")
	}
	html, err := d.HTML(ctx)
	if err != nil {
		return solver.Challenge{}, false, eris.Wrap(err, "portal: re-detect challenge")
	}
	ch, found := Detect(html)
	return ch, found, nil
}

func (r *Resolver) apply(ctx context.Context, d browser.Driver, ch solver.Challenge, sol *solver.Solution) error {
	switch ch.Type {
	case solver.ChallengeCheckboxV2:
		return applyCheckboxSolution(ctx, d, sol)
	case solver.ChallengeSliderV3, solver.ChallengeSliderV4:
		return applySliderSolution(ctx, d, sol)
	case solver.ChallengeBehavioral:
		return applyBehavioralSolution(ctx, d, sol)
	default:
		return eris.Errorf("portal: unknown challenge type %q", ch.Type)
	}
}

// applyCheckboxSolution injects the token into the widget's hidden response
// fields and fires the completion callback when the page defines one.
func applyCheckboxSolution(ctx context.Context, d browser.Driver, sol *solver.Solution) error {
	token, err := json.Marshal(sol.Token)
	if err != nil {
		return eris.Wrap(err, "portal: encode checkbox token")
	}
	js := fmt.Sprintf(`(() => {
	const fields = document.querySelectorAll('textarea[name="cb-response"], input[name="cb-response"]');
	if (!fields.length) return false;
	for (const f of fields) { f.value = %s; }
	if (typeof window.__cbCallback === 'function') { window.__cbCallback(%s); }
	return true;
})()`, token, token)

	var ok bool
	if err := d.Eval(ctx, js, &ok); err != nil {
		return eris.Wrap(err, "portal: inject checkbox token")
	}
	if !ok {
		return eris.Wrap(ErrElementNotFound, "checkbox response field")
	}
	return nil
}

// applySliderSolution invokes the page's native completion callback with
// the three solution fields, falling back to populating the hidden form
// and submitting it when no callback exists.
func applySliderSolution(ctx context.Context, d browser.Driver, sol *solver.Solution) error {
	validate, _ := json.Marshal(sol.Validate)
	seccode, _ := json.Marshal(sol.Seccode)
	challengeKey, _ := json.Marshal(sol.ChallengeKey)
	js := fmt.Sprintf(`(() => {
	if (typeof window.__svCallback === 'function') {
		window.__svCallback({validate: %s, seccode: %s, challenge: %s});
		return "callback";
	}
	const v = document.querySelector('input[name="sv_validate"]');
	const s = document.querySelector('input[name="sv_seccode"]');
	if (!v || !s) return "";
	v.value = %s;
	s.value = %s;
	const c = document.querySelector('input[name="sv_challenge"]');
	if (c) c.value = %s;
	if (v.form) v.form.submit();
	return "form";
})()`, validate, seccode, challengeKey, validate, seccode, challengeKey)

	var mode string
	if err := d.Eval(ctx, js, &mode); err != nil {
		return eris.Wrap(err, "portal: apply slider solution")
	}
	if mode == "" {
		return eris.Wrap(ErrElementNotFound, "slider callback and form fields")
	}
	return nil
}

// applyBehavioralSolution installs the clearance cookie on the page's
// domain and reloads so the interstitial re-evaluates.
func applyBehavioralSolution(ctx context.Context, d browser.Driver, sol *solver.Solution) error {
	loc, err := d.Location(ctx)
	if err != nil {
		return eris.Wrap(err, "portal: locate page for clearance cookie")
	}
	u, err := url.Parse(loc)
	if err != nil || u.Hostname() == "" {
		return eris.Errorf("portal: cannot derive cookie domain from %q", loc)
	}

	name := sol.CookieName
	if name == "" {
		name = fallbackClearanceCookie
	}
	blob, err := browser.CookieBlob(name, sol.CookieValue, u.Hostname())
	if err != nil {
		return err
	}
	if err := d.SetCookies(ctx, blob); err != nil {
		return eris.Wrap(err, "portal: install clearance cookie")
	}
	if err := d.Reload(ctx); err != nil {
		return eris.Wrap(err, "portal: reload after clearance cookie")
	}
	return nil
}
