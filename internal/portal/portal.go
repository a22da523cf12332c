// Package portal implements the per-portal contact automations: login,
// phone reveal, and message submission flows driven through a browser
// session, with anti-automation challenges delegated to the solver service.
package portal

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/pkg/solver"
)

// Failure sentinels produced by portal automations. The engine maps these
// to the stable error codes persisted on failed jobs.
var (
	ErrLoginFailed         = eris.New("portal: login failed")
	ErrChallengeUnsolvable = eris.New("portal: challenge unsolvable")
	ErrElementNotFound     = eris.New("portal: element not found")
)

// Credentials are one portal account's login pair.
type Credentials struct {
	Username string
	Password string
}

// Identity is the sender identity filled into contact forms when the
// portal has not pre-filled them from the account profile.
type Identity struct {
	Name  string
	Email string
	Phone string
}

// Profile describes a portal's fixed operational properties. The challenge
// requirement and proxy requirement belong to the portal, not to the call.
type Profile struct {
	Portal        model.Portal
	BaseURL       string
	LoginURL      string
	RequiresLogin bool
	NeedsProxy    bool
	Challenges    []solver.ChallengeType
}

// Automation is one portal's binding of the four abstract contact
// operations. Implementations share the engine's session and pacing
// policy and must not sleep for pacing themselves.
type Automation interface {
	Profile() Profile
	// IsLoggedIn navigates to the portal and checks login indicators.
	IsLoggedIn(ctx context.Context, d browser.Driver) (bool, error)
	// Login authenticates with credentials. No-op on portals that allow
	// unauthenticated contact.
	Login(ctx context.Context, d browser.Driver, creds Credentials) error
	// ExtractPhone reveals and parses the seller's phone number on the
	// listing page. Empty result with nil error means no number published.
	ExtractPhone(ctx context.Context, d browser.Driver, listingURL string) (string, error)
	// SendMessage submits the contact form with the rendered message.
	SendMessage(ctx context.Context, d browser.Driver, listingURL, message string) error
}

// Registry manages the available portal automations.
type Registry struct {
	mu    sync.RWMutex
	autos map[model.Portal]Automation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		autos: make(map[model.Portal]Automation),
	}
}

// Register adds an automation to the registry.
func (r *Registry) Register(a Automation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autos[a.Profile().Portal] = a
}

// Get returns the automation for a portal, or nil if not registered.
func (r *Registry) Get(p model.Portal) Automation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.autos[p]
}

// Portals returns the registered portals in canonical order.
func (r *Registry) Portals() []model.Portal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Portal, 0, len(r.autos))
	for _, p := range model.Portals() {
		if _, ok := r.autos[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// DefaultRegistry builds a registry with all four portal automations
// sharing one challenge resolver and sender identity.
func DefaultRegistry(res *Resolver, id Identity) *Registry {
	r := NewRegistry()
	r.Register(NewCasalia(res, id))
	r.Register(NewHogarix(res, id))
	r.Register(NewPisea(res, id))
	r.Register(NewVentora(res, id))
	return r
}

// ensureOn navigates to url unless the browser is already there.
func ensureOn(ctx context.Context, d browser.Driver, url string) error {
	loc, err := d.Location(ctx)
	if err == nil && (loc == url || strings.HasPrefix(loc, url)) {
		return nil
	}
	return d.Navigate(ctx, url)
}

// assumeLoggedIn is the tie-breaker when a page shows neither a logged-in
// nor a logged-out marker: a restored cookie jar counts as a session.
func assumeLoggedIn(ctx context.Context, d browser.Driver) bool {
	blob, err := d.Cookies(ctx)
	if err != nil {
		return false
	}
	return len(blob) > len("[]")
}

// confirmSent checks the page after a form submission: an explicit success
// marker wins, an explicit error marker fails, and a page with neither is
// treated as sent.
func confirmSent(ctx context.Context, d browser.Driver, successMarkers, errorMarkers []string) error {
	html, err := d.HTML(ctx)
	if err != nil {
		return eris.Wrap(err, "portal: read submission result")
	}
	folded := foldText(html)
	for _, m := range successMarkers {
		if strings.Contains(folded, foldText(m)) {
			return nil
		}
	}
	for _, m := range errorMarkers {
		if strings.Contains(folded, foldText(m)) {
			return eris.Errorf("portal: submission rejected: %s", m)
		}
	}
	return nil
}
