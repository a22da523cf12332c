package portal

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/pkg/solver"
)

// Hogarix requires a logged-in account and runs the checkbox challenge on
// both the login form and the contact submit. Contacting goes through an
// intermediate "how should the seller reach you" chooser; we always pick
// email so no callback number gets published.
const (
	hogarixBaseURL       = "https://www.hogarix.com"
	hogarixLoginURL      = hogarixBaseURL + "/acceso"
	hogarixEmailField    = `form#login-form input[name="email"]`
	hogarixPasswordField = `form#login-form input[name="password"]`
	hogarixLoginSubmit   = `form#login-form button[type="submit"]`
	hogarixAccountMenu   = `nav [data-testid="account-menu"]`
	hogarixNameField     = `#contact-modal input[name="nombre"]`
	hogarixContactEmail  = `#contact-modal input[name="email"]`
	hogarixMessageField  = `#contact-modal textarea[name="mensaje"]`
	hogarixSendButton    = `#contact-modal button[type="submit"]`
	hogarixPhoneBox      = `.advertiser-phone`
)

var (
	hogarixLoggedInMarkers  = []string{"mi cuenta", "cerrar sesion"}
	hogarixLoggedOutMarkers = []string{"iniciar sesion", "crear cuenta"}

	hogarixContactOpenSelectors = []string{
		`button[data-testid="contact-advertiser"]`,
		`a.btn-contactar`,
	}
	// Chooser step; absent when the account already has a preference.
	hogarixMethodEmailSelectors = []string{
		`#contact-modal button[data-method="email"]`,
		`#contact-modal label[for="via-email"]`,
	}
	hogarixRevealSelectors = []string{
		`.advertiser-phone button.ver-telefono`,
		`button[data-testid="show-phone"]`,
	}
	hogarixSuccessMarkers = []string{"mensaje enviado al anunciante", "tu mensaje se ha enviado"}
	hogarixErrorMarkers   = []string{"no hemos podido enviar", "error al enviar"}

	// Hogarix customer service, present in the page footer.
	hogarixBlockedPhones = []string{"911888999"}
)

// Hogarix is the hogarix.com automation.
type Hogarix struct {
	res *Resolver
	id  Identity
}

// NewHogarix creates the hogarix.com automation.
func NewHogarix(res *Resolver, id Identity) *Hogarix {
	return &Hogarix{res: res, id: id}
}

func (h *Hogarix) Profile() Profile {
	return Profile{
		Portal:        model.PortalHogarix,
		BaseURL:       hogarixBaseURL,
		LoginURL:      hogarixLoginURL,
		RequiresLogin: true,
		Challenges:    []solver.ChallengeType{solver.ChallengeCheckboxV2},
	}
}

func (h *Hogarix) IsLoggedIn(ctx context.Context, d browser.Driver) (bool, error) {
	if err := d.Navigate(ctx, hogarixBaseURL); err != nil {
		return false, eris.Wrap(err, "hogarix: open home")
	}
	d.AcceptConsent(ctx)
	html, err := d.HTML(ctx)
	if err != nil {
		return false, eris.Wrap(err, "hogarix: read home page")
	}
	switch detectLogin(html, hogarixLoggedInMarkers, hogarixLoggedOutMarkers) {
	case signalLoggedIn:
		return true, nil
	case signalLoggedOut:
		return false, nil
	}
	return assumeLoggedIn(ctx, d), nil
}

func (h *Hogarix) Login(ctx context.Context, d browser.Driver, creds Credentials) error {
	if err := d.Navigate(ctx, hogarixLoginURL); err != nil {
		return eris.Wrap(err, "hogarix: open login page")
	}
	d.AcceptConsent(ctx)
	if err := d.SetValue(ctx, hogarixEmailField, creds.Username); err != nil {
		return eris.Wrap(err, "hogarix: fill email")
	}
	if err := d.SetValue(ctx, hogarixPasswordField, creds.Password); err != nil {
		return eris.Wrap(err, "hogarix: fill password")
	}
	// The checkbox gates the login submit.
	if err := h.res.Clear(ctx, d, hogarixLoginURL); err != nil {
		return eris.Wrap(err, "hogarix: login challenge")
	}
	if err := d.Click(ctx, hogarixLoginSubmit); err != nil {
		return eris.Wrap(err, "hogarix: submit login")
	}
	_ = d.WaitVisible(ctx, hogarixAccountMenu)

	html, err := d.HTML(ctx)
	if err != nil {
		return eris.Wrap(err, "hogarix: read page after login")
	}
	if detectLogin(html, hogarixLoggedInMarkers, hogarixLoggedOutMarkers) != signalLoggedIn {
		return eris.Wrap(ErrLoginFailed, "hogarix: login indicators absent after submit")
	}
	return nil
}

func (h *Hogarix) ExtractPhone(ctx context.Context, d browser.Driver, listingURL string) (string, error) {
	if err := ensureOn(ctx, d, listingURL); err != nil {
		return "", eris.Wrap(err, "hogarix: open listing")
	}
	if _, err := d.ClickAny(ctx, hogarixRevealSelectors); err == nil {
		_ = d.WaitVisible(ctx, hogarixPhoneBox)
	}
	html, err := d.HTML(ctx)
	if err != nil {
		return "", eris.Wrap(err, "hogarix: read listing page")
	}
	return phoneFromHTML(html, hogarixBlockedPhones), nil
}

func (h *Hogarix) SendMessage(ctx context.Context, d browser.Driver, listingURL, message string) error {
	if err := ensureOn(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "hogarix: open listing")
	}
	if _, err := d.ClickAny(ctx, hogarixContactOpenSelectors); err != nil {
		return eris.Wrap(ErrElementNotFound, "hogarix contact button")
	}
	// Contact-method chooser; skipped silently when it does not appear.
	_, _ = d.ClickAny(ctx, hogarixMethodEmailSelectors)

	if err := d.WaitVisible(ctx, hogarixMessageField); err != nil {
		return eris.Wrap(ErrElementNotFound, "hogarix contact form")
	}
	if err := d.FillIfEmpty(ctx, hogarixNameField, h.id.Name); err != nil {
		return eris.Wrap(err, "hogarix: fill name")
	}
	if err := d.FillIfEmpty(ctx, hogarixContactEmail, h.id.Email); err != nil {
		return eris.Wrap(err, "hogarix: fill email")
	}
	if err := d.TypeHuman(ctx, hogarixMessageField, message); err != nil {
		return eris.Wrap(err, "hogarix: type message")
	}
	if err := h.res.Clear(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "hogarix: contact challenge")
	}
	if err := d.Click(ctx, hogarixSendButton); err != nil {
		return eris.Wrap(err, "hogarix: submit contact form")
	}
	// The checkbox can also come back on the submit itself.
	if err := h.res.Clear(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "hogarix: post-submit challenge")
	}
	return confirmSent(ctx, d, hogarixSuccessMarkers, hogarixErrorMarkers)
}
