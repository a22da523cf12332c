package portal

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/pkg/solver"
)

// Pisea runs the v3 slider on login and the v4 slider on the contact form.
// The seller phone sits behind a reveal click that loads it lazily.
const (
	piseaBaseURL       = "https://www.pisea.es"
	piseaLoginURL      = piseaBaseURL + "/usuarios/login"
	piseaUserField     = `form.login-box input[name="usuario"]`
	piseaPasswordField = `form.login-box input[name="clave"]`
	piseaLoginSubmit   = `form.login-box button[type="submit"]`
	piseaUserMenu      = `header .user-menu`
	piseaNameField     = `form.contact-panel input[name="nombre"]`
	piseaEmailField    = `form.contact-panel input[name="email"]`
	piseaPhoneField    = `form.contact-panel input[name="telefono"]`
	piseaMessageField  = `form.contact-panel textarea[name="comentario"]`
	piseaSendButton    = `form.contact-panel button[type="submit"]`
	piseaPhoneBox      = `.telefono-anunciante`
)

var (
	piseaLoggedInMarkers  = []string{"mi perfil", "salir"}
	piseaLoggedOutMarkers = []string{"identificate", "registrate"}

	piseaContactOpenSelectors = []string{
		`button.abrir-contacto`,
		`a[data-target="contact-panel"]`,
	}
	piseaRevealSelectors = []string{
		`.telefono-anunciante button.ver`,
		`a[data-action="ver-telefono"]`,
	}
	piseaSuccessMarkers = []string{"hemos enviado tu mensaje", "mensaje enviado correctamente"}
	piseaErrorMarkers   = []string{"no se ha podido enviar", "revisa los campos"}

	// Pisea sales desk, advertised sitewide.
	piseaBlockedPhones = []string{"917654321"}
)

// Pisea is the pisea.es automation.
type Pisea struct {
	res *Resolver
	id  Identity
}

// NewPisea creates the pisea.es automation.
func NewPisea(res *Resolver, id Identity) *Pisea {
	return &Pisea{res: res, id: id}
}

func (p *Pisea) Profile() Profile {
	return Profile{
		Portal:        model.PortalPisea,
		BaseURL:       piseaBaseURL,
		LoginURL:      piseaLoginURL,
		RequiresLogin: true,
		Challenges: []solver.ChallengeType{
			solver.ChallengeSliderV3,
			solver.ChallengeSliderV4,
		},
	}
}

func (p *Pisea) IsLoggedIn(ctx context.Context, d browser.Driver) (bool, error) {
	if err := d.Navigate(ctx, piseaBaseURL); err != nil {
		return false, eris.Wrap(err, "pisea: open home")
	}
	d.AcceptConsent(ctx)
	html, err := d.HTML(ctx)
	if err != nil {
		return false, eris.Wrap(err, "pisea: read home page")
	}
	switch detectLogin(html, piseaLoggedInMarkers, piseaLoggedOutMarkers) {
	case signalLoggedIn:
		return true, nil
	case signalLoggedOut:
		return false, nil
	}
	return assumeLoggedIn(ctx, d), nil
}

func (p *Pisea) Login(ctx context.Context, d browser.Driver, creds Credentials) error {
	if err := d.Navigate(ctx, piseaLoginURL); err != nil {
		return eris.Wrap(err, "pisea: open login page")
	}
	d.AcceptConsent(ctx)
	if err := d.SetValue(ctx, piseaUserField, creds.Username); err != nil {
		return eris.Wrap(err, "pisea: fill username")
	}
	if err := d.SetValue(ctx, piseaPasswordField, creds.Password); err != nil {
		return eris.Wrap(err, "pisea: fill password")
	}
	// The v3 slider arms itself when the form is complete.
	if err := p.res.Clear(ctx, d, piseaLoginURL); err != nil {
		return eris.Wrap(err, "pisea: login challenge")
	}
	if err := d.Click(ctx, piseaLoginSubmit); err != nil {
		return eris.Wrap(err, "pisea: submit login")
	}
	_ = d.WaitVisible(ctx, piseaUserMenu)

	html, err := d.HTML(ctx)
	if err != nil {
		return eris.Wrap(err, "pisea: read page after login")
	}
	if detectLogin(html, piseaLoggedInMarkers, piseaLoggedOutMarkers) != signalLoggedIn {
		return eris.Wrap(ErrLoginFailed, "pisea: login indicators absent after submit")
	}
	return nil
}

func (p *Pisea) ExtractPhone(ctx context.Context, d browser.Driver, listingURL string) (string, error) {
	if err := ensureOn(ctx, d, listingURL); err != nil {
		return "", eris.Wrap(err, "pisea: open listing")
	}
	// The number is not in the DOM until revealed.
	if _, err := d.ClickAny(ctx, piseaRevealSelectors); err != nil {
		return "", nil
	}
	_ = d.WaitVisible(ctx, piseaPhoneBox)
	html, err := d.HTML(ctx)
	if err != nil {
		return "", eris.Wrap(err, "pisea: read listing page")
	}
	return phoneFromHTML(html, piseaBlockedPhones), nil
}

func (p *Pisea) SendMessage(ctx context.Context, d browser.Driver, listingURL, message string) error {
	if err := ensureOn(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "pisea: open listing")
	}
	if _, err := d.ClickAny(ctx, piseaContactOpenSelectors); err != nil {
		return eris.Wrap(ErrElementNotFound, "pisea contact button")
	}
	if err := d.WaitVisible(ctx, piseaMessageField); err != nil {
		return eris.Wrap(ErrElementNotFound, "pisea contact form")
	}
	if err := d.FillIfEmpty(ctx, piseaNameField, p.id.Name); err != nil {
		return eris.Wrap(err, "pisea: fill name")
	}
	if err := d.FillIfEmpty(ctx, piseaEmailField, p.id.Email); err != nil {
		return eris.Wrap(err, "pisea: fill email")
	}
	if err := d.FillIfEmpty(ctx, piseaPhoneField, p.id.Phone); err != nil {
		return eris.Wrap(err, "pisea: fill phone")
	}
	if err := d.TypeHuman(ctx, piseaMessageField, message); err != nil {
		return eris.Wrap(err, "pisea: type message")
	}
	// The v4 slider gates the send button.
	if err := p.res.Clear(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "pisea: contact challenge")
	}
	if err := d.Click(ctx, piseaSendButton); err != nil {
		return eris.Wrap(err, "pisea: submit contact form")
	}
	if err := p.res.Clear(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "pisea: post-submit challenge")
	}
	return confirmSent(ctx, d, piseaSuccessMarkers, piseaErrorMarkers)
}
