package portal

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/pkg/solver"
)

// Ventora fronts every page with a behavioral interstitial that can trigger
// on any navigation, not just on forms. Solving it requires a residential
// proxy; runs without one are refused up front by config validation and by
// the solver client itself.
const (
	ventoraBaseURL       = "https://www.ventora.es"
	ventoraLoginURL      = ventoraBaseURL + "/entrar"
	ventoraEmailField    = `#login input[name="email"]`
	ventoraPasswordField = `#login input[name="password"]`
	ventoraLoginSubmit   = `#login button[type="submit"]`
	ventoraAccountBadge  = `header .account-badge`
	ventoraNameField     = `#contact-form input[name="nombre"]`
	ventoraContactEmail  = `#contact-form input[name="email"]`
	ventoraMessageField  = `#contact-form textarea[name="mensaje"]`
	ventoraSendButton    = `#contact-form button[type="submit"]`
	ventoraPhoneBox      = `.seller-phone`
)

var (
	ventoraLoggedInMarkers  = []string{"mi cuenta", "desconectar"}
	ventoraLoggedOutMarkers = []string{"entrar", "crear cuenta gratis"}

	ventoraContactOpenSelectors = []string{
		`button[data-testid="open-contact"]`,
		`a.contactar-vendedor`,
	}
	ventoraRevealSelectors = []string{
		`.seller-phone button.mostrar`,
		`button[data-action="reveal-phone"]`,
	}
	ventoraSuccessMarkers = []string{"mensaje enviado al vendedor", "gracias, tu mensaje"}
	ventoraErrorMarkers   = []string{"no hemos podido procesar", "error al enviar"}

	// Ventora concierge line.
	ventoraBlockedPhones = []string{"915550123"}
)

// Ventora is the ventora.es automation.
type Ventora struct {
	res *Resolver
	id  Identity
}

// NewVentora creates the ventora.es automation.
func NewVentora(res *Resolver, id Identity) *Ventora {
	return &Ventora{res: res, id: id}
}

func (v *Ventora) Profile() Profile {
	return Profile{
		Portal:        model.PortalVentora,
		BaseURL:       ventoraBaseURL,
		LoginURL:      ventoraLoginURL,
		RequiresLogin: true,
		NeedsProxy:    true,
		Challenges:    []solver.ChallengeType{solver.ChallengeBehavioral},
	}
}

// goTo navigates and clears the interstitial if it fired on this
// navigation. Every ventora flow moves through here.
func (v *Ventora) goTo(ctx context.Context, d browser.Driver, url string) error {
	if err := ensureOn(ctx, d, url); err != nil {
		return err
	}
	return v.res.Clear(ctx, d, url)
}

func (v *Ventora) IsLoggedIn(ctx context.Context, d browser.Driver) (bool, error) {
	if err := v.goTo(ctx, d, ventoraBaseURL); err != nil {
		return false, eris.Wrap(err, "ventora: open home")
	}
	d.AcceptConsent(ctx)
	html, err := d.HTML(ctx)
	if err != nil {
		return false, eris.Wrap(err, "ventora: read home page")
	}
	switch detectLogin(html, ventoraLoggedInMarkers, ventoraLoggedOutMarkers) {
	case signalLoggedIn:
		return true, nil
	case signalLoggedOut:
		return false, nil
	}
	return assumeLoggedIn(ctx, d), nil
}

func (v *Ventora) Login(ctx context.Context, d browser.Driver, creds Credentials) error {
	if err := v.goTo(ctx, d, ventoraLoginURL); err != nil {
		return eris.Wrap(err, "ventora: open login page")
	}
	d.AcceptConsent(ctx)
	if err := d.SetValue(ctx, ventoraEmailField, creds.Username); err != nil {
		return eris.Wrap(err, "ventora: fill email")
	}
	if err := d.SetValue(ctx, ventoraPasswordField, creds.Password); err != nil {
		return eris.Wrap(err, "ventora: fill password")
	}
	if err := d.Click(ctx, ventoraLoginSubmit); err != nil {
		return eris.Wrap(err, "ventora: submit login")
	}
	// Logins are a favorite trigger for the interstitial.
	if err := v.res.Clear(ctx, d, ventoraLoginURL); err != nil {
		return eris.Wrap(err, "ventora: post-login challenge")
	}
	_ = d.WaitVisible(ctx, ventoraAccountBadge)

	html, err := d.HTML(ctx)
	if err != nil {
		return eris.Wrap(err, "ventora: read page after login")
	}
	if detectLogin(html, ventoraLoggedInMarkers, ventoraLoggedOutMarkers) != signalLoggedIn {
		return eris.Wrap(ErrLoginFailed, "ventora: login indicators absent after submit")
	}
	return nil
}

func (v *Ventora) ExtractPhone(ctx context.Context, d browser.Driver, listingURL string) (string, error) {
	if err := v.goTo(ctx, d, listingURL); err != nil {
		return "", eris.Wrap(err, "ventora: open listing")
	}
	if _, err := d.ClickAny(ctx, ventoraRevealSelectors); err == nil {
		_ = d.WaitVisible(ctx, ventoraPhoneBox)
		// Revealing can trip the interstitial as well.
		if err := v.res.Clear(ctx, d, listingURL); err != nil {
			return "", eris.Wrap(err, "ventora: reveal challenge")
		}
	}
	html, err := d.HTML(ctx)
	if err != nil {
		return "", eris.Wrap(err, "ventora: read listing page")
	}
	return phoneFromHTML(html, ventoraBlockedPhones), nil
}

func (v *Ventora) SendMessage(ctx context.Context, d browser.Driver, listingURL, message string) error {
	if err := v.goTo(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "ventora: open listing")
	}
	if _, err := d.ClickAny(ctx, ventoraContactOpenSelectors); err != nil {
		return eris.Wrap(ErrElementNotFound, "ventora contact button")
	}
	if err := d.WaitVisible(ctx, ventoraMessageField); err != nil {
		return eris.Wrap(ErrElementNotFound, "ventora contact form")
	}
	if err := d.FillIfEmpty(ctx, ventoraNameField, v.id.Name); err != nil {
		return eris.Wrap(err, "ventora: fill name")
	}
	if err := d.FillIfEmpty(ctx, ventoraContactEmail, v.id.Email); err != nil {
		return eris.Wrap(err, "ventora: fill email")
	}
	if err := d.TypeHuman(ctx, ventoraMessageField, message); err != nil {
		return eris.Wrap(err, "ventora: type message")
	}
	if err := d.Click(ctx, ventoraSendButton); err != nil {
		return eris.Wrap(err, "ventora: submit contact form")
	}
	if err := v.res.Clear(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "ventora: post-submit challenge")
	}
	return confirmSent(ctx, d, ventoraSuccessMarkers, ventoraErrorMarkers)
}
