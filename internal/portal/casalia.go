package portal

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/browser"
	"github.com/homereach/contact-cli/internal/model"
)

// Casalia lets anyone message a seller without an account and runs no
// anti-automation challenge. The contact form sits inline on the listing.
const (
	casaliaBaseURL      = "https://www.casalia.es"
	casaliaNameField    = `#contact-form input[name="nombre"]`
	casaliaEmailField   = `#contact-form input[name="email"]`
	casaliaPhoneField   = `#contact-form input[name="telefono"]`
	casaliaMessageField = `#contact-form textarea[name="mensaje"]`
	casaliaSubmitButton = `#contact-form button[type="submit"]`
	casaliaPhoneBox     = `.listing-phone`
	casaliaSuccessBox   = `.contact-success`
)

var (
	casaliaRevealSelectors = []string{
		`.listing-phone button.ver-telefono`,
		`button[data-action="show-phone"]`,
	}
	casaliaSuccessMarkers = []string{"mensaje enviado", "gracias por contactar"}
	casaliaErrorMarkers   = []string{"error al enviar", "no se pudo enviar"}

	// Casalia's own helpline, shown in the page footer.
	casaliaBlockedPhones = []string{"912000111"}
)

// Casalia is the casalia.es automation.
type Casalia struct {
	res *Resolver
	id  Identity
}

// NewCasalia creates the casalia.es automation.
func NewCasalia(res *Resolver, id Identity) *Casalia {
	return &Casalia{res: res, id: id}
}

func (c *Casalia) Profile() Profile {
	return Profile{
		Portal:  model.PortalCasalia,
		BaseURL: casaliaBaseURL,
	}
}

// IsLoggedIn always holds: contacting needs no account here.
func (c *Casalia) IsLoggedIn(context.Context, browser.Driver) (bool, error) {
	return true, nil
}

func (c *Casalia) Login(context.Context, browser.Driver, Credentials) error {
	return nil
}

func (c *Casalia) ExtractPhone(ctx context.Context, d browser.Driver, listingURL string) (string, error) {
	if err := ensureOn(ctx, d, listingURL); err != nil {
		return "", eris.Wrap(err, "casalia: open listing")
	}
	if _, err := d.ClickAny(ctx, casaliaRevealSelectors); err == nil {
		_ = d.WaitVisible(ctx, casaliaPhoneBox)
	}
	html, err := d.HTML(ctx)
	if err != nil {
		return "", eris.Wrap(err, "casalia: read listing page")
	}
	return phoneFromHTML(html, casaliaBlockedPhones), nil
}

func (c *Casalia) SendMessage(ctx context.Context, d browser.Driver, listingURL, message string) error {
	if err := ensureOn(ctx, d, listingURL); err != nil {
		return eris.Wrap(err, "casalia: open listing")
	}
	if err := d.WaitVisible(ctx, casaliaMessageField); err != nil {
		return eris.Wrap(ErrElementNotFound, "casalia contact form")
	}
	if err := d.FillIfEmpty(ctx, casaliaNameField, c.id.Name); err != nil {
		return eris.Wrap(err, "casalia: fill name")
	}
	if err := d.FillIfEmpty(ctx, casaliaEmailField, c.id.Email); err != nil {
		return eris.Wrap(err, "casalia: fill email")
	}
	if err := d.FillIfEmpty(ctx, casaliaPhoneField, c.id.Phone); err != nil {
		return eris.Wrap(err, "casalia: fill phone")
	}
	if err := d.TypeHuman(ctx, casaliaMessageField, message); err != nil {
		return eris.Wrap(err, "casalia: type message")
	}
	if err := d.Click(ctx, casaliaSubmitButton); err != nil {
		return eris.Wrap(err, "casalia: submit contact form")
	}
	_ = d.WaitVisible(ctx, casaliaSuccessBox)
	return confirmSent(ctx, d, casaliaSuccessMarkers, casaliaErrorMarkers)
}
