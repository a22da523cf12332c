package portal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homereach/contact-cli/pkg/solver"
)

const (
	hogarixLoggedInHTML  = `<html><body><nav data-testid="account-menu">Mi cuenta · Cerrar sesión</nav></body></html>`
	hogarixLoggedOutHTML = `<html><body><nav><a href="/acceso">Iniciar sesión</a> <a href="/alta">Crear cuenta</a></nav></body></html>`

	hogarixListingHTML = `<html><body>
<h1>Ático en venta en Malasaña</h1>
<div class="advertiser-phone"><a href="tel:633221100">633 22 11 00</a></div>
<footer>Servicio de atención Hogarix: 911 888 999</footer>
</body></html>`

	hogarixSuccessHTML = `<html><body><div class="toast">Mensaje enviado al anunciante</div></body></html>`
)

func newHogarixForTest(stub *stubSolver) *Hogarix {
	return NewHogarix(newTestResolver(stub), Identity{
		Name:  "Jordan Vidal",
		Email: "jordan@homereach.example",
	})
}

func TestHogarix_IsLoggedIn(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		cookies []byte
		want    bool
	}{
		{name: "account menu visible", html: hogarixLoggedInHTML, want: true},
		{name: "login links visible", html: hogarixLoggedOutHTML, want: false},
		{name: "ambiguous without session", html: cleanHTML, want: false},
		{
			name:    "ambiguous with restored session",
			html:    cleanHTML,
			cookies: []byte(`[{"name":"sid","value":"x","domain":".hogarix.com","path":"/"}]`),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHogarixForTest(&stubSolver{})
			d := newFakeDriver(tt.html)
			d.cookies = tt.cookies

			got, err := h.IsLoggedIn(context.Background(), d)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{hogarixBaseURL}, d.navs)
			assert.Equal(t, 1, d.consents)
		})
	}
}

func TestHogarix_Login(t *testing.T) {
	stub := &stubSolver{}
	h := newHogarixForTest(stub)
	// Checkbox on the login form, gone after applying, then the
	// logged-in page.
	d := newFakeDriver(checkboxHTML, cleanHTML, hogarixLoggedInHTML)

	err := h.Login(context.Background(), d, Credentials{Username: "agente@homereach.example", Password: "s3cret"})

	require.NoError(t, err)
	assert.Equal(t, []string{hogarixLoginURL}, d.navs)
	assert.Equal(t, "agente@homereach.example", d.setVals[hogarixEmailField])
	assert.Equal(t, "s3cret", d.setVals[hogarixPasswordField])
	assert.Contains(t, d.clicks, hogarixLoginSubmit)
	assert.EqualValues(t, 1, stub.createCalls.Load())
	require.Len(t, stub.challenges, 1)
	assert.Equal(t, solver.ChallengeCheckboxV2, stub.challenges[0].Type)
}

func TestHogarix_Login_NoChallenge(t *testing.T) {
	stub := &stubSolver{}
	h := newHogarixForTest(stub)
	d := newFakeDriver(cleanHTML, hogarixLoggedInHTML)

	require.NoError(t, h.Login(context.Background(), d, Credentials{Username: "a", Password: "b"}))
	assert.Zero(t, stub.createCalls.Load())
}

func TestHogarix_Login_BadCredentials(t *testing.T) {
	h := newHogarixForTest(&stubSolver{})
	// The portal bounces back to the login form.
	d := newFakeDriver(cleanHTML, hogarixLoggedOutHTML)

	err := h.Login(context.Background(), d, Credentials{Username: "a", Password: "wrong"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestHogarix_ExtractPhone(t *testing.T) {
	h := newHogarixForTest(&stubSolver{})
	d := newFakeDriver(hogarixListingHTML)

	phone, err := h.ExtractPhone(context.Background(), d, "https://www.hogarix.com/piso/h-7")

	require.NoError(t, err)
	assert.Equal(t, "633221100", phone)
	assert.Contains(t, d.clicks, hogarixRevealSelectors[0])
}

func TestHogarix_SendMessage(t *testing.T) {
	stub := &stubSolver{}
	h := newHogarixForTest(stub)
	// No challenge before or after the submit.
	d := newFakeDriver(cleanHTML, cleanHTML, hogarixSuccessHTML)

	err := h.SendMessage(context.Background(), d, "https://www.hogarix.com/piso/h-7", "Hola, me interesa")

	require.NoError(t, err)
	assert.Contains(t, d.clicks, hogarixContactOpenSelectors[0])
	assert.Contains(t, d.clicks, hogarixMethodEmailSelectors[0])
	assert.Contains(t, d.clicks, hogarixSendButton)
	assert.Equal(t, "Hola, me interesa", d.typed[hogarixMessageField])
	assert.Equal(t, "Jordan Vidal", d.fills[hogarixNameField])
	assert.Zero(t, stub.createCalls.Load())
}

func TestHogarix_SendMessage_PostSubmitChallenge(t *testing.T) {
	stub := &stubSolver{}
	h := newHogarixForTest(stub)
	// Clean before the submit, checkbox right after it, cleared, then
	// the confirmation.
	d := newFakeDriver(cleanHTML, checkboxHTML, cleanHTML, hogarixSuccessHTML)

	err := h.SendMessage(context.Background(), d, "https://www.hogarix.com/piso/h-7", "Hola")

	require.NoError(t, err)
	assert.EqualValues(t, 1, stub.createCalls.Load())
}

func TestHogarix_SendMessage_ContactButtonMissing(t *testing.T) {
	h := newHogarixForTest(&stubSolver{})
	d := newFakeDriver(cleanHTML)
	d.clickable = map[string]bool{}

	err := h.SendMessage(context.Background(), d, "https://www.hogarix.com/piso/h-7", "Hola")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.Contains(t, err.Error(), "contact button")
}
