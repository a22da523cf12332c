package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneFromHTML_TelLinkBeatsLooseText(t *testing.T) {
	// The page chrome carries a promotional number; the seller's number
	// is the structured tel: link.
	html := `<html><body>
<header>Atención al cliente: 917 654 321</header>
<div class="listing"><a href="tel:+34612345678">Ver teléfono</a></div>
</body></html>`

	assert.Equal(t, "612345678", phoneFromHTML(html, nil))
}

func TestPhoneFromHTML_ServiceLineRejected(t *testing.T) {
	html := `<html><body>
<a href="tel:612345678">612 34 56 78</a>
<footer>Llámanos gratis: 900 000 000</footer>
</body></html>`

	assert.Equal(t, "612345678", phoneFromHTML(html, nil))

	// Only the freephone line present: nothing extractable.
	onlyService := `<html><body><footer>Llámanos gratis: 900 000 000</footer></body></html>`
	assert.Empty(t, phoneFromHTML(onlyService, nil))
}

func TestPhoneFromHTML_BlocklistRejectsPortalNumber(t *testing.T) {
	html := `<html><body><a href="tel:911888999">911 888 999</a></body></html>`

	assert.Equal(t, "911888999", phoneFromHTML(html, nil))
	assert.Empty(t, phoneFromHTML(html, []string{"911888999"}))
}

func TestPhoneFromHTML_WidgetAndAttr(t *testing.T) {
	html := `<html><body>
<div class="telefono-box" data-phone="655 111 222">Teléfono oculto</div>
</body></html>`

	assert.Equal(t, "655111222", phoneFromHTML(html, nil))
}

func TestPhoneFromHTML_LooseTextFallback(t *testing.T) {
	html := `<html><body><p>Contactar con el vendedor: 677 88 99 00</p></body></html>`

	assert.Equal(t, "677889900", phoneFromHTML(html, nil))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+34 612 345 678", "612345678"},
		{"0034612345678", "612345678"},
		{"612.345.678", "612345678"},
		{"612 34 56 78", "612345678"},
		{"34612345678", "612345678"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePhone(tt.raw))
		})
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		name    string
		digits  string
		blocked []string
		want    bool
	}{
		{name: "mobile", digits: "612345678", want: true},
		{name: "landline", digits: "917654321", want: true},
		{name: "too short", digits: "61234567", want: false},
		{name: "too long", digits: "6123456789", want: false},
		{name: "bad leading digit", digits: "512345678", want: false},
		{name: "freephone service line", digits: "900123456", want: false},
		{name: "keyboard mash", digits: "666666666", want: false},
		{name: "blocked", digits: "612345678", blocked: []string{"612345678"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validPhone(tt.digits, tt.blocked))
		})
	}
}
