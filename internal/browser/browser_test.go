package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieBlobRoundTrip(t *testing.T) {
	cookies := []*network.Cookie{
		{
			Name:     "sid",
			Value:    "abc123",
			Domain:   ".hogarix.example",
			Path:     "/",
			Expires:  1900000000,
			HTTPOnly: true,
			Secure:   true,
			SameSite: network.CookieSameSiteLax,
		},
		{
			Name:   "lang",
			Value:  "es",
			Domain: "www.hogarix.example",
			Path:   "/",
			// Session cookie, no expiry.
		},
	}

	blob, err := encodeCookies(cookies)
	require.NoError(t, err)

	params, err := decodeCookies(blob)
	require.NoError(t, err)
	require.Len(t, params, 2)

	sid := params[0]
	assert.Equal(t, "sid", sid.Name)
	assert.Equal(t, "abc123", sid.Value)
	assert.Equal(t, ".hogarix.example", sid.Domain)
	assert.True(t, sid.HTTPOnly)
	assert.True(t, sid.Secure)
	assert.Equal(t, network.CookieSameSiteLax, sid.SameSite)
	require.NotNil(t, sid.Expires)
	assert.Equal(t, int64(1900000000), time.Time(*sid.Expires).Unix())

	lang := params[1]
	assert.Equal(t, "lang", lang.Name)
	assert.Nil(t, lang.Expires)
}

func TestDecodeCookies_InvalidBlob(t *testing.T) {
	_, err := decodeCookies([]byte("not json"))
	require.Error(t, err)
}

func TestDecodeCookies_EmptyList(t *testing.T) {
	params, err := decodeCookies([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, defaultUserAgent, opts.UserAgent)
	assert.Equal(t, defaultNavTimeout, opts.NavTimeout)

	custom := Options{
		UserAgent:  "custom-agent",
		NavTimeout: 10 * time.Second,
	}.withDefaults()
	assert.Equal(t, "custom-agent", custom.UserAgent)
	assert.Equal(t, 10*time.Second, custom.NavTimeout)
}

func TestSleepRange(t *testing.T) {
	start := time.Now()
	err := sleepRange(context.Background(), 5*time.Millisecond, 15*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestSleepRange_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleepRange(ctx, time.Minute, 2*time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFireInputEvents_EscapesSelector(t *testing.T) {
	js := fireInputEvents(`input[name="email"]`)
	assert.Contains(t, js, `document.querySelector("input[name=\"email\"]")`)
}
