package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// cookie is the persisted session-cookie schema. Kept independent of the
// cdproto types so stored sessions survive dependency upgrades.
type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// CookieBlob builds a blob holding a single cookie, for callers that
// install one artifact (a clearance cookie) rather than restore a jar.
func CookieBlob(name, value, domain string) ([]byte, error) {
	data, err := json.Marshal([]cookie{{
		Name:   name,
		Value:  value,
		Domain: domain,
		Path:   "/",
	}})
	if err != nil {
		return nil, eris.Wrap(err, "browser: encode cookie blob")
	}
	return data, nil
}

func encodeCookies(cs []*network.Cookie) ([]byte, error) {
	out := make([]cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, eris.Wrap(err, "browser: encode cookie blob")
	}
	return data, nil
}

func decodeCookies(data []byte) ([]*network.CookieParam, error) {
	var cs []cookie
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, eris.Wrap(err, "browser: decode cookie blob")
	}
	params := make([]*network.CookieParam, 0, len(cs))
	for _, c := range cs {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params, nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]byte, error) {
	var data []byte
	err := c.run(ctx, defaultOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		data, err = encodeCookies(cookies)
		return err
	}))
	if err != nil {
		return nil, eris.Wrap(err, "browser: export cookies")
	}
	return data, nil
}

func (c *Chrome) SetCookies(ctx context.Context, data []byte) error {
	params, err := decodeCookies(data)
	if err != nil {
		return err
	}
	if len(params) == 0 {
		return nil
	}
	if err := c.run(ctx, defaultOpTimeout, storage.SetCookies(params)); err != nil {
		return eris.Wrap(err, "browser: restore cookies")
	}
	return nil
}
