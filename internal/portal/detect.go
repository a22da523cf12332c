package portal

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/homereach/contact-cli/pkg/solver"
)

// Challenge fingerprints, matched on accent-folded lowercased HTML. The
// portals serve Spanish with inconsistent accents, so "verificación" and
// "verificacion" must hit the same marker.
var (
	behavioralMarkers = []string{
		"bhv-gate",
		"comprobando tu navegador",
		"verificacion de seguridad en curso",
	}
	sliderV4Markers = []string{
		"slider/v4.js",
		"data-sv4-key",
		"initsliderv4",
	}
	sliderV3Markers = []string{
		"slider/v3.js",
		"initsliderv3",
		"sv3-wrap",
	}
	checkboxMarkers = []string{
		"checkbox/v2/api.js",
		"data-cb-sitekey",
		"cb-widget",
	}
)

// Site-parameter extractors run against the raw HTML; keys are
// case-sensitive values.
var (
	cbSiteKeyRe    = regexp.MustCompile(`data-cb-sitekey=["']([^"']+)["']`)
	sv4KeyRe       = regexp.MustCompile(`data-sv4-key=["']([^"']+)["']`)
	gtRe           = regexp.MustCompile(`["']gt["']\s*[:=]\s*["']([0-9a-fA-F]{8,})["']`)
	challengeKeyRe = regexp.MustCompile(`["']challenge["']\s*[:=]\s*["']([0-9a-fA-F]{8,})["']`)
)

var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldText lowercases s and strips diacritics for marker matching.
func foldText(s string) string {
	out, _, err := transform.String(foldTransform, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func containsAny(folded string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}

// Detect scans page HTML for an anti-automation challenge and extracts its
// site parameters. The behavioral interstitial replaces the whole page, so
// it is checked first; the widget challenges follow newest-first.
func Detect(html string) (solver.Challenge, bool) {
	folded := foldText(html)

	if containsAny(folded, behavioralMarkers) {
		return solver.Challenge{Type: solver.ChallengeBehavioral}, true
	}
	if containsAny(folded, sliderV4Markers) {
		ch := solver.Challenge{Type: solver.ChallengeSliderV4}
		if m := sv4KeyRe.FindStringSubmatch(html); m != nil {
			ch.GT = m[1]
		}
		if m := challengeKeyRe.FindStringSubmatch(html); m != nil {
			ch.ChallengeKey = m[1]
		}
		return ch, true
	}
	if containsAny(folded, sliderV3Markers) {
		ch := solver.Challenge{Type: solver.ChallengeSliderV3}
		if m := gtRe.FindStringSubmatch(html); m != nil {
			ch.GT = m[1]
		}
		if m := challengeKeyRe.FindStringSubmatch(html); m != nil {
			ch.ChallengeKey = m[1]
		}
		return ch, true
	}
	if containsAny(folded, checkboxMarkers) {
		ch := solver.Challenge{Type: solver.ChallengeCheckboxV2}
		if m := cbSiteKeyRe.FindStringSubmatch(html); m != nil {
			ch.SiteKey = m[1]
		}
		return ch, true
	}
	return solver.Challenge{}, false
}

// loginSignal classifies page content against login indicators.
type loginSignal int

const (
	signalNone loginSignal = iota
	signalLoggedIn
	signalLoggedOut
)

func detectLogin(html string, inMarkers, outMarkers []string) loginSignal {
	folded := foldText(html)
	if containsAny(folded, inMarkers) {
		return signalLoggedIn
	}
	if containsAny(folded, outMarkers) {
		return signalLoggedOut
	}
	return signalNone
}
