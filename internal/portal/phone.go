package portal

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Spanish subscriber numbers: nine digits starting 6/7 (mobile) or 8/9
// (landline), optionally prefixed +34. Listings group the digits every
// which way (612 345 678, 612 34 56 78), so any digit may carry a
// leading separator.
var (
	phoneRe    = regexp.MustCompile(`(?:\+?34[\s.\-]?)?[6789](?:[\s.\-]?\d){8}`)
	nonDigitRe = regexp.MustCompile(`\D`)
)

// phoneFromHTML extracts a seller phone number from listing HTML. A
// structured tel: link always beats loose text, which keeps promotional
// numbers in the page chrome from winning. blocked lists the portal's own
// call-center numbers in normalized digit form.
func phoneFromHTML(html string, blocked []string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return firstValidPhone(html, blocked)
	}

	var found string
	doc.Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		digits := normalizePhone(strings.TrimPrefix(href, "tel:"))
		if validPhone(digits, blocked) {
			found = digits
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	// Phone widgets next, whole page as the last resort.
	for _, sel := range []string{`[class*="telefono"]`, `[class*="phone"]`, `[data-phone]`} {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if attr, ok := s.Attr("data-phone"); ok {
				if d := normalizePhone(attr); validPhone(d, blocked) {
					found = d
					return false
				}
			}
			if d := firstValidPhone(s.Text(), blocked); d != "" {
				found = d
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return firstValidPhone(doc.Text(), blocked)
}

func firstValidPhone(text string, blocked []string) string {
	for _, m := range phoneRe.FindAllString(text, -1) {
		digits := normalizePhone(m)
		if validPhone(digits, blocked) {
			return digits
		}
	}
	return ""
}

// normalizePhone strips separators and the +34 country prefix.
func normalizePhone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	switch {
	case strings.HasPrefix(digits, "0034") && len(digits) == 13:
		digits = digits[4:]
	case strings.HasPrefix(digits, "34") && len(digits) == 11:
		digits = digits[2:]
	}
	return digits
}

// validPhone rejects non-Spanish shapes, freephone service lines, keyboard
// mash, and portal-owned numbers.
func validPhone(digits string, blocked []string) bool {
	if len(digits) != 9 {
		return false
	}
	switch digits[0] {
	case '6', '7', '8', '9':
	default:
		return false
	}
	// 900-prefixed freephone lines are call centers, never sellers.
	if strings.HasPrefix(digits, "900") {
		return false
	}
	allSame := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}
	for _, b := range blocked {
		if digits == b {
			return false
		}
	}
	return true
}
