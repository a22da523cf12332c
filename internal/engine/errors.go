package engine

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/homereach/contact-cli/internal/portal"
	"github.com/homereach/contact-cli/pkg/solver"
)

// Failure sentinels owned by the engine. The portal package carries its
// own for login, challenge, and element failures; Classify maps both sets
// onto the stable job error codes.
var (
	ErrCredentialsMissing = eris.New("engine: portal credentials missing")
	ErrDailyLimitReached  = eris.New("daily limit reached")
	ErrSessionExpired     = eris.New("engine: session expired")
	ErrNetworkTimeout     = eris.New("engine: network timeout")
)

// Stable error codes persisted on failed jobs. Operators filter and group
// on these, so renaming one is a breaking change.
const (
	CodeCredentialsMissing  = "credentials_missing"
	CodeLoginFailed         = "login_failed"
	CodeSessionExpired      = "session_expired"
	CodeChallengeUnsolvable = "challenge_unsolvable"
	CodeElementNotFound     = "element_not_found"
	CodeNetworkTimeout      = "network_timeout"
	CodeDailyLimitReached   = "daily_limit_reached"
	CodeAutomationFailed    = "automation_failed"
)

// Classify maps an automation failure to its stable error code.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrDailyLimitReached):
		return CodeDailyLimitReached
	case eris.Is(err, ErrCredentialsMissing):
		return CodeCredentialsMissing
	case eris.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	case eris.Is(err, portal.ErrLoginFailed):
		return CodeLoginFailed
	case eris.Is(err, portal.ErrChallengeUnsolvable), eris.Is(err, solver.ErrUnsolvable):
		return CodeChallengeUnsolvable
	case eris.Is(err, portal.ErrElementNotFound):
		return CodeElementNotFound
	case eris.Is(err, ErrNetworkTimeout), eris.Is(err, solver.ErrTimeout),
		eris.Is(err, context.DeadlineExceeded):
		return CodeNetworkTimeout
	default:
		return CodeAutomationFailed
	}
}

// resultError renders a failure for the persisted result field as
// "code: message chain".
func resultError(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err) + ": " + err.Error()
}

// IsSessionExpiry reports whether a failure looks like a dead portal
// session. The portals phrase expiry a dozen ways; the word itself is the
// reliable part of the signal.
func IsSessionExpiry(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "session")
}
