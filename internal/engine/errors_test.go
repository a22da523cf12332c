package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/homereach/contact-cli/internal/portal"
	"github.com/homereach/contact-cli/pkg/solver"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"daily limit", eris.Wrapf(ErrDailyLimitReached, "3 of 3 sent"), CodeDailyLimitReached},
		{"credentials missing", eris.Wrapf(ErrCredentialsMissing, "portal hogarix"), CodeCredentialsMissing},
		{"session expired", eris.Wrapf(ErrSessionExpired, "cookie rejected"), CodeSessionExpired},
		{"login failed", eris.Wrap(portal.ErrLoginFailed, "engine: login"), CodeLoginFailed},
		{"challenge unsolvable", eris.Wrap(portal.ErrChallengeUnsolvable, "after 2 attempts"), CodeChallengeUnsolvable},
		{"solver verdict", eris.Wrap(solver.ErrUnsolvable, "task 42"), CodeChallengeUnsolvable},
		{"element not found", eris.Wrap(portal.ErrElementNotFound, "contact button"), CodeElementNotFound},
		{"engine timeout", eris.Wrap(ErrNetworkTimeout, "open listing"), CodeNetworkTimeout},
		{"solver timeout", eris.Wrap(solver.ErrTimeout, "task 42"), CodeNetworkTimeout},
		{"stdlib deadline", fmt.Errorf("nav: %w", context.DeadlineExceeded), CodeNetworkTimeout},
		{"eris-wrapped deadline", eris.Wrap(context.DeadlineExceeded, "open listing"), CodeNetworkTimeout},
		{"anything else", errors.New("contact form vanished"), CodeAutomationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestResultError(t *testing.T) {
	assert.Empty(t, resultError(nil))

	got := resultError(eris.Wrap(portal.ErrLoginFailed, "engine: login"))
	assert.Equal(t, "login_failed: engine: login: portal: login failed", got)

	got = resultError(errors.New("contact form vanished"))
	assert.Equal(t, "automation_failed: contact form vanished", got)
}

func TestIsSessionExpiry(t *testing.T) {
	assert.False(t, IsSessionExpiry(nil))
	assert.False(t, IsSessionExpiry(errors.New("connection reset by peer")))
	assert.True(t, IsSessionExpiry(errors.New("pisea: Session token expired")))
	assert.True(t, IsSessionExpiry(eris.Wrap(errors.New("session cookie rejected"), "engine: send message")))
}
