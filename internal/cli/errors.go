// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"net"

	"github.com/posgateway/amlsession/internal/config"
	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/sessionapi"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
)

// ErrNotLoggedIn is returned when a command needs a stored session cookie.
var ErrNotLoggedIn = errors.New("not logged in; run 'amlsession login' first")

// UsageError is a malformed command line.
type UsageError struct {
	Command string
	Reason  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s (see 'amlsession help')", e.Command, e.Reason)
}

// CommandError wraps a failed command with its name.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	var (
		usageErr  *UsageError
		ttyErr    *TTYRequiredError
		validErrs config.ValidateErrors
		netErr    net.Error
		statusErr *sessionapi.StatusError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usageErr), errors.As(err, &ttyErr):
		return ExitUsageError
	case errors.As(err, &validErrs), errors.Is(err, sessionapi.ErrNoBaseURL):
		return ExitConfigError
	case errors.Is(err, ErrNotLoggedIn), errors.Is(err, session.ErrUnauthenticated):
		return ExitAuthError
	case errors.As(err, &netErr), errors.As(err, &statusErr):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
