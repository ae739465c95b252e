package micloud

import (
	"errors"
	"fmt"
)

// Error taxonomy for the login state machine and the RPC pipeline. Every
// failure surfaced by this package wraps one of these sentinels, so callers
// can branch with errors.Is without parsing messages.
var (
	// ErrTransport indicates a network failure or a non-2xx HTTP status.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedResponse indicates a body that failed to parse as JSON.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrProtocol indicates an expected token, cookie or redirect was absent.
	ErrProtocol = errors.New("protocol violation")

	// ErrMalformedSecret indicates ssecurity or nonce was not valid base64.
	ErrMalformedSecret = errors.New("malformed secret")

	// ErrNotAuthenticated indicates an RPC was attempted before login.
	ErrNotAuthenticated = errors.New("not logged in")

	// ErrUnsupportedRegion indicates an unknown region tag was supplied.
	ErrUnsupportedRegion = errors.New("unsupported region")

	// ErrCaptchaCancelled indicates the user abandoned the CAPTCHA prompt.
	ErrCaptchaCancelled = errors.New("captcha cancelled")

	// ErrTwoFactorCancelled indicates the user abandoned the 2FA prompt.
	ErrTwoFactorCancelled = errors.New("two-factor challenge cancelled")

	// ErrTwoFactorRejected indicates the server rejected the flow with a
	// terminal verification error.
	ErrTwoFactorRejected = errors.New("two-factor verification rejected")

	// ErrTwoFactorSendFailed indicates the ticket could not be sent.
	ErrTwoFactorSendFailed = errors.New("two-factor code send failed")

	// ErrTwoFactorUnsupported indicates 2FA is required but no handler is
	// configured on the client.
	ErrTwoFactorUnsupported = errors.New("two-factor required but no handler configured")

	// ErrAccountNotConfigured indicates the account has no 2FA channel set
	// up; the wrapped message carries the notification URL to visit.
	ErrAccountNotConfigured = errors.New("account has no verification method configured")

	// ErrChallengeClosed indicates a challenge slot was torn down while a
	// waiter was still suspended on it.
	ErrChallengeClosed = errors.New("challenge channel closed")

	// errChallengeCancelled is the internal outcome of challenge.cancel;
	// call sites translate it to the flow-specific sentinel.
	errChallengeCancelled = errors.New("challenge cancelled")
)

// ServerError carries an error message returned by the Mi Cloud API when a
// call produced no result.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return e.Message
}

// statusError wraps a non-2xx HTTP status as an ErrTransport.
func statusError(step string, status int) error {
	return fmt.Errorf("%w: %s: unexpected status %d", ErrTransport, step, status)
}
