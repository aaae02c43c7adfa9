// Error taxonomy. RequestError is anticipated and caller-visible;
// UnauthorizedError additionally forces the connection back to LoggedOut
// after the reply. Anything else is internal: logged in full, surfaced to
// the client as a generic message by the connection pump.
package dispatcher

import (
	"errors"
	"fmt"
)

// RequestError is an anticipated, caller-visible failure: invalid
// arguments, unknown kind, unauthorized actor, unknown target.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Errorf builds a RequestError.
func Errorf(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// UnauthorizedError is a RequestError whose additional side effect is that
// after replying, the connection is forced back to LoggedOut and a logout
// push is sent. Raised when a request kind is not acceptable in the
// connection's current login state.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	return e.Message
}

func errUnauthorized(kind string) error {
	return &UnauthorizedError{Message: fmt.Sprintf("request %q not allowed in this state", kind)}
}

// IsRequestError extracts the caller-visible message if err is part of the
// anticipated taxonomy.
func IsRequestError(err error) (string, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Message, true
	}
	var unauth *UnauthorizedError
	if errors.As(err, &unauth) {
		return unauth.Message, true
	}
	return "", false
}

// IsUnauthorized reports whether err carries the forced-logout side effect.
func IsUnauthorized(err error) bool {
	var unauth *UnauthorizedError
	return errors.As(err, &unauth)
}
