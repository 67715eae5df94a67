package garmin

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNoSession indicates an operation that needs credentials ran
// without an authenticated session.
var ErrNoSession = errors.New("not logged in")

// ErrSessionInvalid indicates the session was rejected by the server
// and must not be reused.
var ErrSessionInvalid = errors.New("session invalidated")

// StatusError is a non-2xx HTTP response from the platform. Callers
// branch on the code to decide between duplicate, re-auth and
// rate-limit handling.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// IsDuplicate reports whether err is the server rejecting an upload
// because the activity already exists remotely.
func IsDuplicate(err error) bool { return statusCode(err) == http.StatusConflict }

// IsUnauthorized reports whether err means the session is no longer
// accepted.
func IsUnauthorized(err error) bool { return statusCode(err) == http.StatusUnauthorized }

// IsRateLimited reports whether err is a throttling response.
func IsRateLimited(err error) bool { return statusCode(err) == http.StatusTooManyRequests }

// IsNetwork reports whether err is a transport-level failure such as
// a timeout or refused connection, as opposed to a server verdict.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
