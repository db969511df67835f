package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport wraps every failure to get an answer from the server:
// refused connections, timeouts, broken bodies, 5xx responses.
var ErrTransport = errors.New("remote: transport error")

// RejectedError is returned when the server answered a command with
// something other than "ok".
type RejectedError struct {
	Endpoint   string
	StatusCode int
	Text       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote: %s rejected: %s", e.Endpoint, e.Text)
}

// IsAborted reports whether err comes from a request cancelled by its
// caller, typically one superseded by a newer request. Aborts are not
// failures.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsRejected reports whether err is an application-level rejection and
// returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
