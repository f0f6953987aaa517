package channel

import (
	"errors"
	"fmt"
)

// Operation names carried by TransportError.
const (
	OpSend  = "send"
	OpQuery = "query"
)

// TransportError is a link-level failure that survived the retry policy.
type TransportError struct {
	Op      string // send | query
	Command string
	// Retried reports whether the recovery attempt (cooldown, clear, reissue) ran.
	Retried bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Retried {
		return fmt.Sprintf("%s %q: transport failure after retry: %v", e.Op, e.Command, e.Err)
	}
	return fmt.Sprintf("%s %q: transport failure: %v", e.Op, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
