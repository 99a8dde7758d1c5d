package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ReasonRepull is the conflict reason the server sends when the client
// should pull again before retrying an action.
const ReasonRepull = "REPULL"

// APIError is returned by the transport for any non-2xx response.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

// IsConflict reports whether the server rejected the request with 409.
func (e *APIError) IsConflict() bool {
	return e.Status == http.StatusConflict
}

// IsRepull reports whether the server asked for another pull.
func (e *APIError) IsRepull() bool {
	return e.IsConflict() && e.Reason == ReasonRepull
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
