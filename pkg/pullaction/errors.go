package pullaction

import (
	"errors"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// CriticalChangeMessage is the conflict message used when a critical path
// changed upstream during the pull.
const CriticalChangeMessage = "File touching this action has been changed, please recheck file before retry."

var (
	// ErrExecutionNotPossible is returned by Execute once a result is set.
	// It signals a programming error in the caller.
	ErrExecutionNotPossible = errors.New("pullaction: execute called after the protocol terminated")
	// ErrReentrantExecute is returned when Execute is called while a
	// previous call is still in flight.
	ErrReentrantExecute = errors.New("pullaction: execute called while another execution is in flight")
	// ErrPullFailure is the result error when the server reports a failed pull.
	ErrPullFailure = errors.New("pull failure")
	// ErrRepullLimit is wrapped by the result error when the server keeps
	// requesting a repull without any upstream change appearing.
	ErrRepullLimit = errors.New("server keeps requesting a repull without new changes")
)

// ConflictError is the result error of a conflicted action.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// AsConflict checks if an error is a ConflictError and returns it.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Kind classifies an action failure.
type Kind int

const (
	KindError Kind = iota
	KindConflict
	KindRepull
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindRepull:
		return "repull"
	default:
		return "error"
	}
}

// Classify maps a transport error onto the action error taxonomy: a 409
// with the REPULL reason asks for another round, any other 409 is a
// conflict, everything else is an error.
func Classify(err error) Kind {
	ae, ok := protocol.AsAPIError(err)
	if !ok {
		return KindError
	}
	switch {
	case ae.IsRepull():
		return KindRepull
	case ae.IsConflict():
		return KindConflict
	default:
		return KindError
	}
}

// conflictMessage returns the server's message for a conflict verbatim.
func conflictMessage(err error) string {
	if ae, ok := protocol.AsAPIError(err); ok {
		if ae.Message != "" {
			return ae.Message
		}
		if ae.Reason != "" {
			return ae.Reason
		}
	}
	return err.Error()
}
