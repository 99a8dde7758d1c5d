package pullaction

import (
	"fmt"
	"strings"
)

// State is the protocol's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateConflicted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateConflicted:
		return "conflicted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further execution is possible from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateConflicted || s == StateFailed
}

// maxConsecutiveRetriesWithoutDiff is the number of repull rounds without an
// upstream diff that are tolerated; one more fails the protocol.
const maxConsecutiveRetriesWithoutDiff = 1

type event int

const (
	evStart event = iota
	evPullFailed
	evCriticalChange
	evActionSucceeded
	evRepull
	evRepullExhausted
	evActionConflict
	evActionFailed
)

func (e event) String() string {
	return [...]string{
		"start", "pull-failed", "critical-change", "action-succeeded",
		"repull", "repull-exhausted", "action-conflict", "action-failed",
	}[e]
}

// transition is the protocol's state machine. It performs no I/O.
func transition(s State, ev event) (State, error) {
	if s.Terminal() {
		return s, ErrExecutionNotPossible
	}
	if ev == evStart {
		return StateRunning, nil
	}
	if s == StateIdle {
		return s, fmt.Errorf("pullaction: event %s before start", ev)
	}
	switch ev {
	case evActionSucceeded:
		return StateSucceeded, nil
	case evCriticalChange, evActionConflict:
		return StateConflicted, nil
	case evPullFailed, evRepullExhausted, evActionFailed:
		return StateFailed, nil
	case evRepull:
		return StateRunning, nil
	}
	return s, fmt.Errorf("pullaction: unknown event %d", int(ev))
}

// repullEvent decides whether another round is allowed after a repull request.
func repullEvent(consecutiveWithoutDiff int) event {
	if consecutiveWithoutDiff > maxConsecutiveRetriesWithoutDiff {
		return evRepullExhausted
	}
	return evRepull
}

// touchesCritical reports whether any changed path starts with a critical path.
// The match is a plain string prefix, so "abc" also matches "abcdef".
func touchesCritical(changed, critical []string) (string, bool) {
	for _, c := range changed {
		for _, prefix := range critical {
			if strings.HasPrefix(c, prefix) {
				return c, true
			}
		}
	}
	return "", false
}
