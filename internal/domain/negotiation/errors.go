package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrStaleState        = errors.New("stale state: please refresh and retry")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("payment deadline passed")
)

// TransitionError describes an action that is not legal for the current status or role.
type TransitionError struct {
	Action string
	Status Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot %s negotiation in status %s", e.Action, e.Status)
	}
	return fmt.Sprintf("cannot %s negotiation in status %s: %s", e.Action, e.Status, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

func illegal(action string, status Status, reason string) error {
	return &TransitionError{Action: action, Status: status, Reason: reason}
}
