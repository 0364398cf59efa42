// Package validation marks errors caused by malformed caller input, as opposed
// to state conflicts or storage faults.
package validation

import (
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("invalid input")

// Error keeps the caller-facing message and unwraps to ErrInvalid.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return ErrInvalid }

func New(msg string) error {
	return &Error{msg: msg}
}

func Errorf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}
