// Package badinput is the one error kind the game engine produces: the caller
// asked for something that can't be done with the arguments given.
package badinput

import (
	"errors"
	"fmt"
)

// ErrInvalidInput matches every *Error with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

type Error struct {
	err error
}

func Errorf(f string, more ...any) *Error {
	return &Error{err: fmt.Errorf(f, more...)}
}

func New(err error) *Error {
	return &Error{err: err}
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalidInput
}
