package gocnc

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var u unrecoverableError
	return !errors.As(err, &u)
}

var (
	ErrNotConnected   = errors.New("controller not connected")
	ErrClosed         = errors.New("client closed")
	ErrJobActive      = errors.New("job is streaming")
	ErrHalted         = errors.New("streaming halted, abort or unlock first")
	ErrLineOutOfRange = errors.New("line out of range")
	ErrLineTooLong    = errors.New("line does not fit the controller receive buffer")
	ErrSubscriberGone = errors.New("subscriber channel closed")
)

// FirmwareError is an error:N response attributed to the command it
// acknowledged. Line is -1 for immediate commands.
type FirmwareError struct {
	Code    int
	Message string
	Line    int
	Command string
}

func (e *FirmwareError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("error:%d %s (%q)", e.Code, e.Message, e.Command)
	}
	return fmt.Sprintf("error:%d %s (line %d %q)", e.Code, e.Message, e.Line, e.Command)
}

type AlarmError struct {
	Code    int
	Message string
}

func (e *AlarmError) Error() string {
	return fmt.Sprintf("ALARM:%d %s", e.Code, e.Message)
}
