package errorsx

import (
	"errors"
	"fmt"
)

// Reasoner is implemented by errors that know their own reason code.
type Reasoner interface {
	Reason() ReasonCode
}

// ReasonedError pairs an error with the reason it was first classified under.
type ReasonedError struct {
	Err  error
	Code ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

func (e ReasonedError) Reason() ReasonCode { return e.Code }

// Wrap classifies err under reason. The outermost existing reason wins, so
// wrapping an already classified error returns it unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var r Reasoner
	if errors.As(err, &r) {
		return err
	}
	return ReasonedError{Err: err, Code: reason}
}

// Errorf formats like fmt.Errorf and classifies the result under reason.
func Errorf(reason ReasonCode, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), reason)
}

// Reason returns the first reason found walking the chain from the outside in.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var r Reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
