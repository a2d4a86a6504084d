package publish

import (
	"errors"
	"fmt"
)

var (
	// ErrPublishFailed matches every store-side failure of a publish. The
	// session is untouched and the whole publish can be retried.
	ErrPublishFailed = errors.New("publish: failed, please retry")

	ErrIncomplete      = errors.New("publish: every participant must be completed")
	ErrMissingPhoto    = errors.New("publish: a race photo is required")
	ErrNoParticipants  = errors.New("publish: no participants")
	ErrEmptyProfileID  = errors.New("publish: name does not produce a profile id")
	ErrDuplicateID     = errors.New("publish: two new profiles share an id")
	ErrProfileExists   = errors.New("publish: a profile with this id already exists")
	ErrMissingRaceDate = errors.New("publish: race date is required")
)

// ValidationError reports a request that was rejected before any object
// was written.
type ValidationError struct {
	// Subject names the participant or field at fault, if any.
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Subject == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Subject)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Error is a store failure during one step of the protocol.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish: %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrPublishFailed.
func (e *Error) Is(target error) bool {
	return target == ErrPublishFailed
}

func invalid(subject string, err error) error {
	return &ValidationError{Subject: subject, Err: err}
}

func failed(step string, err error) error {
	return &Error{Step: step, Err: err}
}
