package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAppointmentLocked   = errors.New("appointment is closed and can no longer change")
	ErrAppointmentExpired  = errors.New("appointment time has already passed")
	ErrNotToday            = errors.New("appointment can only be announced on its date")
	ErrNotPermitted        = errors.New("not permitted for this role")
	ErrPrescriptionsClosed = errors.New("prescriptions can only be written while the appointment is attended")
)

// TransitionError carries the rejected move. It matches ErrInvalidTransition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
