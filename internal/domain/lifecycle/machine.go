package lifecycle

import (
	"time"

	"github.com/clinica/turnos/internal/platform/auth"
)

type precondition int

const (
	always precondition = iota
	notPast
	isToday
)

type rule struct {
	from  Status
	to    Status
	roles []auth.Role
	pre   precondition
}

var (
	patientOrDoctor = []auth.Role{auth.RolePatient, auth.RoleDoctor}
	doctorOnly      = []auth.Role{auth.RoleDoctor}
)

var rules = []rule{
	{Pendiente, Confirmado, patientOrDoctor, notPast},
	{Pendiente, Cancelado, patientOrDoctor, notPast},
	{Confirmado, Anunciado, doctorOnly, isToday},
	{Confirmado, Cancelado, patientOrDoctor, notPast},
	{Anunciado, Atendido, doctorOnly, always},
	{Anunciado, Ausente, doctorOnly, always},
	{Atendido, Finalizado, doctorOnly, always},
	{Anunciado, Finalizado, doctorOnly, always},
}

func lookup(from, to Status) (rule, bool) {
	for _, r := range rules {
		if r.from == from && r.to == to {
			return r, true
		}
	}
	return rule{}, false
}

func (r rule) permits(role auth.Role) bool {
	if role == auth.RoleAdmin {
		return true
	}
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Machine evaluates transitions against the clinic's clock. Dates are
// compared in the clinic's time zone.
type Machine struct {
	loc *time.Location
	now func() time.Time
}

// NewMachine builds a Machine for the given zone. A nil zone means UTC and
// a nil clock means time.Now.
func NewMachine(loc *time.Location, now func() time.Time) *Machine {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{loc: loc, now: now}
}

// Location is the clinic's time zone.
func (m *Machine) Location() *time.Location { return m.loc }

// Now is the current instant in the clinic's time zone.
func (m *Machine) Now() time.Time { return m.now().In(m.loc) }

// Check decides whether role may move an appointment starting at start
// from cur to to. Errors are reported in a fixed order: locked, invalid,
// not permitted, then the time precondition.
func (m *Machine) Check(cur Status, start time.Time, role auth.Role, to Status) error {
	if cur.Terminal() {
		return ErrAppointmentLocked
	}
	r, ok := lookup(cur, to)
	if !ok {
		return &TransitionError{From: cur, To: to}
	}
	if !r.permits(role) {
		return ErrNotPermitted
	}
	return m.precondition(r.pre, start)
}

func (m *Machine) precondition(p precondition, start time.Time) error {
	now := m.Now()
	switch p {
	case notPast:
		if start.Before(now) {
			return ErrAppointmentExpired
		}
	case isToday:
		day, today := dateOf(start.In(m.loc)), dateOf(now)
		switch {
		case day.Before(today):
			return ErrAppointmentExpired
		case day.After(today):
			return ErrNotToday
		}
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// Next lists the statuses role may move an appointment to from cur,
// ignoring time preconditions.
func Next(cur Status, role auth.Role) []Status {
	if cur.Terminal() {
		return nil
	}
	var out []Status
	for _, r := range rules {
		if r.from == cur && r.permits(role) {
			out = append(out, r.to)
		}
	}
	return out
}

// Available lists the actions role can take right now on an appointment
// in cur starting at start.
func (m *Machine) Available(cur Status, start time.Time, role auth.Role) []Action {
	var out []Action
	for _, to := range Next(cur, role) {
		if m.Check(cur, start, role, to) != nil {
			continue
		}
		if a, ok := ActionFor(to); ok {
			out = append(out, a)
		}
	}
	return out
}

// CheckEditable rejects edits of date, time, reason or diagnosis once the
// appointment reached a terminal status.
func CheckEditable(cur Status) error {
	if cur.Terminal() {
		return ErrAppointmentLocked
	}
	return nil
}

// PrescriptionsOpen reports whether prescriptions may be written. They open
// on Atendido and freeze once the appointment moves on.
func PrescriptionsOpen(cur Status) bool { return cur == Atendido }

// CheckPrescriptions is PrescriptionsOpen as an error.
func CheckPrescriptions(cur Status) error {
	if !PrescriptionsOpen(cur) {
		return ErrPrescriptionsClosed
	}
	return nil
}
