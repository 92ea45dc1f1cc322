package availability

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/apperr"
)

// RegularEntry is a recurring weekly work block of a doctor for one
// specialty.
type RegularEntry struct {
	Matricula      string    `json:"medico_matricula"`
	EspecialidadID int       `json:"especialidad_id"`
	Weekday        int       `json:"dia_de_semana"` // ISO, 1 = Monday
	Start          TimeOfDay `json:"hora_inicio"`
	End            TimeOfDay `json:"hora_fin"`
	SlotMinutes    int       `json:"duracion"`
	SucursalID     *int      `json:"sucursal_id,omitempty"`
}

// RegularKey identifies a regular entry of a doctor.
type RegularKey struct {
	EspecialidadID int
	Weekday        int
	Start          TimeOfDay
}

func (e RegularEntry) Key() RegularKey {
	return RegularKey{EspecialidadID: e.EspecialidadID, Weekday: e.Weekday, Start: e.Start}
}

func (e RegularEntry) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.Matricula, validation.Required),
		validation.Field(&e.EspecialidadID, validation.Required.Error("especialidad is required")),
		validation.Field(&e.Weekday, validation.Required, validation.Min(1), validation.Max(7)),
		validation.Field(&e.SlotMinutes, validation.Required.Error("must be a positive number of minutes"), validation.Min(1)),
		validation.Field(&e.End, validation.Required, validation.Min(e.Start+1).Error("must be after hora_inicio")),
	)
	return apperr.Validation(err)
}

// ExceptionKind tells whether an exceptional entry adds or removes time.
type ExceptionKind string

const (
	ExtraAvailability ExceptionKind = "disponible"
	Unavailability    ExceptionKind = "no_disponible"
)

// ExceptionalEntry overrides the regular agenda over [Start, End).
type ExceptionalEntry struct {
	Matricula         string        `json:"medico_matricula"`
	EspecialidadID    int           `json:"especialidad_id"`
	Start             time.Time     `json:"inicio"`
	End               time.Time     `json:"fin"`
	Kind              ExceptionKind `json:"tipo"`
	SlotMinutes       int           `json:"duracion,omitempty"`
	SucursalID        *int          `json:"sucursal_id,omitempty"`
	ConsultorioNumero *int          `json:"consultorio_numero,omitempty"`
	Motivo            string        `json:"motivo,omitempty"`
}

// ExceptionalKey identifies an exceptional entry of a doctor.
type ExceptionalKey struct {
	EspecialidadID int
	Start          time.Time
}

func (e ExceptionalEntry) Key() ExceptionalKey {
	return ExceptionalKey{EspecialidadID: e.EspecialidadID, Start: e.Start}
}

// Validate checks a new entry. today is midnight of the current clinic day;
// entries may not start before it. Extra availability has no implied slot
// length or branch, so both must be given.
func (e ExceptionalEntry) Validate(today time.Time) error {
	extra := e.Kind == ExtraAvailability
	err := validation.ValidateStruct(&e,
		validation.Field(&e.Matricula, validation.Required),
		validation.Field(&e.EspecialidadID, validation.Required.Error("especialidad is required")),
		validation.Field(&e.Kind, validation.Required, validation.In(ExtraAvailability, Unavailability)),
		validation.Field(&e.Start, validation.Required, validation.Min(today).Error("must not be before today")),
		validation.Field(&e.End, validation.Required, validation.Min(e.Start.Add(time.Minute)).Error("must be after the start")),
		validation.Field(&e.SlotMinutes, validation.When(extra, validation.Required, validation.Min(1))),
		validation.Field(&e.SucursalID, validation.When(extra, validation.Required)),
	)
	return apperr.Validation(err)
}

// Booking is an existing appointment as far as slot math is concerned.
type Booking struct {
	Fecha  string           `json:"fecha"`
	Hora   TimeOfDay        `json:"hora"`
	Status lifecycle.Status `json:"estado"`
}

// Holds reports whether the booking still occupies its slot.
func (b Booking) Holds() bool { return b.Status != lifecycle.Cancelado }

// Slot is a bookable start time. Slots are derived per query.
type Slot struct {
	Fecha          string    `json:"fecha"`
	Hora           TimeOfDay `json:"hora"`
	Minutes        int       `json:"duracion"`
	EspecialidadID int       `json:"especialidad_id"`
	SucursalID     *int      `json:"sucursal_id,omitempty"`
}
