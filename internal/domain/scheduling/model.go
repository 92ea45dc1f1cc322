package scheduling

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/apperr"
)

// ErrSlotConflict means the requested slot is not offered or was taken.
var ErrSlotConflict = errors.New("the requested slot is no longer available")

// Key identifies an appointment.
type Key struct {
	Fecha       string                 `json:"fecha"`
	Hora        availability.TimeOfDay `json:"hora"`
	PacienteNro int                    `json:"paciente_nro"`
}

// ParseKey reads the three path segments of an appointment URL.
func ParseKey(fecha, hora, paciente string, loc *time.Location) (Key, error) {
	if _, err := availability.ParseDate(fecha, loc); err != nil {
		return Key{}, err
	}
	h, err := availability.ParseTimeOfDay(hora)
	if err != nil {
		return Key{}, err
	}
	nro, err := strconv.Atoi(paciente)
	if err != nil || nro <= 0 {
		return Key{}, apperr.Invalid(fmt.Sprintf("invalid patient number %q", paciente))
	}
	return Key{Fecha: fecha, Hora: h, PacienteNro: nro}, nil
}

// Start is the appointment's start instant in loc.
func (k Key) Start(loc *time.Location) time.Time {
	day, err := availability.ParseDate(k.Fecha, loc)
	if err != nil {
		return time.Time{}
	}
	return k.Hora.On(day)
}

func (k Key) path() string {
	return "/turnos/" + url.PathEscape(k.Fecha) + "/" + k.Hora.String() + "/" + strconv.Itoa(k.PacienteNro)
}

func (k Key) String() string {
	return k.Fecha + " " + k.Hora.String() + " #" + strconv.Itoa(k.PacienteNro)
}

// Appointment is a turno as returned by the clinic service, plus display
// fields that are not part of its identity.
type Appointment struct {
	Fecha             string                 `json:"fecha"`
	Hora              availability.TimeOfDay `json:"hora"`
	PacienteNro       int                    `json:"paciente_nro"`
	Matricula         string                 `json:"medico_matricula"`
	EspecialidadID    int                    `json:"especialidad_id"`
	SucursalID        *int                   `json:"sucursal_id,omitempty"`
	ConsultorioNumero *int                   `json:"consultorio_numero,omitempty"`
	Minutes           int                    `json:"duracion,omitempty"`
	Motivo            string                 `json:"motivo,omitempty"`
	Diagnostico       *string                `json:"diagnostico"`
	Status            lifecycle.Status       `json:"estado"`

	MedicoNombre            string `json:"medico_nombre,omitempty"`
	MedicoApellido          string `json:"medico_apellido,omitempty"`
	EspecialidadDescripcion string `json:"especialidad_descripcion,omitempty"`
}

func (a *Appointment) Key() Key {
	return Key{Fecha: a.Fecha, Hora: a.Hora, PacienteNro: a.PacienteNro}
}

// BookingRequest asks for a new appointment.
type BookingRequest struct {
	Fecha          string `json:"fecha"`
	Hora           string `json:"hora"`
	Matricula      string `json:"medico_matricula"`
	EspecialidadID int    `json:"especialidad_id"`
	PacienteNro    int    `json:"paciente_nro"`
	Motivo         string `json:"motivo"`
	// Confirmar books directly as Confirmado. Only staff may ask for it.
	Confirmar bool `json:"confirmar"`
}

func (r BookingRequest) Validate() error {
	return apperr.Validation(validation.ValidateStruct(&r,
		validation.Field(&r.Fecha, validation.Required, validation.Date(availability.DateLayout)),
		validation.Field(&r.Hora, validation.Required),
		validation.Field(&r.Matricula, validation.Required),
		validation.Field(&r.EspecialidadID, validation.Required),
		validation.Field(&r.PacienteNro, validation.Required, validation.Min(1)),
		validation.Field(&r.Motivo, validation.Length(0, 500)),
	))
}

// AppointmentUpdate changes date, time, reason or diagnosis. Nil fields
// are left alone.
type AppointmentUpdate struct {
	Fecha       *string `json:"fecha,omitempty"`
	Hora        *string `json:"hora,omitempty"`
	Motivo      *string `json:"motivo,omitempty"`
	Diagnostico *string `json:"diagnostico,omitempty"`
}

func (u AppointmentUpdate) empty() bool {
	return u.Fecha == nil && u.Hora == nil && u.Motivo == nil && u.Diagnostico == nil
}

// Reschedules reports whether the update moves the appointment.
func (u AppointmentUpdate) Reschedules() bool { return u.Fecha != nil || u.Hora != nil }

func (u AppointmentUpdate) Validate() error {
	if u.empty() {
		return apperr.Invalid("nothing to update")
	}
	return apperr.Validation(validation.ValidateStruct(&u,
		validation.Field(&u.Fecha, validation.NilOrNotEmpty, validation.Date(availability.DateLayout)),
		validation.Field(&u.Hora, validation.NilOrNotEmpty),
		validation.Field(&u.Motivo, validation.Length(0, 500)),
	))
}

// apply returns a copy of a with the update applied.
func (u AppointmentUpdate) apply(a Appointment) (Appointment, error) {
	if u.Fecha != nil {
		a.Fecha = *u.Fecha
	}
	if u.Hora != nil {
		h, err := availability.ParseTimeOfDay(*u.Hora)
		if err != nil {
			return a, err
		}
		a.Hora = h
	}
	if u.Motivo != nil {
		a.Motivo = *u.Motivo
	}
	if u.Diagnostico != nil {
		d := *u.Diagnostico
		a.Diagnostico = &d
	}
	return a, nil
}

// Filter narrows appointment listings. Zero fields match everything.
type Filter struct {
	Fecha       string
	Matricula   string
	PacienteNro int
	Status      lifecycle.Status
}

func (f Filter) match(a *Appointment) bool {
	switch {
	case f.Fecha != "" && a.Fecha != f.Fecha:
		return false
	case f.Matricula != "" && a.Matricula != f.Matricula:
		return false
	case f.PacienteNro != 0 && a.PacienteNro != f.PacienteNro:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	}
	return true
}

// Prescription (receta) belongs to one appointment.
type Prescription struct {
	ID          int                    `json:"id"`
	Fecha       string                 `json:"fecha"`
	Hora        availability.TimeOfDay `json:"hora"`
	PacienteNro int                    `json:"paciente_nro"`
	Items       []PrescriptionItem     `json:"items"`
}

func (p *Prescription) Key() Key {
	return Key{Fecha: p.Fecha, Hora: p.Hora, PacienteNro: p.PacienteNro}
}

func (p *Prescription) has(medicamentoID int) bool {
	for _, it := range p.Items {
		if it.MedicamentoID == medicamentoID {
			return true
		}
	}
	return false
}

type PrescriptionItem struct {
	MedicamentoID int    `json:"medicamento_id"`
	Dosis         string `json:"dosis,omitempty"`
}

func (it PrescriptionItem) Validate() error {
	return apperr.Validation(validation.ValidateStruct(&it,
		validation.Field(&it.MedicamentoID, validation.Required, validation.Min(1)),
		validation.Field(&it.Dosis, validation.Length(0, 200)),
	))
}

// Doctor is the part of a doctor record used for display.
type Doctor struct {
	Matricula string `json:"matricula"`
	Nombre    string `json:"nombre"`
	Apellido  string `json:"apellido"`
}

// Patient is the part of a patient record used for reminders.
type Patient struct {
	Nro      int    `json:"nro"`
	Nombre   string `json:"nombre"`
	Apellido string `json:"apellido"`
	Email    string `json:"email"`
}
