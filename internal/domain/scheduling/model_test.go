package scheduling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/apperr"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("2025-03-04", "09:30", "42", art)
	require.NoError(t, err)
	assert.Equal(t, Key{Fecha: "2025-03-04", Hora: availability.Clock(9, 30), PacienteNro: 42}, k)
	assert.Equal(t, "/turnos/2025-03-04/09:30/42", k.path())
	assert.Equal(t, "2025-03-04 09:30 #42", k.String())
	assert.True(t, k.Start(art).Equal(time.Date(2025, 3, 4, 9, 30, 0, 0, art)))

	for _, bad := range [][3]string{
		{"2025-13-01", "09:00", "1"},
		{"2025-03-04", "9h", "1"},
		{"2025-03-04", "09:00", "cero"},
		{"2025-03-04", "09:00", "0"},
	} {
		_, err := ParseKey(bad[0], bad[1], bad[2], art)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%v", bad)
	}
}

func TestKey_StartOfInvalidDateIsZero(t *testing.T) {
	assert.True(t, Key{Fecha: "nope"}.Start(art).IsZero())
}

func TestAppointment_JSON(t *testing.T) {
	a := appt("2025-03-04", 9, 0, 42, lifecycle.Confirmado)
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "09:00", got["hora"])
	assert.Equal(t, "Confirmado", got["estado"])
	assert.Nil(t, got["diagnostico"])
	assert.Contains(t, got, "diagnostico")
	assert.NotContains(t, got, "sucursal_id")
}

func TestBookingRequest_Validate(t *testing.T) {
	valid := BookingRequest{Fecha: "2025-03-04", Hora: "09:00", Matricula: "MP-1", EspecialidadID: 1, PacienteNro: 42}
	require.NoError(t, valid.Validate())

	tests := map[string]func(r *BookingRequest){
		"fecha":            func(r *BookingRequest) { r.Fecha = "" },
		"fecha format":     func(r *BookingRequest) { r.Fecha = "2025/03/04" },
		"hora":             func(r *BookingRequest) { r.Hora = "" },
		"medico_matricula": func(r *BookingRequest) { r.Matricula = "" },
		"especialidad_id":  func(r *BookingRequest) { r.EspecialidadID = 0 },
		"paciente_nro":     func(r *BookingRequest) { r.PacienteNro = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := valid
			mutate(&r)
			assert.ErrorIs(t, r.Validate(), apperr.ErrValidation)
		})
	}
}

func TestAppointmentUpdate(t *testing.T) {
	assert.ErrorIs(t, AppointmentUpdate{}.Validate(), apperr.ErrValidation)
	assert.ErrorIs(t, AppointmentUpdate{Fecha: strptr("mañana")}.Validate(), apperr.ErrValidation)
	assert.NoError(t, AppointmentUpdate{Motivo: strptr("control")}.Validate())

	assert.False(t, AppointmentUpdate{Motivo: strptr("x")}.Reschedules())
	assert.True(t, AppointmentUpdate{Hora: strptr("10:00")}.Reschedules())

	base := appt("2025-03-04", 9, 0, 42, lifecycle.Pendiente)
	next, err := AppointmentUpdate{Fecha: strptr("2025-03-05"), Hora: strptr("10:30"), Diagnostico: strptr("gripe")}.apply(base)
	require.NoError(t, err)
	assert.Equal(t, key("2025-03-05", 10, 30, 42), next.Key())
	require.NotNil(t, next.Diagnostico)
	assert.Equal(t, "gripe", *next.Diagnostico)
	assert.Equal(t, key("2025-03-04", 9, 0, 42), base.Key(), "apply works on a copy")

	_, err = AppointmentUpdate{Hora: strptr("25:00")}.apply(base)
	assert.Error(t, err)
}

func TestFilter_Match(t *testing.T) {
	a := appt("2025-03-04", 9, 0, 42, lifecycle.Pendiente)
	assert.True(t, Filter{}.match(&a))
	assert.True(t, Filter{Fecha: "2025-03-04", Matricula: "MP-1", PacienteNro: 42, Status: lifecycle.Pendiente}.match(&a))
	assert.False(t, Filter{Fecha: "2025-03-05"}.match(&a))
	assert.False(t, Filter{Matricula: "MP-2"}.match(&a))
	assert.False(t, Filter{PacienteNro: 7}.match(&a))
	assert.False(t, Filter{Status: lifecycle.Cancelado}.match(&a))
}

func TestPrescription(t *testing.T) {
	p := &Prescription{ID: 3, Fecha: "2025-03-04", Hora: availability.Clock(9, 0), PacienteNro: 42,
		Items: []PrescriptionItem{{MedicamentoID: 10}}}
	assert.Equal(t, key("2025-03-04", 9, 0, 42), p.Key())
	assert.True(t, p.has(10))
	assert.False(t, p.has(11))

	assert.NoError(t, PrescriptionItem{MedicamentoID: 1, Dosis: "1 c/8h"}.Validate())
	assert.ErrorIs(t, PrescriptionItem{}.Validate(), apperr.ErrValidation)
}
