package reporting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/domain/scheduling"
	"github.com/clinica/turnos/internal/platform/apperr"
	"github.com/clinica/turnos/internal/platform/upstream"
)

var art = time.FixedZone("ART", -3*3600)

type fakeSource struct {
	mu       sync.Mutex
	appts    []scheduling.Appointment
	patients map[int]scheduling.Patient
	filters  []scheduling.Filter
	listErr  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{patients: map[int]scheduling.Patient{
		42: {Nro: 42, Nombre: "Ana", Apellido: "Pérez"},
		7:  {Nro: 7, Nombre: "Juan", Apellido: "Ruiz"},
	}}
}

func (f *fakeSource) add(fecha string, h, m, nro int, matricula string, esp int, st lifecycle.Status) {
	f.appts = append(f.appts, scheduling.Appointment{
		Fecha: fecha, Hora: availability.Clock(h, m), PacienteNro: nro,
		Matricula: matricula, EspecialidadID: esp, Minutes: 30, Status: st,
	})
}

func (f *fakeSource) List(_ context.Context, filter scheduling.Filter) ([]*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*scheduling.Appointment
	for i := range f.appts {
		a := f.appts[i]
		if a.Fecha != filter.Fecha || (filter.Matricula != "" && a.Matricula != filter.Matricula) {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

func (f *fakeSource) Patient(_ context.Context, nro int) (*scheduling.Patient, error) {
	p, ok := f.patients[nro]
	if !ok {
		return nil, &upstream.StatusError{Method: "GET", Path: "/pacientes/x", Status: 404}
	}
	return &p, nil
}

func newTestService(src Source) *Service {
	s := NewService(src, art, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, art) }
	return s
}

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{MeasureMedico, MeasureEspecialidad, MeasureAtendidos, MeasureAsistencias}
	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, id := range expectedIDs {
		m := PredefinedMeasures[i]
		if m.ID != id {
			t.Errorf("expected measure[%d].ID = %s, got %s", i, id, m.ID)
		}
		if m.Name == "" || m.Description == "" {
			t.Errorf("measure %s lacks a name or description", m.ID)
		}
		if m.evaluate == nil {
			t.Errorf("measure %s cannot be evaluated", m.ID)
		}
	}
}

func TestFindMeasure(t *testing.T) {
	if m := FindMeasure(MeasureAtendidos); m == nil || m.ID != MeasureAtendidos {
		t.Fatalf("expected to find %s, got %v", MeasureAtendidos, m)
	}
	if m := FindMeasure("nonexistent"); m != nil {
		t.Error("expected nil for nonexistent measure")
	}
}

func TestEvaluate_Range(t *testing.T) {
	src := newFakeSource()
	svc := newTestService(src)
	ctx := context.Background()

	_, err := svc.Evaluate(ctx, Request{Type: MeasureAtendidos, Desde: "2025-03-05", Hasta: "2025-03-04"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Evaluate(ctx, Request{Type: MeasureAtendidos, Desde: "2025-03-05"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Evaluate(ctx, Request{Type: MeasureAtendidos, Desde: "05/03/2025", Hasta: "2025-03-06"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Evaluate(ctx, Request{Type: MeasureAtendidos, Desde: "2024-01-01", Hasta: "2025-01-01"})
	assert.ErrorIs(t, err, apperr.ErrValidation, "367 days")

	_, err = svc.Evaluate(ctx, Request{Type: "facturacion", Desde: "2025-03-03", Hasta: "2025-03-03"})
	assert.ErrorIs(t, err, ErrUnknownMeasure)

	src.filters = nil
	rep, err := svc.Evaluate(ctx, Request{Type: MeasureEspecialidad, Desde: "2025-03-03", Hasta: "2025-03-05"})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03", rep.Desde)
	assert.Equal(t, "2025-03-05", rep.Hasta)
	assert.NotNil(t, rep.Results)
	assert.Equal(t, 0, rep.Total)

	var days []string
	for _, f := range src.filters {
		days = append(days, f.Fecha)
	}
	sort.Strings(days)
	assert.Equal(t, []string{"2025-03-03", "2025-03-04", "2025-03-05"}, days)
}

func TestEvaluate_Medico(t *testing.T) {
	src := newFakeSource()
	src.add("2025-03-04", 10, 0, 7, "MP-1", 1, lifecycle.Pendiente)
	src.add("2025-03-03", 9, 0, 42, "MP-1", 1, lifecycle.Finalizado)
	src.add("2025-03-03", 9, 30, 99, "MP-1", 1, lifecycle.Confirmado)
	src.add("2025-03-03", 9, 0, 7, "MP-2", 2, lifecycle.Pendiente)
	svc := newTestService(src)

	rep, err := svc.Evaluate(context.Background(), Request{Type: MeasureMedico, Desde: "2025-03-03", Hasta: "2025-03-04", Matricula: "MP-1"})
	require.NoError(t, err)
	require.Equal(t, 3, rep.Total)
	assert.Equal(t, map[string]string{"matricula": "MP-1"}, rep.Parameters)
	assert.Equal(t, "2025-03-03", rep.Results[0]["fecha"])
	assert.Equal(t, "09:00", rep.Results[0]["hora"])
	assert.Equal(t, "Ana", rep.Results[0]["paciente_nombre"])
	assert.Equal(t, "Finalizado", rep.Results[0]["estado"])
	assert.Equal(t, "", rep.Results[1]["paciente_nombre"], "unknown patient left blank")
	assert.Equal(t, 7, rep.Results[2]["paciente_nro"])
	for _, f := range src.filters {
		assert.Equal(t, "MP-1", f.Matricula)
	}

	all, err := svc.Evaluate(context.Background(), Request{Type: MeasureMedico, Desde: "2025-03-03", Hasta: "2025-03-04"})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.Nil(t, all.Parameters)
}

func TestEvaluate_Especialidad(t *testing.T) {
	src := newFakeSource()
	src.add("2025-03-03", 9, 0, 42, "MP-1", 1, lifecycle.Pendiente)
	src.appts[0].EspecialidadDescripcion = "Clínica"
	src.add("2025-03-03", 9, 30, 7, "MP-1", 1, lifecycle.Cancelado)
	src.add("2025-03-04", 9, 0, 7, "MP-2", 3, lifecycle.Pendiente)
	svc := newTestService(src)

	rep, err := svc.Evaluate(context.Background(), Request{Type: MeasureEspecialidad, Desde: "2025-03-03", Hasta: "2025-03-04", Matricula: "MP-1"})
	require.NoError(t, err)
	assert.Nil(t, rep.Parameters, "matricula only applies to the doctor report")
	assert.Equal(t, []map[string]any{
		{"especialidad_id": 1, "especialidad": "Clínica", "total": 2},
		{"especialidad_id": 3, "especialidad": "", "total": 1},
	}, rep.Results)
}

func TestEvaluate_Atendidos(t *testing.T) {
	src := newFakeSource()
	src.add("2025-03-03", 9, 0, 42, "MP-1", 1, lifecycle.Finalizado)
	src.add("2025-03-03", 9, 30, 7, "MP-1", 1, lifecycle.Atendido)
	src.add("2025-03-03", 10, 0, 7, "MP-1", 1, lifecycle.Ausente)
	src.add("2025-03-03", 10, 30, 42, "MP-1", 1, lifecycle.Confirmado)
	svc := newTestService(src)

	rep, err := svc.Evaluate(context.Background(), Request{Type: MeasureAtendidos, Desde: "2025-03-03", Hasta: "2025-03-03"})
	require.NoError(t, err)
	require.Equal(t, 2, rep.Total)
	assert.Equal(t, "Finalizado", rep.Results[0]["estado"])
	assert.Equal(t, "Ruiz", rep.Results[1]["paciente_apellido"])
}

func TestEvaluate_Asistencias(t *testing.T) {
	src := newFakeSource()
	svc := newTestService(src)
	ctx := context.Background()
	req := Request{Type: MeasureAsistencias, Desde: "2025-03-03", Hasta: "2025-03-07"}

	rep, err := svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Total)
	assert.Contains(t, rep.Summary, "mensaje")

	src.add("2025-03-03", 9, 0, 42, "MP-1", 1, lifecycle.Finalizado)
	src.add("2025-03-04", 9, 0, 42, "MP-1", 1, lifecycle.Finalizado)
	src.add("2025-03-05", 9, 0, 42, "MP-1", 1, lifecycle.Ausente)
	src.add("2025-03-06", 9, 0, 42, "MP-1", 1, lifecycle.Cancelado)

	rep, err = svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"estado": "Finalizado", "total": 2},
		{"estado": "Ausente", "total": 1},
	}, rep.Results)
	assert.Equal(t, 3, rep.Summary["total_turnos_evaluados"])
	assert.Equal(t, "66.67%", rep.Summary["asistencia_porcentaje"])
	assert.Equal(t, "33.33%", rep.Summary["inasistencia_porcentaje"])
}

func TestEvaluate_SourceError(t *testing.T) {
	src := newFakeSource()
	src.listErr = errors.New("boom")
	_, err := newTestService(src).Evaluate(context.Background(), Request{Type: MeasureAtendidos, Desde: "2025-03-03", Hasta: "2025-03-04"})
	assert.EqualError(t, err, "boom")
}
