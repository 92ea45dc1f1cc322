// Package reporting computes administrative reports over the appointments
// of a date range.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/domain/scheduling"
	"github.com/clinica/turnos/internal/platform/apperr"
)

// MaxRangeDays bounds the range of one report.
const MaxRangeDays = 366

// Measure IDs.
const (
	MeasureMedico       = "medico"
	MeasureEspecialidad = "especialidad"
	MeasureAtendidos    = "atendidos"
	MeasureAsistencias  = "asistencias"
)

// ErrUnknownMeasure is returned for a report type that is not defined.
var ErrUnknownMeasure = errors.New("report type not supported")

// Source is where reports read appointments and patients from.
// scheduling.Repository satisfies it.
type Source interface {
	List(ctx context.Context, f scheduling.Filter) ([]*scheduling.Appointment, error)
	Patient(ctx context.Context, nro int) (*scheduling.Patient, error)
}

// MeasureDefinition describes one report type.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`

	evaluate func(s *Service, ctx context.Context, r *run) error
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string            `json:"measure_id"`
	MeasureName string            `json:"measure_name"`
	Desde       string            `json:"desde"`
	Hasta       string            `json:"hasta"`
	GeneratedAt time.Time         `json:"generated_at"`
	Total       int               `json:"total"`
	Results     []map[string]any  `json:"results"`
	Summary     map[string]any    `json:"summary,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reports.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          MeasureMedico,
		Name:        "Turnos por médico",
		Description: "Appointments in the range, for one doctor when matricula is given",
		Parameters:  []string{"matricula"},
		evaluate:    (*Service).byDoctor,
	},
	{
		ID:          MeasureEspecialidad,
		Name:        "Cantidad de turnos por especialidad",
		Description: "Number of appointments per specialty",
		Parameters:  []string{},
		evaluate:    (*Service).bySpecialty,
	},
	{
		ID:          MeasureAtendidos,
		Name:        "Pacientes atendidos y finalizados",
		Description: "Appointments that ended as Atendido or Finalizado",
		Parameters:  []string{},
		evaluate:    (*Service).attended,
	},
	{
		ID:          MeasureAsistencias,
		Name:        "Asistencia vs. inasistencia",
		Description: "Finalizado against Ausente appointments, with percentages",
		Parameters:  []string{},
		evaluate:    (*Service).attendance,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Request selects a measure and its range.
type Request struct {
	Type      string
	Desde     string
	Hasta     string
	Matricula string
}

type Service struct {
	source Source
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(source Source, loc *time.Location, logger zerolog.Logger) *Service {
	return &Service{source: source, loc: loc, now: time.Now, logger: logger}
}

// run carries one evaluation: the appointments of the range and the
// report being filled.
type run struct {
	appts    []*scheduling.Appointment
	report   *MeasureReport
	patients map[int]*scheduling.Patient
}

// Evaluate computes the report req asks for.
func (s *Service) Evaluate(ctx context.Context, req Request) (*MeasureReport, error) {
	measure := FindMeasure(req.Type)
	if measure == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeasure, req.Type)
	}
	days, err := s.days(req.Desde, req.Hasta)
	if err != nil {
		return nil, err
	}

	filter := scheduling.Filter{}
	if measure.ID == MeasureMedico {
		filter.Matricula = req.Matricula
	}
	appts, err := s.collect(ctx, filter, days)
	if err != nil {
		return nil, err
	}

	r := &run{
		appts: appts,
		report: &MeasureReport{
			MeasureID:   measure.ID,
			MeasureName: measure.Name,
			Desde:       days[0],
			Hasta:       days[len(days)-1],
			GeneratedAt: s.now(),
			Results:     []map[string]any{},
		},
		patients: make(map[int]*scheduling.Patient),
	}
	if measure.ID == MeasureMedico && req.Matricula != "" {
		r.report.Parameters = map[string]string{"matricula": req.Matricula}
	}
	if err := measure.evaluate(s, ctx, r); err != nil {
		return nil, err
	}
	r.report.Total = len(r.report.Results)
	return r.report, nil
}

// days expands desde..hasta into the dates it covers.
func (s *Service) days(desde, hasta string) ([]string, error) {
	if desde == "" || hasta == "" {
		return nil, apperr.Invalid("desde and hasta are required")
	}
	from, err := availability.ParseDate(desde, s.loc)
	if err != nil {
		return nil, err
	}
	to, err := availability.ParseDate(hasta, s.loc)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, apperr.Invalid("empty date range: hasta is before desde")
	}
	var out []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if len(out) == MaxRangeDays {
			return nil, apperr.Invalid(fmt.Sprintf("date range too long, at most %d days", MaxRangeDays))
		}
		out = append(out, d.Format(availability.DateLayout))
	}
	return out, nil
}

// collect lists the appointments of every day, in date and time order.
func (s *Service) collect(ctx context.Context, filter scheduling.Filter, days []string) ([]*scheduling.Appointment, error) {
	perDay := make([][]*scheduling.Appointment, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, day := range days {
		f := filter
		f.Fecha = day
		g.Go(func() error {
			list, err := s.source.List(gctx, f)
			perDay[i] = list
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*scheduling.Appointment
	for _, list := range perDay {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Hora != list[j].Hora {
				return list[i].Hora < list[j].Hora
			}
			return list[i].PacienteNro < list[j].PacienteNro
		})
		out = append(out, list...)
	}
	return out, nil
}

// patient looks a patient up once per run. Missing names are left blank.
func (s *Service) patient(ctx context.Context, r *run, nro int) *scheduling.Patient {
	if p, ok := r.patients[nro]; ok {
		return p
	}
	p, err := s.source.Patient(ctx, nro)
	if err != nil {
		s.logger.Debug().Err(err).Int("paciente_nro", nro).Msg("patient name not resolved for report")
		p = &scheduling.Patient{Nro: nro}
	}
	r.patients[nro] = p
	return p
}

func (s *Service) byDoctor(ctx context.Context, r *run) error {
	for _, a := range r.appts {
		p := s.patient(ctx, r, a.PacienteNro)
		r.report.Results = append(r.report.Results, map[string]any{
			"fecha":             a.Fecha,
			"hora":              a.Hora.String(),
			"medico_matricula":  a.Matricula,
			"paciente_nro":      a.PacienteNro,
			"paciente_nombre":   p.Nombre,
			"paciente_apellido": p.Apellido,
			"estado":            string(a.Status),
			"duracion":          a.Minutes,
		})
	}
	return nil
}

func (s *Service) bySpecialty(_ context.Context, r *run) error {
	type bucket struct {
		id    int
		name  string
		total int
	}
	buckets := map[int]*bucket{}
	for _, a := range r.appts {
		b, ok := buckets[a.EspecialidadID]
		if !ok {
			b = &bucket{id: a.EspecialidadID}
			buckets[a.EspecialidadID] = b
		}
		if b.name == "" {
			b.name = a.EspecialidadDescripcion
		}
		b.total++
	}
	list := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].total != list[j].total {
			return list[i].total > list[j].total
		}
		return list[i].id < list[j].id
	})
	for _, b := range list {
		r.report.Results = append(r.report.Results, map[string]any{
			"especialidad_id": b.id,
			"especialidad":    b.name,
			"total":           b.total,
		})
	}
	return nil
}

func (s *Service) attended(ctx context.Context, r *run) error {
	for _, a := range r.appts {
		if a.Status != lifecycle.Atendido && a.Status != lifecycle.Finalizado {
			continue
		}
		p := s.patient(ctx, r, a.PacienteNro)
		r.report.Results = append(r.report.Results, map[string]any{
			"fecha":             a.Fecha,
			"hora":              a.Hora.String(),
			"paciente_nro":      a.PacienteNro,
			"paciente_nombre":   p.Nombre,
			"paciente_apellido": p.Apellido,
			"estado":            string(a.Status),
		})
	}
	return nil
}

func (s *Service) attendance(_ context.Context, r *run) error {
	var present, absent int
	for _, a := range r.appts {
		switch a.Status {
		case lifecycle.Finalizado:
			present++
		case lifecycle.Ausente:
			absent++
		}
	}
	total := present + absent
	if total == 0 {
		r.report.Summary = map[string]any{"mensaje": "No hay turnos finalizados o ausentes en el periodo."}
		return nil
	}
	for _, row := range []struct {
		status lifecycle.Status
		n      int
	}{{lifecycle.Finalizado, present}, {lifecycle.Ausente, absent}} {
		if row.n == 0 {
			continue
		}
		r.report.Results = append(r.report.Results, map[string]any{"estado": string(row.status), "total": row.n})
	}
	r.report.Summary = map[string]any{
		"total_turnos_evaluados":  total,
		"asistencia_porcentaje":   percent(present, total),
		"inasistencia_porcentaje": percent(absent, total),
	}
	return nil
}

func percent(n, total int) string {
	return fmt.Sprintf("%.2f%%", float64(n)*100/float64(total))
}
