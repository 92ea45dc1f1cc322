package availability

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/upstream"
)

type upstreamRepo struct {
	client *upstream.Client
	loc    *time.Location
}

// NewUpstreamRepo maps the clinic service's agenda endpoints. Dates and
// times it returns are wall-clock values in loc.
func NewUpstreamRepo(client *upstream.Client, loc *time.Location) Repository {
	return &upstreamRepo{client: client, loc: loc}
}

func agendaPath(matricula, kind string) string {
	return "/medicos/" + url.PathEscape(matricula) + "/agenda/" + kind
}

func (r *upstreamRepo) ListRegular(ctx context.Context, matricula string) ([]RegularEntry, error) {
	body, err := r.client.Get(ctx, agendaPath(matricula, "regular"), nil)
	if err != nil {
		return nil, err
	}
	recs, err := body.Records()
	if err != nil {
		return nil, err
	}
	out := make([]RegularEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := regularFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if e.Matricula == "" {
			e.Matricula = matricula
		}
		out = append(out, e)
	}
	return out, nil
}

func regularFromRecord(rec upstream.Record) (RegularEntry, error) {
	start, err := ParseTimeOfDay(rec.String("Hora_inicio"))
	if err != nil {
		return RegularEntry{}, fmt.Errorf("regular agenda hora_inicio: %w", err)
	}
	end, err := ParseTimeOfDay(rec.String("Hora_fin"))
	if err != nil {
		return RegularEntry{}, fmt.Errorf("regular agenda hora_fin: %w", err)
	}
	esp, _ := rec.Int("Especialidad_Id")
	day, _ := rec.Int("Dia_de_semana")
	dur, _ := rec.Int("Duracion")
	return RegularEntry{
		Matricula:      rec.String("Medico_Matricula", "Matricula"),
		EspecialidadID: esp,
		Weekday:        day,
		Start:          start,
		End:            end,
		SlotMinutes:    dur,
		SucursalID:     rec.IntPtr("Sucursal_Id"),
	}, nil
}

func (r *upstreamRepo) CreateRegular(ctx context.Context, e RegularEntry) (RegularEntry, error) {
	payload := map[string]any{
		"Especialidad_Id": e.EspecialidadID,
		"Dia_de_semana":   e.Weekday,
		"Hora_inicio":     e.Start.String(),
		"Hora_fin":        e.End.String(),
		"Duracion":        e.SlotMinutes,
		"Sucursal_Id":     e.SucursalID,
	}
	body, err := r.client.Post(ctx, agendaPath(e.Matricula, "regular"), payload)
	if err != nil {
		return RegularEntry{}, err
	}
	rec, err := body.Record()
	if err != nil || rec.String("Hora_inicio") == "" {
		return e, nil
	}
	created, err := regularFromRecord(rec)
	if err != nil {
		return e, nil
	}
	if created.Matricula == "" {
		created.Matricula = e.Matricula
	}
	return created, nil
}

func (r *upstreamRepo) DeleteRegular(ctx context.Context, matricula string, key RegularKey) error {
	q := url.Values{
		"especialidad_id": {strconv.Itoa(key.EspecialidadID)},
		"dia_de_semana":   {strconv.Itoa(key.Weekday)},
		"hora_inicio":     {key.Start.String()},
	}
	return r.client.Delete(ctx, agendaPath(matricula, "regular")+"/item", q)
}

func (r *upstreamRepo) ListExceptional(ctx context.Context, matricula string) ([]ExceptionalEntry, error) {
	body, err := r.client.Get(ctx, agendaPath(matricula, "excepcional"), nil)
	if err != nil {
		return nil, err
	}
	recs, err := body.Records()
	if err != nil {
		return nil, err
	}
	out := make([]ExceptionalEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := r.exceptionalFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if e.Matricula == "" {
			e.Matricula = matricula
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *upstreamRepo) exceptionalFromRecord(rec upstream.Record) (ExceptionalEntry, error) {
	start, err := r.dateTime(rec.String("Fecha_inicio"), rec.String("Hora_inicio"))
	if err != nil {
		return ExceptionalEntry{}, fmt.Errorf("exceptional agenda start: %w", err)
	}
	end, err := r.dateTime(rec.String("Fecha_Fin"), rec.String("Hora_Fin"))
	if err != nil {
		return ExceptionalEntry{}, fmt.Errorf("exceptional agenda end: %w", err)
	}
	kind := ExtraAvailability
	if available, ok := rec.Bool("Es_Disponible"); ok && !available {
		kind = Unavailability
	}
	esp, _ := rec.Int("Especialidad_Id")
	dur, _ := rec.Int("Duracion")
	return ExceptionalEntry{
		Matricula:         rec.String("Medico_Matricula", "Matricula"),
		EspecialidadID:    esp,
		Start:             start,
		End:               end,
		Kind:              kind,
		SlotMinutes:       dur,
		SucursalID:        rec.IntPtr("Consultorio_Sucursal_Id", "Sucursal_Id"),
		ConsultorioNumero: rec.IntPtr("Consultorio_Numero"),
		Motivo:            rec.String("Motivo"),
	}, nil
}

func (r *upstreamRepo) dateTime(fecha, hora string) (time.Time, error) {
	day, err := ParseDate(fecha, r.loc)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTimeOfDay(hora)
	if err != nil {
		return time.Time{}, err
	}
	return t.On(day), nil
}

func (r *upstreamRepo) CreateExceptional(ctx context.Context, e ExceptionalEntry) (ExceptionalEntry, error) {
	start, end := e.Start.In(r.loc), e.End.In(r.loc)
	disponible := 0
	if e.Kind == ExtraAvailability {
		disponible = 1
	}
	payload := map[string]any{
		"Fecha_inicio":            start.Format(DateLayout),
		"Hora_inicio":             TimeOf(start).String(),
		"Fecha_Fin":               end.Format(DateLayout),
		"Hora_Fin":                TimeOf(end).String(),
		"Es_Disponible":           disponible,
		"Especialidad_Id":         e.EspecialidadID,
		"Consultorio_Numero":      e.ConsultorioNumero,
		"Consultorio_Sucursal_Id": e.SucursalID,
	}
	if e.Motivo != "" {
		payload["Motivo"] = e.Motivo
	}
	if e.SlotMinutes > 0 {
		payload["Duracion"] = e.SlotMinutes
	}
	if _, err := r.client.Post(ctx, agendaPath(e.Matricula, "excepcional"), payload); err != nil {
		return ExceptionalEntry{}, err
	}
	return e, nil
}

func (r *upstreamRepo) DeleteExceptional(ctx context.Context, matricula string, key ExceptionalKey) error {
	start := key.Start.In(r.loc)
	q := url.Values{
		"especialidad_id": {strconv.Itoa(key.EspecialidadID)},
		"fecha_inicio":    {start.Format(DateLayout)},
		"hora_inicio":     {TimeOf(start).String()},
	}
	return r.client.Delete(ctx, agendaPath(matricula, "excepcional")+"/item", q)
}

func (r *upstreamRepo) Bookings(ctx context.Context, matricula string, fecha time.Time) ([]Booking, error) {
	day := fecha.In(r.loc).Format(DateLayout)
	q := url.Values{"fecha": {day}, "medico_matricula": {matricula}}
	body, err := r.client.Get(ctx, "/turnos/", q)
	if err != nil {
		return nil, err
	}
	recs, err := body.Records()
	if err != nil {
		return nil, err
	}
	var out []Booking
	for _, rec := range recs {
		// Filters may be ignored by the service; keep only this doctor and day.
		if m := rec.String("Medico_Matricula", "Matricula"); m != "" && m != matricula {
			continue
		}
		if f := rec.String("Fecha"); f != "" && f != day {
			continue
		}
		// Unknown statuses keep their slot taken.
		st, err := lifecycle.ParseStatus(rec.String("Estado", "Estado_Descripcion"))
		if err != nil {
			st = lifecycle.Pendiente
		}
		hora, err := ParseTimeOfDay(rec.String("Hora"))
		if err != nil {
			if st == lifecycle.Cancelado {
				continue
			}
			// A held booking that cannot be placed could be on any slot.
			return nil, fmt.Errorf("booking of %s on %s has an unreadable hora %q: %v", matricula, day, rec.String("Hora"), err)
		}
		out = append(out, Booking{Fecha: day, Hora: hora, Status: st})
	}
	return out, nil
}

func (r *upstreamRepo) Offered(ctx context.Context, matricula string, fecha time.Time) ([]Slot, error) {
	day := fecha.In(r.loc).Format(DateLayout)
	body, err := r.client.Get(ctx, agendaPath(matricula, "disponible"), url.Values{"fecha": {day}})
	if err != nil {
		return nil, err
	}
	recs, err := body.Records()
	if err != nil {
		return nil, err
	}
	out := make([]Slot, 0, len(recs))
	for _, rec := range recs {
		hora, err := ParseTimeOfDay(rec.String("Hora"))
		if err != nil {
			continue
		}
		esp, _ := rec.Int("Especialidad_Id")
		dur, _ := rec.Int("Duracion")
		f := rec.String("Fecha")
		if f == "" {
			f = day
		}
		out = append(out, Slot{
			Fecha:          f,
			Hora:           hora,
			Minutes:        dur,
			EspecialidadID: esp,
			SucursalID:     rec.IntPtr("Sucursal_Id"),
		})
	}
	return out, nil
}
