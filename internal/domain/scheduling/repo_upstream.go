package scheduling

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/upstream"
)

type upstreamRepo struct {
	client *upstream.Client
}

// NewUpstreamRepo maps the clinic service's turnos, recetas, medicos and
// pacientes endpoints.
func NewUpstreamRepo(client *upstream.Client) Repository {
	return &upstreamRepo{client: client}
}

func appointmentFromRecord(rec upstream.Record) (*Appointment, error) {
	hora, err := availability.ParseTimeOfDay(rec.String("Hora"))
	if err != nil {
		return nil, fmt.Errorf("appointment hora: %w", err)
	}
	nro, ok := rec.Int("Paciente_nroPaciente", "Paciente_Nro", "Nro_Paciente")
	if !ok {
		return nil, fmt.Errorf("appointment without patient number")
	}
	esp, _ := rec.Int("Especialidad_Id")
	dur, _ := rec.Int("Duracion")
	a := &Appointment{
		Fecha:                   rec.String("Fecha"),
		Hora:                    hora,
		PacienteNro:             nro,
		Matricula:               rec.String("Medico_Matricula", "Matricula"),
		EspecialidadID:          esp,
		SucursalID:              rec.IntPtr("Consultorio_Sucursal_Id", "Sucursal_Id"),
		ConsultorioNumero:       rec.IntPtr("Consultorio_Numero"),
		Minutes:                 dur,
		Motivo:                  rec.String("Motivo"),
		MedicoNombre:            rec.String("Medico_Nombre"),
		MedicoApellido:          rec.String("Medico_Apellido"),
		EspecialidadDescripcion: rec.String("Especialidad_Descripcion"),
	}
	if d := rec.String("Diagnostico"); d != "" {
		a.Diagnostico = &d
	}
	// Statuses this gateway does not know are kept verbatim; the state
	// machine then rejects every transition from them.
	raw := rec.String("Estado", "Estado_Descripcion")
	if st, err := lifecycle.ParseStatus(raw); err == nil {
		a.Status = st
	} else {
		a.Status = lifecycle.Status(raw)
	}
	return a, nil
}

func (r *upstreamRepo) Get(ctx context.Context, key Key) (*Appointment, error) {
	body, err := r.client.Get(ctx, key.path(), nil)
	if err != nil {
		return nil, err
	}
	rec, err := body.Record()
	if err != nil {
		return nil, err
	}
	return appointmentFromRecord(rec)
}

func (r *upstreamRepo) List(ctx context.Context, f Filter) ([]*Appointment, error) {
	q := url.Values{}
	if f.Fecha != "" {
		q.Set("fecha", f.Fecha)
	}
	if f.Matricula != "" {
		q.Set("medico_matricula", f.Matricula)
	}
	if f.PacienteNro != 0 {
		q.Set("paciente_nro", strconv.Itoa(f.PacienteNro))
	}
	body, err := r.client.Get(ctx, "/turnos/", q)
	if err != nil {
		return nil, err
	}
	recs, err := body.Records()
	if err != nil {
		return nil, err
	}
	out := make([]*Appointment, 0, len(recs))
	for _, rec := range recs {
		a, err := appointmentFromRecord(rec)
		if err != nil {
			continue
		}
		// The service may ignore some filters.
		if f.match(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fecha != out[j].Fecha {
			return out[i].Fecha < out[j].Fecha
		}
		return out[i].Hora < out[j].Hora
	})
	return out, nil
}

func (r *upstreamRepo) Create(ctx context.Context, a *Appointment) error {
	payload := map[string]any{
		"Fecha":                a.Fecha,
		"Hora":                 a.Hora.String(),
		"Paciente_nroPaciente": a.PacienteNro,
		"Medico_Matricula":     a.Matricula,
		"Especialidad_Id":      a.EspecialidadID,
		"Sucursal_Id":          a.SucursalID,
		"Duracion":             a.Minutes,
	}
	if a.Motivo != "" {
		payload["Motivo"] = a.Motivo
	}
	_, err := r.client.Post(ctx, "/turnos/", payload)
	return err
}

func (r *upstreamRepo) Transition(ctx context.Context, key Key, action lifecycle.Action) error {
	_, err := r.client.Patch(ctx, key.path()+"/"+string(action), nil)
	return err
}

func (r *upstreamRepo) Update(ctx context.Context, key Key, u AppointmentUpdate) error {
	payload := map[string]any{}
	if u.Fecha != nil {
		payload["Fecha"] = *u.Fecha
	}
	if u.Hora != nil {
		h, err := availability.ParseTimeOfDay(*u.Hora)
		if err != nil {
			return err
		}
		payload["Hora"] = h.String()
	}
	if u.Motivo != nil {
		payload["Motivo"] = *u.Motivo
	}
	if u.Diagnostico != nil {
		payload["Diagnostico"] = *u.Diagnostico
	}
	_, err := r.client.Put(ctx, key.path(), payload)
	return err
}

// -- Prescriptions --

func prescriptionFromRecord(rec upstream.Record) (*Prescription, error) {
	id, ok := rec.Int("Id", "Receta_Id")
	if !ok {
		return nil, fmt.Errorf("prescription without id")
	}
	hora, err := availability.ParseTimeOfDay(rec.String("Turno_Hora", "Hora"))
	if err != nil {
		return nil, fmt.Errorf("prescription hora: %w", err)
	}
	nro, _ := rec.Int("Turno_Paciente_nroPaciente", "Paciente_nroPaciente")
	p := &Prescription{
		ID:          id,
		Fecha:       rec.String("Turno_Fecha", "Fecha"),
		Hora:        hora,
		PacienteNro: nro,
		Items:       []PrescriptionItem{},
	}
	for _, it := range rec.Records("Medicamentos", "Items", "Detalles") {
		med, ok := it.Int("Medicamento_Id", "Id")
		if !ok {
			continue
		}
		p.Items = append(p.Items, PrescriptionItem{MedicamentoID: med, Dosis: it.String("Dosis")})
	}
	return p, nil
}

func (r *upstreamRepo) CreatePrescription(ctx context.Context, key Key) (*Prescription, error) {
	payload := map[string]any{
		"Turno_Fecha":                key.Fecha,
		"Turno_Hora":                 key.Hora.String(),
		"Turno_Paciente_nroPaciente": key.PacienteNro,
	}
	body, err := r.client.Post(ctx, "/recetas/", payload)
	if err != nil {
		return nil, err
	}
	rec, err := body.Record()
	if err != nil {
		return nil, err
	}
	return prescriptionFromRecord(rec)
}

func (r *upstreamRepo) GetPrescription(ctx context.Context, id int) (*Prescription, error) {
	body, err := r.client.Get(ctx, "/recetas/"+strconv.Itoa(id), nil)
	if err != nil {
		return nil, err
	}
	rec, err := body.Record()
	if err != nil {
		return nil, err
	}
	return prescriptionFromRecord(rec)
}

func (r *upstreamRepo) PrescriptionPDF(ctx context.Context, id int) ([]byte, error) {
	body, err := r.client.Get(ctx, "/recetas-pdf/"+strconv.Itoa(id)+"/pdf", nil)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (r *upstreamRepo) AddPrescriptionItem(ctx context.Context, prescriptionID int, item PrescriptionItem) error {
	payload := map[string]any{
		"Receta_Id":      prescriptionID,
		"Medicamento_Id": item.MedicamentoID,
	}
	if item.Dosis != "" {
		payload["Dosis"] = item.Dosis
	}
	_, err := r.client.Post(ctx, "/detalles_receta/", payload)
	return err
}

func (r *upstreamRepo) ListPrescriptions(ctx context.Context, key Key) ([]*Prescription, error) {
	path := "/recetas/turno/" + url.PathEscape(key.Fecha) + "/" + key.Hora.String() + "/" + strconv.Itoa(key.PacienteNro)
	body, err := r.client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	recs, err := body.Records()
	if err != nil {
		return nil, err
	}
	out := make([]*Prescription, 0, len(recs))
	for _, rec := range recs {
		p, err := prescriptionFromRecord(rec)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// -- People --

func (r *upstreamRepo) Doctor(ctx context.Context, matricula string) (*Doctor, error) {
	body, err := r.client.Get(ctx, "/medicos/"+url.PathEscape(matricula), nil)
	if err != nil {
		return nil, err
	}
	rec, err := body.Record()
	if err != nil {
		return nil, err
	}
	d := &Doctor{
		Matricula: rec.String("Matricula"),
		Nombre:    rec.String("Nombre"),
		Apellido:  rec.String("Apellido"),
	}
	if d.Matricula == "" {
		d.Matricula = matricula
	}
	return d, nil
}

func (r *upstreamRepo) Patient(ctx context.Context, nro int) (*Patient, error) {
	body, err := r.client.Get(ctx, "/pacientes/"+strconv.Itoa(nro), nil)
	if err != nil {
		return nil, err
	}
	rec, err := body.Record()
	if err != nil {
		return nil, err
	}
	p := &Patient{
		Nombre:   rec.String("Nombre"),
		Apellido: rec.String("Apellido"),
		Email:    rec.String("Email"),
	}
	p.Nro, _ = rec.Int("nroPaciente", "Nro_Paciente", "Nro")
	if p.Nro == 0 {
		p.Nro = nro
	}
	return p, nil
}
