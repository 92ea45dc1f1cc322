package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/apperr"
	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/internal/platform/cache"
	"github.com/clinica/turnos/internal/platform/journal"
	"github.com/clinica/turnos/internal/platform/middleware"
	"github.com/clinica/turnos/internal/platform/upstream"
	"github.com/clinica/turnos/pkg/pagination"
)

// ErrNotOwner is returned when a patient or doctor touches an appointment
// that is not theirs. It matches lifecycle.ErrNotPermitted.
var ErrNotOwner = fmt.Errorf("%w: the appointment belongs to someone else", lifecycle.ErrNotPermitted)

// ErrWriteUnconfirmed marks a write that left for the clinic service but got
// no answer. It may still have been applied.
var ErrWriteUnconfirmed = errors.New("write not confirmed by the clinic service")

// SlotFinder reports whether a slot is currently offered.
type SlotFinder interface {
	Lookup(ctx context.Context, matricula string, especialidad int, fecha time.Time, hora availability.TimeOfDay) (availability.Slot, bool, error)
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every write in j.
func WithJournal(j journal.Store) Option {
	return func(s *Service) { s.journal = j }
}

// WithCache caches doctor names in c.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.names.cache = c }
}

// WithWriteTimeout bounds writes once they detach from the caller.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) { s.writeTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
		s.names.logger = l
	}
}

type Service struct {
	repo         Repository
	slots        SlotFinder
	machine      *lifecycle.Machine
	journal      journal.Store
	names        *names
	writeTimeout time.Duration
	logger       zerolog.Logger
}

func NewService(repo Repository, slots SlotFinder, machine *lifecycle.Machine, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		slots:        slots,
		machine:      machine,
		names:        &names{repo: repo, logger: zerolog.Nop()},
		writeTimeout: 15 * time.Second,
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) loc() *time.Location { return s.machine.Location() }

// write runs fn detached from the caller's cancellation, so that a client
// hanging up does not abort a write halfway.
func (s *Service) write(ctx context.Context, fn func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	err := fn(wctx)
	if upstream.Ambiguous(err) {
		return fmt.Errorf("%w: %w", ErrWriteUnconfirmed, err)
	}
	return err
}

func (s *Service) record(ctx context.Context, sess auth.Session, op journal.Operation, key Key, action string, payload any, err error) {
	if s.journal == nil {
		return
	}
	e := &journal.Entry{
		RequestID:   middleware.RequestIDFromContext(ctx),
		ActorRole:   string(sess.Role),
		ActorID:     sess.ID,
		Operation:   op,
		Fecha:       key.Fecha,
		Hora:        key.Hora.String(),
		PacienteNro: key.PacienteNro,
		Action:      action,
	}
	if payload != nil {
		if raw, merr := json.Marshal(payload); merr == nil {
			e.Payload = raw
		}
	}
	e.SetError(err)
	if jerr := s.journal.Create(context.WithoutCancel(ctx), e); jerr != nil {
		s.logger.Error().Err(jerr).
			Str("operation", string(op)).
			Str("turno", key.String()).
			Str("outcome", string(e.Outcome)).
			Msg("journal write failed")
	}
	if e.Outcome == journal.OutcomeUnknown {
		s.logger.Warn().Err(err).Str("operation", string(op)).Str("turno", key.String()).Msg("write outcome unknown")
	}
}

func patientNumber(sess auth.Session) (int, error) {
	n, err := strconv.Atoi(sess.ID)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: session has no patient number", lifecycle.ErrNotPermitted)
	}
	return n, nil
}

func owns(sess auth.Session, a *Appointment) bool {
	switch sess.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleDoctor:
		return a.Matricula == sess.ID
	case auth.RolePatient:
		return strconv.Itoa(a.PacienteNro) == sess.ID
	}
	return false
}

func staff(role auth.Role) bool { return role == auth.RoleDoctor || role == auth.RoleAdmin }

// load reads an appointment the session is allowed to see.
func (s *Service) load(ctx context.Context, sess auth.Session, key Key) (*Appointment, error) {
	a, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if a.Fecha == "" {
		a.Fecha = key.Fecha
	}
	if !owns(sess, a) {
		return nil, ErrNotOwner
	}
	return a, nil
}

// slotOffered checks fecha/hora against the doctor's current availability.
func (s *Service) slotOffered(ctx context.Context, matricula string, especialidad int, key Key) (availability.Slot, error) {
	if key.Start(s.loc()).Before(s.machine.Now()) {
		return availability.Slot{}, lifecycle.ErrAppointmentExpired
	}
	day, err := availability.ParseDate(key.Fecha, s.loc())
	if err != nil {
		return availability.Slot{}, err
	}
	slot, ok, err := s.slots.Lookup(ctx, matricula, especialidad, day, key.Hora)
	if err != nil {
		return availability.Slot{}, err
	}
	if !ok {
		return availability.Slot{}, ErrSlotConflict
	}
	return slot, nil
}

func conflictAsSlot(err error) error {
	if errors.Is(err, upstream.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrSlotConflict, err)
	}
	return err
}

// -- Booking --

// Book creates an appointment in Pendiente. Patients always book for
// themselves; staff may ask for it to be confirmed right away.
func (s *Service) Book(ctx context.Context, sess auth.Session, req BookingRequest) (*Appointment, error) {
	switch sess.Role {
	case auth.RolePatient:
		nro, err := patientNumber(sess)
		if err != nil {
			return nil, err
		}
		req.PacienteNro = nro
		req.Confirmar = false
	case auth.RoleDoctor:
		if req.Matricula != "" && req.Matricula != sess.ID {
			return nil, ErrNotOwner
		}
		req.Matricula = sess.ID
	case auth.RoleAdmin:
	default:
		return nil, lifecycle.ErrNotPermitted
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hora, err := availability.ParseTimeOfDay(req.Hora)
	if err != nil {
		return nil, err
	}
	key := Key{Fecha: req.Fecha, Hora: hora, PacienteNro: req.PacienteNro}

	slot, err := s.slotOffered(ctx, req.Matricula, req.EspecialidadID, key)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		Fecha:          key.Fecha,
		Hora:           key.Hora,
		PacienteNro:    key.PacienteNro,
		Matricula:      req.Matricula,
		EspecialidadID: req.EspecialidadID,
		SucursalID:     slot.SucursalID,
		Minutes:        slot.Minutes,
		Motivo:         req.Motivo,
		Status:         lifecycle.Pendiente,
	}
	err = s.write(ctx, func(wctx context.Context) error { return s.repo.Create(wctx, a) })
	s.record(ctx, sess, journal.OpBook, key, "", req, err)
	if err != nil {
		return nil, conflictAsSlot(err)
	}
	s.logger.Info().Str("turno", key.String()).Str("matricula", a.Matricula).Str("by", string(sess.Role)).Msg("appointment booked")

	if req.Confirmar {
		if err := s.transition(ctx, sess, a, lifecycle.Confirmar); err != nil {
			s.logger.Warn().Err(err).Str("turno", key.String()).Msg("appointment booked but not confirmed")
		}
	}
	s.names.enrich(ctx, a)
	return a, nil
}

// -- Status transitions --

func (s *Service) transition(ctx context.Context, sess auth.Session, a *Appointment, action lifecycle.Action) error {
	to := action.Target()
	key := a.Key()
	if err := s.machine.Check(a.Status, key.Start(s.loc()), sess.Role, to); err != nil {
		return err
	}
	err := s.write(ctx, func(wctx context.Context) error { return s.repo.Transition(wctx, key, action) })
	s.record(ctx, sess, journal.OpTransition, key, string(action), nil, err)
	if err != nil {
		return err
	}
	s.logger.Info().Str("turno", key.String()).Str("from", string(a.Status)).Str("to", string(to)).Str("by", string(sess.Role)).Msg("appointment status changed")
	a.Status = to
	return nil
}

// Transition applies action to the appointment at key.
func (s *Service) Transition(ctx context.Context, sess auth.Session, key Key, action lifecycle.Action) (*Appointment, error) {
	if action.Target() == "" {
		return nil, apperr.Invalid(fmt.Sprintf("unknown action %q", action))
	}
	a, err := s.load(ctx, sess, key)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, sess, a, action); err != nil {
		return nil, err
	}
	s.names.enrich(ctx, a)
	return a, nil
}

// Actions lists what the session can do with the appointment right now.
func (s *Service) Actions(ctx context.Context, sess auth.Session, key Key) ([]lifecycle.Action, error) {
	a, err := s.load(ctx, sess, key)
	if err != nil {
		return nil, err
	}
	actions := s.machine.Available(a.Status, key.Start(s.loc()), sess.Role)
	if actions == nil {
		actions = []lifecycle.Action{}
	}
	return actions, nil
}

// -- Edits --

// Update changes date, time, reason or diagnosis. Only staff may write a
// diagnosis; moving the appointment requires the new slot to be offered.
func (s *Service) Update(ctx context.Context, sess auth.Session, key Key, u AppointmentUpdate) (*Appointment, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.Diagnostico != nil && !staff(sess.Role) {
		return nil, fmt.Errorf("%w: only doctors write diagnoses", lifecycle.ErrNotPermitted)
	}
	a, err := s.load(ctx, sess, key)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckEditable(a.Status); err != nil {
		return nil, err
	}
	next, err := u.apply(*a)
	if err != nil {
		return nil, err
	}
	if next.Key() != key {
		if _, err := s.slotOffered(ctx, a.Matricula, a.EspecialidadID, next.Key()); err != nil {
			return nil, err
		}
	}

	err = s.write(ctx, func(wctx context.Context) error { return s.repo.Update(wctx, key, u) })
	s.record(ctx, sess, journal.OpUpdate, key, "", u, err)
	if err != nil {
		return nil, conflictAsSlot(err)
	}
	s.names.enrich(ctx, &next)
	return &next, nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, sess auth.Session, key Key) (*Appointment, error) {
	a, err := s.load(ctx, sess, key)
	if err != nil {
		return nil, err
	}
	s.names.enrich(ctx, a)
	return a, nil
}

// ListForSession lists the appointments the session may see: a patient's
// own, a doctor's own, or any for admins. f narrows the listing further.
func (s *Service) ListForSession(ctx context.Context, sess auth.Session, f Filter, limit, offset int) ([]*Appointment, int, error) {
	switch sess.Role {
	case auth.RolePatient:
		nro, err := patientNumber(sess)
		if err != nil {
			return nil, 0, err
		}
		f.PacienteNro = nro
	case auth.RoleDoctor:
		f.Matricula = sess.ID
	case auth.RoleAdmin:
	default:
		return nil, 0, lifecycle.ErrNotPermitted
	}
	all, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	start, end := pagination.Window(total, limit, offset)
	page := all[start:end]
	s.names.enrich(ctx, page...)
	return page, total, nil
}

// -- Prescriptions --

type prescriptionPayload struct {
	ID    int                `json:"receta_id,omitempty"`
	Items []PrescriptionItem `json:"items,omitempty"`
}

func validateItems(items []PrescriptionItem) error {
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	return nil
}

// openForPrescriptions loads an appointment a doctor may prescribe on.
func (s *Service) openForPrescriptions(ctx context.Context, sess auth.Session, key Key) (*Appointment, error) {
	if !staff(sess.Role) {
		return nil, fmt.Errorf("%w: only doctors write prescriptions", lifecycle.ErrNotPermitted)
	}
	a, err := s.load(ctx, sess, key)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckPrescriptions(a.Status); err != nil {
		return nil, err
	}
	return a, nil
}

// PartialPrescriptionError is returned when a prescription was created but
// not all of its items were written. Prescription holds what the clinic
// service has; the rest go through AddPrescriptionItem.
type PartialPrescriptionError struct {
	Prescription *Prescription
	Pending      []PrescriptionItem
	Err          error
}

func (e *PartialPrescriptionError) Error() string {
	written := len(e.Prescription.Items)
	return fmt.Sprintf("prescription %d written with %d of %d items: %v",
		e.Prescription.ID, written, written+len(e.Pending), e.Err)
}

func (e *PartialPrescriptionError) Unwrap() error { return e.Err }

// CreatePrescription writes a prescription with its items for an attended
// appointment. The prescription and each item are separate writes upstream
// and are journaled one by one. When an item fails the error is a
// *PartialPrescriptionError.
func (s *Service) CreatePrescription(ctx context.Context, sess auth.Session, key Key, items []PrescriptionItem) (*Prescription, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if _, err := s.openForPrescriptions(ctx, sess, key); err != nil {
		return nil, err
	}

	var p *Prescription
	err := s.write(ctx, func(wctx context.Context) error {
		var err error
		p, err = s.repo.CreatePrescription(wctx, key)
		return err
	})
	var created prescriptionPayload
	if p != nil {
		created.ID = p.ID
	}
	s.record(ctx, sess, journal.OpPrescription, key, "create", created, err)
	if err != nil {
		return nil, err
	}
	if p.Items == nil {
		p.Items = []PrescriptionItem{}
	}

	for i, it := range items {
		err := s.write(ctx, func(wctx context.Context) error { return s.repo.AddPrescriptionItem(wctx, p.ID, it) })
		s.record(ctx, sess, journal.OpPrescription, key, "item", prescriptionPayload{ID: p.ID, Items: []PrescriptionItem{it}}, err)
		if err != nil {
			s.logger.Warn().Err(err).Str("turno", key.String()).Int("receta", p.ID).
				Int("written", len(p.Items)).Int("pending", len(items)-i).
				Msg("prescription written partially")
			return p, &PartialPrescriptionError{Prescription: p, Pending: items[i:], Err: err}
		}
		p.Items = append(p.Items, it)
	}
	return p, nil
}

// AddPrescriptionItem adds one medication to an existing prescription.
func (s *Service) AddPrescriptionItem(ctx context.Context, sess auth.Session, prescriptionID int, item PrescriptionItem) (*Prescription, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if !staff(sess.Role) {
		return nil, fmt.Errorf("%w: only doctors write prescriptions", lifecycle.ErrNotPermitted)
	}
	p, err := s.repo.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	key := p.Key()
	if _, err := s.openForPrescriptions(ctx, sess, key); err != nil {
		return nil, err
	}

	err = s.write(ctx, func(wctx context.Context) error { return s.repo.AddPrescriptionItem(wctx, prescriptionID, item) })
	s.record(ctx, sess, journal.OpPrescription, key, "item", prescriptionPayload{ID: prescriptionID, Items: []PrescriptionItem{item}}, err)
	if err != nil {
		return nil, err
	}
	p.Items = append(p.Items, item)
	return p, nil
}

// ListPrescriptions lists the prescriptions of an appointment the session
// may see.
func (s *Service) ListPrescriptions(ctx context.Context, sess auth.Session, key Key) ([]*Prescription, error) {
	if _, err := s.load(ctx, sess, key); err != nil {
		return nil, err
	}
	return s.repo.ListPrescriptions(ctx, key)
}

// PrescriptionPDF returns the printable prescription id to a session that
// may see its appointment.
func (s *Service) PrescriptionPDF(ctx context.Context, sess auth.Session, id int) ([]byte, error) {
	p, err := s.repo.GetPrescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, sess, p.Key()); err != nil {
		return nil, err
	}
	return s.repo.PrescriptionPDF(ctx, id)
}

// -- Journal verification --

// Verify reads a journaled write back and tells whether it took effect.
func (s *Service) Verify(ctx context.Context, e *journal.Entry) (journal.Outcome, error) {
	hora, err := availability.ParseTimeOfDay(e.Hora)
	if err != nil {
		return journal.OutcomeUnknown, err
	}
	key := Key{Fecha: e.Fecha, Hora: hora, PacienteNro: e.PacienteNro}

	switch e.Operation {
	case journal.OpBook:
		return s.exists(ctx, key)

	case journal.OpTransition:
		a, err := s.repo.Get(ctx, key)
		if err != nil {
			return journal.OutcomeUnknown, err
		}
		if a.Status == lifecycle.Action(e.Action).Target() {
			return journal.OutcomeOK, nil
		}
		return journal.OutcomeFailed, nil

	case journal.OpUpdate:
		var u AppointmentUpdate
		if err := json.Unmarshal(e.Payload, &u); err != nil {
			return journal.OutcomeUnknown, fmt.Errorf("decode update payload: %w", err)
		}
		want, err := u.apply(Appointment{Fecha: key.Fecha, Hora: key.Hora, PacienteNro: key.PacienteNro})
		if err != nil {
			return journal.OutcomeUnknown, err
		}
		a, err := s.repo.Get(ctx, want.Key())
		if errors.Is(err, upstream.ErrNotFound) {
			return journal.OutcomeFailed, nil
		}
		if err != nil {
			return journal.OutcomeUnknown, err
		}
		if u.Motivo != nil && a.Motivo != *u.Motivo {
			return journal.OutcomeFailed, nil
		}
		if u.Diagnostico != nil && (a.Diagnostico == nil || *a.Diagnostico != *u.Diagnostico) {
			return journal.OutcomeFailed, nil
		}
		return journal.OutcomeOK, nil

	case journal.OpPrescription:
		var p prescriptionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return journal.OutcomeUnknown, fmt.Errorf("decode prescription payload: %w", err)
		}
		list, err := s.repo.ListPrescriptions(ctx, key)
		if err != nil {
			return journal.OutcomeUnknown, err
		}
		for _, pr := range list {
			if p.ID != 0 && pr.ID != p.ID {
				continue
			}
			complete := true
			for _, it := range p.Items {
				if !pr.has(it.MedicamentoID) {
					complete = false
					break
				}
			}
			if complete {
				return journal.OutcomeOK, nil
			}
		}
		return journal.OutcomeFailed, nil
	}
	return journal.OutcomeUnknown, fmt.Errorf("unknown journal operation %q", e.Operation)
}

func (s *Service) exists(ctx context.Context, key Key) (journal.Outcome, error) {
	_, err := s.repo.Get(ctx, key)
	switch {
	case err == nil:
		return journal.OutcomeOK, nil
	case errors.Is(err, upstream.ErrNotFound):
		return journal.OutcomeFailed, nil
	}
	return journal.OutcomeUnknown, err
}
