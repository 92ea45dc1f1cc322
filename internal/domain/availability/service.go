package availability

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinica/turnos/internal/platform/apperr"
)

// MaxRangeDays bounds a multi-day availability query.
const MaxRangeDays = 31

type Service struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

// NewService builds the availability service. Dates are interpreted in loc.
func NewService(repo Repository, loc *time.Location, now func() time.Time) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, loc: loc, now: now}
}

func (s *Service) today() time.Time { return StartOfDay(s.now().In(s.loc)) }

func requireDoctorAndSpecialty(matricula string, especialidad int) error {
	fields := map[string]string{}
	if matricula == "" {
		fields["matricula"] = "cannot be blank"
	}
	if especialidad <= 0 {
		fields["especialidad"] = "especialidad is required"
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// Available returns the bookable slots of a doctor for a specialty on fecha.
func (s *Service) Available(ctx context.Context, matricula string, especialidad int, fecha time.Time) ([]Slot, error) {
	if err := requireDoctorAndSpecialty(matricula, especialidad); err != nil {
		return nil, err
	}
	regular, exceptions, err := s.agenda(ctx, matricula)
	if err != nil {
		return nil, err
	}
	day := StartOfDay(fecha.In(s.loc))
	bookings, err := s.repo.Bookings(ctx, matricula, day)
	if err != nil {
		return nil, err
	}
	return Reconcile(day, especialidad, regular, exceptions, bookings), nil
}

// AvailableRange returns the slots of every day in [from, to], in order.
func (s *Service) AvailableRange(ctx context.Context, matricula string, especialidad int, from, to time.Time) ([]Slot, error) {
	if err := requireDoctorAndSpecialty(matricula, especialidad); err != nil {
		return nil, err
	}
	first, last := StartOfDay(from.In(s.loc)), StartOfDay(to.In(s.loc))
	if last.Before(first) {
		return nil, apperr.Invalid("empty date range: hasta is before fecha")
	}
	days := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days++
	}
	if days > MaxRangeDays {
		return nil, apperr.Invalid("date range too long")
	}

	regular, exceptions, err := s.agenda(ctx, matricula)
	if err != nil {
		return nil, err
	}

	perDay := make([][]Booking, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i)
		g.Go(func() error {
			b, err := s.repo.Bookings(gctx, matricula, day)
			perDay[i] = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Slot
	for i := 0; i < days; i++ {
		out = append(out, Reconcile(first.AddDate(0, 0, i), especialidad, regular, exceptions, perDay[i])...)
	}
	return out, nil
}

// agenda fetches the regular and exceptional entries concurrently.
func (s *Service) agenda(ctx context.Context, matricula string) ([]RegularEntry, []ExceptionalEntry, error) {
	var (
		regular    []RegularEntry
		exceptions []ExceptionalEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		regular, err = s.repo.ListRegular(gctx, matricula)
		return err
	})
	g.Go(func() error {
		var err error
		exceptions, err = s.repo.ListExceptional(gctx, matricula)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return regular, exceptions, nil
}

// Lookup reports whether hora on fecha is currently offered.
func (s *Service) Lookup(ctx context.Context, matricula string, especialidad int, fecha time.Time, hora TimeOfDay) (Slot, bool, error) {
	slots, err := s.Available(ctx, matricula, especialidad, fecha)
	if err != nil {
		return Slot{}, false, err
	}
	for _, sl := range slots {
		if sl.Hora == hora {
			return sl, true, nil
		}
	}
	return Slot{}, false, nil
}

// Offered returns the service of record's own slot computation for fecha.
func (s *Service) Offered(ctx context.Context, matricula string, fecha time.Time) ([]Slot, error) {
	if matricula == "" {
		return nil, apperr.Invalid("matricula is required")
	}
	return s.repo.Offered(ctx, matricula, StartOfDay(fecha.In(s.loc)))
}

// -- Regular agenda --

func (s *Service) ListRegular(ctx context.Context, matricula string) ([]RegularEntry, error) {
	return s.repo.ListRegular(ctx, matricula)
}

func (s *Service) CreateRegular(ctx context.Context, e RegularEntry) (RegularEntry, error) {
	if err := e.Validate(); err != nil {
		return RegularEntry{}, err
	}
	return s.repo.CreateRegular(ctx, e)
}

func (s *Service) DeleteRegular(ctx context.Context, matricula string, key RegularKey) error {
	if key.EspecialidadID <= 0 || key.Weekday < 1 || key.Weekday > 7 {
		return apperr.Invalid("especialidad_id and dia_de_semana (1-7) are required")
	}
	return s.repo.DeleteRegular(ctx, matricula, key)
}

// -- Exceptional agenda --

func (s *Service) ListExceptional(ctx context.Context, matricula string) ([]ExceptionalEntry, error) {
	return s.repo.ListExceptional(ctx, matricula)
}

func (s *Service) CreateExceptional(ctx context.Context, e ExceptionalEntry) (ExceptionalEntry, error) {
	if err := e.Validate(s.today()); err != nil {
		return ExceptionalEntry{}, err
	}
	return s.repo.CreateExceptional(ctx, e)
}

func (s *Service) DeleteExceptional(ctx context.Context, matricula string, key ExceptionalKey) error {
	if key.EspecialidadID <= 0 || key.Start.IsZero() {
		return apperr.Invalid("especialidad_id, fecha_inicio and hora_inicio are required")
	}
	return s.repo.DeleteExceptional(ctx, matricula, key)
}

// Location is the clinic time zone used to read dates.
func (s *Service) Location() *time.Location { return s.loc }
