package scheduling

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinica/turnos/internal/domain/availability"
	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/cache"
	"github.com/clinica/turnos/internal/platform/notify"
)

const (
	// reminderWindow is how far ahead same-day reminders look.
	reminderWindow = 2 * time.Hour
	reminderTTL    = 48 * time.Hour
)

// ReminderReport summarizes one reminder run.
type ReminderReport struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reminders e-mails patients about tomorrow's appointments and about the
// ones starting within the next two hours. Each reminder is sent once; the
// cache remembers what went out.
type Reminders struct {
	repo      Repository
	machine   *lifecycle.Machine
	mailer    notify.Mailer
	templates *notify.TemplateEngine
	cache     cache.Cache
	names     *names
	logger    zerolog.Logger
}

func NewReminders(repo Repository, machine *lifecycle.Machine, mailer notify.Mailer, templates *notify.TemplateEngine, c cache.Cache, logger zerolog.Logger) *Reminders {
	return &Reminders{
		repo:      repo,
		machine:   machine,
		mailer:    mailer,
		templates: templates,
		cache:     c,
		names:     &names{repo: repo, cache: c, logger: logger},
		logger:    logger,
	}
}

func remindable(a *Appointment) bool {
	return a.Status == lifecycle.Pendiente || a.Status == lifecycle.Confirmado
}

func reminderKey(template string, k Key) string {
	return "recordatorio:" + template + ":" + k.Fecha + ":" + k.Hora.String() + ":" + strconv.Itoa(k.PacienteNro)
}

// Run sends the reminders that are due now.
func (r *Reminders) Run(ctx context.Context) (ReminderReport, error) {
	var rep ReminderReport
	now := r.machine.Now()
	today := availability.StartOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)

	due, err := r.repo.List(ctx, Filter{Fecha: tomorrow.Format(availability.DateLayout)})
	if err != nil {
		return rep, err
	}
	for _, a := range due {
		rep.Checked++
		r.remind(ctx, notify.TemplateReminderTomorrow, a, &rep)
	}

	todays, err := r.repo.List(ctx, Filter{Fecha: today.Format(availability.DateLayout)})
	if err != nil {
		return rep, err
	}
	for _, a := range todays {
		start := a.Key().Start(r.machine.Location())
		if !start.After(now) || start.After(now.Add(reminderWindow)) {
			continue
		}
		rep.Checked++
		r.remind(ctx, notify.TemplateReminderToday, a, &rep)
	}

	r.logger.Info().
		Int("checked", rep.Checked).
		Int("sent", rep.Sent).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Msg("reminder run finished")
	return rep, nil
}

func (r *Reminders) remind(ctx context.Context, template string, a *Appointment, rep *ReminderReport) {
	log := r.logger.With().Str("turno", a.Key().String()).Str("template", template).Logger()
	if !remindable(a) {
		rep.Skipped++
		return
	}

	key := reminderKey(template, a.Key())
	fresh, err := r.cache.SetNX(ctx, key, "1", reminderTTL)
	if err != nil {
		log.Warn().Err(err).Msg("reminder dedupe failed")
		rep.Failed++
		return
	}
	if !fresh {
		rep.Skipped++
		return
	}

	if err := r.send(ctx, template, a); err != nil {
		var noEmail errNoEmail
		if errors.As(err, &noEmail) {
			log.Debug().Msg("no e-mail on file, reminder skipped")
			rep.Skipped++
			return
		}
		log.Warn().Err(err).Msg("reminder not sent")
		rep.Failed++
		// Forget the key so that the next run tries again.
		if derr := r.cache.Delete(ctx, key); derr != nil {
			log.Warn().Err(derr).Msg("reminder dedupe key not cleared")
		}
		return
	}
	rep.Sent++
}

// errNoEmail marks patients without an address on file.
type errNoEmail int

func (e errNoEmail) Error() string {
	return "patient " + strconv.Itoa(int(e)) + " has no e-mail on file"
}

func (r *Reminders) send(ctx context.Context, template string, a *Appointment) error {
	p, err := r.repo.Patient(ctx, a.PacienteNro)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Email) == "" {
		return errNoEmail(a.PacienteNro)
	}
	r.names.enrich(ctx, a)

	data := map[string]string{
		"paciente": strings.TrimSpace(p.Nombre + " " + p.Apellido),
		"fecha":    a.Fecha,
		"hora":     a.Hora.String(),
		"medico":   strings.TrimSpace(a.MedicoNombre + " " + a.MedicoApellido),
	}
	if a.Minutes > 0 {
		data["duracion"] = strconv.Itoa(a.Minutes)
	}
	subject, body, err := r.templates.Render(notify.ReminderTemplate(template, a.Minutes), data)
	if err != nil {
		return err
	}
	return r.mailer.Send(ctx, notify.Message{To: p.Email, Subject: subject, Body: body})
}
