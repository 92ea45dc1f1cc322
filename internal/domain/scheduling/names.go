package scheduling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinica/turnos/internal/platform/cache"
)

const (
	doctorNameTTL = time.Hour
	// placeholderName is shown when a doctor record cannot be read.
	placeholderName = "Dr/a."
)

// names resolves doctor names for display. Lookups are cached and never
// fail: an unreadable record yields a placeholder.
type names struct {
	repo   Repository
	cache  cache.Cache
	logger zerolog.Logger
}

func doctorKey(matricula string) string { return "medico:" + matricula }

func (n *names) doctor(ctx context.Context, matricula string) Doctor {
	if n.cache != nil {
		raw, ok, err := n.cache.Get(ctx, doctorKey(matricula))
		if err != nil {
			n.logger.Warn().Err(err).Str("matricula", matricula).Msg("doctor name cache read failed")
		}
		var d Doctor
		if ok && json.Unmarshal([]byte(raw), &d) == nil {
			return d
		}
	}

	d, err := n.repo.Doctor(ctx, matricula)
	if err != nil {
		n.logger.Warn().Err(err).Str("matricula", matricula).Msg("doctor lookup failed, using placeholder")
		return Doctor{Matricula: matricula, Nombre: placeholderName, Apellido: matricula}
	}
	if n.cache != nil {
		if raw, err := json.Marshal(d); err == nil {
			if err := n.cache.Set(ctx, doctorKey(matricula), string(raw), doctorNameTTL); err != nil {
				n.logger.Warn().Err(err).Str("matricula", matricula).Msg("doctor name cache write failed")
			}
		}
	}
	return *d
}

// enrich fills in missing doctor names, one lookup per doctor.
func (n *names) enrich(ctx context.Context, appts ...*Appointment) {
	wanted := map[string]bool{}
	for _, a := range appts {
		if a.MedicoApellido == "" && a.Matricula != "" {
			wanted[a.Matricula] = true
		}
	}
	if len(wanted) == 0 {
		return
	}

	var mu sync.Mutex
	found := make(map[string]Doctor, len(wanted))
	var g errgroup.Group
	g.SetLimit(4)
	for m := range wanted {
		m := m
		g.Go(func() error {
			d := n.doctor(ctx, m)
			mu.Lock()
			found[m] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, a := range appts {
		if d, ok := found[a.Matricula]; ok && a.MedicoApellido == "" {
			a.MedicoNombre, a.MedicoApellido = d.Nombre, d.Apellido
		}
	}
}
