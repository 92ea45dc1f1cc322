// Package lifecycle holds the appointment status machine: which status may
// follow which, who may trigger each move, and when.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/clinica/turnos/internal/platform/apperr"
)

// Status is the appointment status as stored upstream.
type Status string

const (
	Pendiente  Status = "Pendiente"
	Confirmado Status = "Confirmado"
	Anunciado  Status = "Anunciado"
	Atendido   Status = "Atendido"
	Finalizado Status = "Finalizado"
	Cancelado  Status = "Cancelado"
	Ausente    Status = "Ausente"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{Pendiente, Confirmado, Anunciado, Atendido, Finalizado, Cancelado, Ausente}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case Finalizado, Cancelado, Ausente:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus matches a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", apperr.Invalid(fmt.Sprintf("unknown appointment status %q", s))
}

// Action is the verb the upstream API uses for a transition.
type Action string

const (
	Confirmar     Action = "confirmar"
	Cancelar      Action = "cancelar"
	Anunciar      Action = "anunciar"
	Atender       Action = "atender"
	Finalizar     Action = "finalizar"
	MarcarAusente Action = "marcarAusente"
)

var actionTargets = map[Action]Status{
	Confirmar:     Confirmado,
	Cancelar:      Cancelado,
	Anunciar:      Anunciado,
	Atender:       Atendido,
	Finalizar:     Finalizado,
	MarcarAusente: Ausente,
}

// Target is the status an action leads to.
func (a Action) Target() Status { return actionTargets[a] }

func (a Action) String() string { return string(a) }

// ParseAction matches an action name case-insensitively.
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	for a := range actionTargets {
		if strings.EqualFold(s, string(a)) {
			return a, nil
		}
	}
	return "", apperr.Invalid(fmt.Sprintf("unknown action %q", s))
}

// ActionFor returns the action that leads to the given status. Pendiente
// is only an initial status and has no action.
func ActionFor(to Status) (Action, bool) {
	for a, st := range actionTargets {
		if st == to {
			return a, true
		}
	}
	return "", false
}
