// Package journal records every write sent to the clinic service together
// with its outcome, so that writes whose answer never arrived can be
// checked later.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/turnos/internal/platform/apperr"
	"github.com/clinica/turnos/internal/platform/upstream"
)

type Operation string

const (
	OpBook         Operation = "book"
	OpTransition   Operation = "transition"
	OpUpdate       Operation = "update"
	OpPrescription Operation = "prescription"
)

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeUnknown Outcome = "unknown"
)

// ParseOutcome accepts "", ok, failed and unknown. The empty string means
// any outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case "", OutcomeOK, OutcomeFailed, OutcomeUnknown:
		return o, nil
	}
	return "", apperr.Invalid(fmt.Sprintf("unknown outcome %q", s))
}

// OutcomeOf classifies the result of a write. Writes that may or may not
// have reached the clinic service are unknown.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case upstream.Ambiguous(err):
		return OutcomeUnknown
	}
	return OutcomeFailed
}

// Entry is one journaled write.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	RequestID   string          `json:"request_id,omitempty"`
	ActorRole   string          `json:"actor_role"`
	ActorID     string          `json:"actor_id"`
	Operation   Operation       `json:"operation"`
	Fecha       string          `json:"fecha"`
	Hora        string          `json:"hora"`
	PacienteNro int             `json:"paciente_nro"`
	Action      string          `json:"action,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Outcome     Outcome         `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// SetError stores the outcome and error text of err.
func (e *Entry) SetError(err error) {
	e.Outcome = OutcomeOf(err)
	if err != nil {
		e.Error = err.Error()
	}
}

// ErrNotFound is returned when resolving an entry that does not exist.
var ErrNotFound = errors.New("journal entry not found")

// Store persists journal entries.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	// Resolve settles an unknown entry.
	Resolve(ctx context.Context, id uuid.UUID, outcome Outcome, errText string) error
	// List returns entries newest first. An empty outcome lists all.
	List(ctx context.Context, outcome Outcome, limit, offset int) ([]*Entry, int, error)
}
