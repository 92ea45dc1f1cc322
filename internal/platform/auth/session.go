package auth

import (
	"context"
	"strings"
	"time"
)

// Role identifies which kind of user a session belongs to.
type Role string

const (
	RoleUnknown Role = ""
	RolePatient Role = "paciente"
	RoleDoctor  Role = "medico"
	RoleAdmin   Role = "admin"
)

// ParseRole accepts the role names used by the identity provider and the
// frontend, in either language. Unrecognized names yield RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paciente", "patient":
		return RolePatient
	case "medico", "médico", "doctor", "physician":
		return RoleDoctor
	case "admin", "administrador", "administrator":
		return RoleAdmin
	}
	return RoleUnknown
}

func (r Role) String() string { return string(r) }

// Session is the authenticated caller. ID is the patient number for
// patients, the license number (matricula) for doctors and the user id for
// admins.
type Session struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the session carries an identity and a known role.
func (s Session) Valid() bool {
	return s.ID != "" && s.Role != RoleUnknown
}

type contextKey string

const sessionKey contextKey = "session"

// WithSession stores the session on the context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by the auth middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
