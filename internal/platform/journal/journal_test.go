package journal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/turnos/internal/platform/apperr"
	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/internal/platform/upstream"
)

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeOK, OutcomeOf(nil))
	assert.Equal(t, OutcomeFailed, OutcomeOf(&upstream.StatusError{Status: 409}))
	assert.Equal(t, OutcomeFailed, OutcomeOf(&upstream.StatusError{Status: 503}))
	assert.Equal(t, OutcomeUnknown, OutcomeOf(&upstream.StatusError{Status: 504}))
	assert.Equal(t, OutcomeFailed, OutcomeOf(errors.New("boom")))
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome("unknown")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, o)

	o, err = ParseOutcome("")
	require.NoError(t, err)
	assert.Equal(t, Outcome(""), o)

	_, err = ParseOutcome("maybe")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMemory_CreateListResolve(t *testing.T) {
	m := NewMemory()
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, o := range []Outcome{OutcomeOK, OutcomeUnknown, OutcomeUnknown, OutcomeFailed} {
		e := &Entry{Operation: OpBook, Outcome: o, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, m.Create(ctx, e))
		assert.NotEqual(t, uuid.Nil, e.ID)
	}

	all, total, err := m.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, OutcomeFailed, all[0].Outcome, "newest first")

	unknown, total, err := m.List(ctx, OutcomeUnknown, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, unknown, 1)

	require.NoError(t, m.Resolve(ctx, unknown[0].ID, OutcomeOK, ""))
	_, total, err = m.List(ctx, OutcomeUnknown, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.ErrorIs(t, m.Resolve(ctx, uuid.New(), OutcomeOK, ""), ErrNotFound)

	page, total, err := m.List(ctx, "", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, page)
}

type stubVerifier struct {
	outcomes map[uuid.UUID]Outcome
	err      error
}

func (s stubVerifier) Verify(_ context.Context, e *Entry) (Outcome, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.outcomes[e.ID], nil
}

func TestReconciler_Run(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	applied := &Entry{Operation: OpTransition, Outcome: OutcomeUnknown, Action: "confirmar"}
	lost := &Entry{Operation: OpBook, Outcome: OutcomeUnknown, Error: "timeout"}
	unsure := &Entry{Operation: OpUpdate, Outcome: OutcomeUnknown}
	done := &Entry{Operation: OpBook, Outcome: OutcomeOK}
	for _, e := range []*Entry{applied, lost, unsure, done} {
		require.NoError(t, m.Create(ctx, e))
	}

	v := stubVerifier{outcomes: map[uuid.UUID]Outcome{
		applied.ID: OutcomeOK,
		lost.ID:    OutcomeFailed,
		unsure.ID:  OutcomeUnknown,
	}}
	rep, err := NewReconciler(m, v, zerolog.Nop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Checked: 3, Resolved: 2, Pending: 1}, rep)

	left, _, err := m.List(ctx, OutcomeUnknown, 10, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, unsure.ID, left[0].ID)

	failed, _, err := m.List(ctx, OutcomeFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "timeout")
	assert.NotNil(t, failed[0].ResolvedAt)
}

func TestReconciler_VerifyErrorsLeaveEntries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, &Entry{Operation: OpBook, Outcome: OutcomeUnknown}))

	rep, err := NewReconciler(m, stubVerifier{err: upstream.ErrUnavailable}, zerolog.Nop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 0, rep.Resolved)
	assert.Equal(t, 1, rep.Pending)
}

func TestHandler_List(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Create(ctx, &Entry{Operation: OpBook, Outcome: OutcomeUnknown}))
	require.NoError(t, m.Create(ctx, &Entry{Operation: OpBook, Outcome: OutcomeOK}))

	e := echo.New()
	h := NewHandler(m)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?outcome=unknown", nil), rec)
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []Entry `json:"data"`
		Total int     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, OutcomeUnknown, resp.Data[0].Outcome)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?outcome=maybe", nil), httptest.NewRecorder())
	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestHandler_AdminOnly(t *testing.T) {
	e := echo.New()
	NewHandler(NewMemory()).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/journal", nil)
	req = req.WithContext(auth.WithSession(req.Context(), auth.Session{ID: "MP-1", Role: auth.RoleDoctor}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/journal", nil)
	req = req.WithContext(auth.WithSession(req.Context(), auth.Session{ID: "root", Role: auth.RoleAdmin}))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
