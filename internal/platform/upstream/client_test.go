package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/turnos/internal/platform/apperr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", time.Second, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	return c, srv
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://clinic", time.Second)
	assert.Error(t, err)
}

func TestGet_BuildsURL(t *testing.T) {
	var gotPath, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	})

	_, err := c.Get(context.Background(), "/medicos/MP-1/agenda/disponible", url.Values{"fecha": {"2025-03-03"}})
	require.NoError(t, err)
	assert.Equal(t, "/api/medicos/MP-1/agenda/disponible", gotPath)
	assert.Equal(t, "fecha=2025-03-03", gotQuery)
}

func TestGet_RetriesOnceOn5xx(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	body, err := c.Get(context.Background(), "/turnos/", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	rec, err := body.Record()
	require.NoError(t, err)
	ok, _ := rec.Bool("ok")
	assert.True(t, ok)
}

func TestGet_GivesUpAfterOneRetry(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Get(context.Background(), "/turnos/", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGet_NoRetryOn4xx(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Turno no encontrado"}`))
	})

	_, err := c.Get(context.Background(), "/turnos/2025-03-03/09:00/5", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Turno no encontrado", se.Detail)
}

func TestWrites_NeverRetried(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx := context.Background()

	_, err := c.Post(ctx, "/turnos/", map[string]any{"Hora": "09:00"})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = c.Patch(ctx, "/turnos/2025-03-03/09:00/5/confirmar", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = c.Put(ctx, "/turnos/2025-03-03/09:00/5", map[string]any{})
	assert.ErrorIs(t, err, ErrUnavailable)
	err = c.Delete(ctx, "/medicos/1/agenda/regular/item", nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestPost_SendsJSON(t *testing.T) {
	var contentType, body string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})

	_, err := c.Post(context.Background(), "/turnos/", map[string]any{"Hora": "09:00"})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"Hora":"09:00"}`, body)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusBadRequest, apperr.ErrValidation},
		{http.StatusUnprocessableEntity, apperr.ErrValidation},
		{http.StatusInternalServerError, ErrUnavailable},
	}
	for _, tt := range tests {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := c.Post(context.Background(), "/x", nil)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestTimeoutIsAmbiguous(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = c.Post(context.Background(), "/turnos/", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Ambiguous(err))
}

func TestAmbiguous(t *testing.T) {
	assert.False(t, Ambiguous(nil))
	assert.False(t, Ambiguous(&StatusError{Status: http.StatusInternalServerError}))
	assert.True(t, Ambiguous(&StatusError{Status: http.StatusGatewayTimeout}))
	assert.False(t, Ambiguous(errors.New("other")))
}

func TestDetail(t *testing.T) {
	assert.Equal(t, "Horario ocupado", detail([]byte(`{"detail":"Horario ocupado"}`)))
	assert.Equal(t, "Hora: field required", detail([]byte(`{"detail":[{"loc":["body","Hora"],"msg":"field required"}]}`)))
	assert.Equal(t, "plain failure", detail([]byte("plain failure")))
}
