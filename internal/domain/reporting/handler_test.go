package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/internal/platform/upstream"
)

func serve(svc *Service, role auth.Role, path string) *httptest.ResponseRecorder {
	e := echo.New()
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithSession(c.Request().Context(), auth.Session{ID: "u-1", Role: role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(g)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Evaluate(t *testing.T) {
	src := newFakeSource()
	src.add("2025-03-03", 9, 0, 42, "MP-1", 1, lifecycle.Finalizado)
	svc := newTestService(src)

	rec := serve(svc, auth.RoleAdmin, "/api/v1/admin/reportes?type=atendidos&desde=2025-03-01&hasta=2025-03-31")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep MeasureReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, MeasureAtendidos, rep.MeasureID)
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, "Ana", rep.Results[0]["paciente_nombre"])
}

func TestHandler_EvaluateErrors(t *testing.T) {
	tests := []struct {
		name string
		role auth.Role
		path string
		want int
	}{
		{"doctor", auth.RoleDoctor, "/api/v1/admin/reportes?type=atendidos&desde=2025-03-01&hasta=2025-03-02", http.StatusForbidden},
		{"reversed range", auth.RoleAdmin, "/api/v1/admin/reportes?type=atendidos&desde=2025-03-02&hasta=2025-03-01", http.StatusBadRequest},
		{"no range", auth.RoleAdmin, "/api/v1/admin/reportes?type=atendidos", http.StatusBadRequest},
		{"unknown type", auth.RoleAdmin, "/api/v1/admin/reportes?type=facturacion&desde=2025-03-01&hasta=2025-03-02", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestService(newFakeSource()), tt.role, tt.path)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_EvaluateUpstreamDown(t *testing.T) {
	src := newFakeSource()
	src.listErr = &upstream.StatusError{Method: "GET", Path: "/turnos/", Status: 503}
	rec := serve(newTestService(src), auth.RoleAdmin, "/api/v1/admin/reportes?type=medico&desde=2025-03-01&hasta=2025-03-01")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandler_ListMeasures(t *testing.T) {
	rec := serve(newTestService(newFakeSource()), auth.RoleAdmin, "/api/v1/admin/reportes/medidas")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []MeasureDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, len(PredefinedMeasures))
	assert.Equal(t, []string{"matricula"}, list[0].Parameters)
}
