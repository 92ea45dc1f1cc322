package reporting

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinica/turnos/internal/platform/apperr"
	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/internal/platform/upstream"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/reportes", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.Evaluate)
	g.GET("/medidas", h.ListMeasures)
}

// ListMeasures returns all available report definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// Evaluate handles GET /admin/reportes?type&desde&hasta[&matricula].
func (h *Handler) Evaluate(c echo.Context) error {
	req := Request{
		Type:      c.QueryParam("type"),
		Desde:     c.QueryParam("desde"),
		Hasta:     c.QueryParam("hasta"),
		Matricula: c.QueryParam("matricula"),
	}
	report, err := h.svc.Evaluate(c.Request().Context(), req)
	switch {
	case err == nil:
		h.logger.Info().Str("report", report.MeasureID).Str("desde", report.Desde).Str("hasta", report.Hasta).
			Int("total", report.Total).Msg("report generated")
		return c.JSON(http.StatusOK, report)
	case errors.Is(err, ErrUnknownMeasure):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case upstream.Ambiguous(err):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "the clinic service did not answer in time, try again")
	case errors.Is(err, upstream.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "the clinic service is not responding, try again")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
