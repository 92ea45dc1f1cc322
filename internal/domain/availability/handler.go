package availability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

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
	agenda := api.Group("/medicos/:matricula/agenda")

	// Any signed-in role may look at an agenda.
	agenda.GET("/disponible", h.Available)
	agenda.GET("/regular", h.ListRegular)
	agenda.GET("/excepcional", h.ListExceptional)

	// Only the doctor who owns the agenda, or an admin, may change it.
	write := agenda.Group("", auth.RequireRole(auth.RoleDoctor), ownAgenda)
	write.POST("/regular", h.CreateRegular)
	write.DELETE("/regular", h.DeleteRegular)
	write.POST("/excepcional", h.CreateExceptional)
	write.DELETE("/excepcional", h.DeleteExceptional)
}

func ownAgenda(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, _ := auth.SessionFromContext(c.Request().Context())
		if sess.Role == auth.RoleDoctor && sess.ID != c.Param("matricula") {
			return echo.NewHTTPError(http.StatusForbidden, "doctors may only change their own agenda")
		}
		return next(c)
	}
}

func httpError(err error) error {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, upstream.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "agenda entry not found")
	case errors.Is(err, upstream.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "an entry with the same key already exists")
	case errors.Is(err, upstream.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "the clinic service is not responding, try again")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid("invalid " + name)
	}
	return n, nil
}

// Available handles GET /medicos/:matricula/agenda/disponible?fecha&especialidad[&hasta].
func (h *Handler) Available(c echo.Context) error {
	ctx := c.Request().Context()
	loc := h.svc.Location()

	esp, err := queryInt(c, "especialidad")
	if err != nil {
		return httpError(err)
	}
	if c.QueryParam("fecha") == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "fecha is required")
	}
	fecha, err := ParseDate(c.QueryParam("fecha"), loc)
	if err != nil {
		return httpError(err)
	}

	var slots []Slot
	if hasta := c.QueryParam("hasta"); hasta != "" {
		to, err := ParseDate(hasta, loc)
		if err != nil {
			return httpError(err)
		}
		slots, err = h.svc.AvailableRange(ctx, c.Param("matricula"), esp, fecha, to)
		if err != nil {
			return httpError(err)
		}
	} else {
		slots, err = h.svc.Available(ctx, c.Param("matricula"), esp, fecha)
		if err != nil {
			return httpError(err)
		}
	}
	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Regular agenda --

func (h *Handler) ListRegular(c echo.Context) error {
	entries, err := h.svc.ListRegular(c.Request().Context(), c.Param("matricula"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) CreateRegular(c echo.Context) error {
	var e RegularEntry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e.Matricula = c.Param("matricula")
	created, err := h.svc.CreateRegular(c.Request().Context(), e)
	if err != nil {
		return httpError(err)
	}
	h.logger.Info().Str("matricula", e.Matricula).Int("dia", e.Weekday).Str("inicio", e.Start.String()).Msg("regular agenda entry created")
	return c.JSON(http.StatusCreated, created)
}

// DeleteRegular handles DELETE .../regular?especialidad_id&dia_de_semana&hora_inicio.
func (h *Handler) DeleteRegular(c echo.Context) error {
	esp, err := queryInt(c, "especialidad_id")
	if err != nil {
		return httpError(err)
	}
	day, err := queryInt(c, "dia_de_semana")
	if err != nil {
		return httpError(err)
	}
	start, err := ParseTimeOfDay(c.QueryParam("hora_inicio"))
	if err != nil {
		return httpError(err)
	}
	key := RegularKey{EspecialidadID: esp, Weekday: day, Start: start}
	if err := h.svc.DeleteRegular(c.Request().Context(), c.Param("matricula"), key); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Exceptional agenda --

type exceptionalRequest struct {
	EspecialidadID    int    `json:"especialidad_id"`
	FechaInicio       string `json:"fecha_inicio"`
	HoraInicio        string `json:"hora_inicio"`
	FechaFin          string `json:"fecha_fin"`
	HoraFin           string `json:"hora_fin"`
	Tipo              string `json:"tipo"`
	Duracion          int    `json:"duracion"`
	SucursalID        *int   `json:"sucursal_id"`
	ConsultorioNumero *int   `json:"consultorio_numero"`
	Motivo            string `json:"motivo"`
}

func dateTime(fecha, hora string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(fecha, loc)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTimeOfDay(hora)
	if err != nil {
		return time.Time{}, err
	}
	return t.On(day), nil
}

func (r exceptionalRequest) entry(matricula string, loc *time.Location) (ExceptionalEntry, error) {
	start, err := dateTime(r.FechaInicio, r.HoraInicio, loc)
	if err != nil {
		return ExceptionalEntry{}, err
	}
	end, err := dateTime(r.FechaFin, r.HoraFin, loc)
	if err != nil {
		return ExceptionalEntry{}, err
	}
	return ExceptionalEntry{
		Matricula:         matricula,
		EspecialidadID:    r.EspecialidadID,
		Start:             start,
		End:               end,
		Kind:              ExceptionKind(r.Tipo),
		SlotMinutes:       r.Duracion,
		SucursalID:        r.SucursalID,
		ConsultorioNumero: r.ConsultorioNumero,
		Motivo:            r.Motivo,
	}, nil
}

func (h *Handler) ListExceptional(c echo.Context) error {
	entries, err := h.svc.ListExceptional(c.Request().Context(), c.Param("matricula"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) CreateExceptional(c echo.Context) error {
	var req exceptionalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := req.entry(c.Param("matricula"), h.svc.Location())
	if err != nil {
		return httpError(err)
	}
	created, err := h.svc.CreateExceptional(c.Request().Context(), e)
	if err != nil {
		return httpError(err)
	}
	h.logger.Info().Str("matricula", e.Matricula).Str("tipo", string(e.Kind)).Time("inicio", e.Start).Msg("exceptional agenda entry created")
	return c.JSON(http.StatusCreated, created)
}

// DeleteExceptional handles DELETE .../excepcional?especialidad_id&fecha_inicio&hora_inicio.
func (h *Handler) DeleteExceptional(c echo.Context) error {
	esp, err := queryInt(c, "especialidad_id")
	if err != nil {
		return httpError(err)
	}
	start, err := dateTime(c.QueryParam("fecha_inicio"), c.QueryParam("hora_inicio"), h.svc.Location())
	if err != nil {
		return httpError(err)
	}
	key := ExceptionalKey{EspecialidadID: esp, Start: start}
	if err := h.svc.DeleteExceptional(c.Request().Context(), c.Param("matricula"), key); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
