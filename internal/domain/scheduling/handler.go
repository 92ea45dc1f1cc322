package scheduling

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinica/turnos/internal/domain/lifecycle"
	"github.com/clinica/turnos/internal/platform/apperr"
	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/internal/platform/upstream"
	"github.com/clinica/turnos/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/paciente/turnos", h.List, auth.RequireRole(auth.RolePatient))
	api.GET("/medico/turnos", h.List, auth.RequireRole(auth.RoleDoctor))
	api.GET("/admin/turnos", h.List, auth.RequireRole(auth.RoleAdmin))

	api.POST("/turnos", h.Book)
	t := api.Group("/turnos/:fecha/:hora/:paciente")
	t.GET("", h.Get)
	t.PUT("", h.Update)
	t.GET("/acciones", h.Actions)
	t.GET("/recetas", h.ListPrescriptions)
	t.POST("/recetas", h.CreatePrescription, auth.RequireRole(auth.RoleDoctor))
	t.PATCH("/:accion", h.Transition)

	api.POST("/recetas/:id/items", h.AddPrescriptionItem, auth.RequireRole(auth.RoleDoctor))
	api.GET("/recetas/:id/pdf", h.PrescriptionPDF)
}

func httpError(err error) *echo.HTTPError {
	var te *lifecycle.TransitionError
	switch {
	case errors.As(err, &te):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrNotPermitted):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, lifecycle.ErrAppointmentLocked),
		errors.Is(err, lifecycle.ErrAppointmentExpired),
		errors.Is(err, lifecycle.ErrNotToday),
		errors.Is(err, lifecycle.ErrPrescriptionsClosed),
		errors.Is(err, ErrSlotConflict),
		errors.Is(err, upstream.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, upstream.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrWriteUnconfirmed):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "the clinic service did not answer in time, the change may still have been applied")
	case upstream.Ambiguous(err):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "the clinic service did not answer in time, try again")
	case errors.Is(err, upstream.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "the clinic service is not responding, try again")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func session(c echo.Context) (auth.Session, error) {
	sess, ok := auth.SessionFromContext(c.Request().Context())
	if !ok {
		return auth.Session{}, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return sess, nil
}

func (h *Handler) key(c echo.Context) (Key, error) {
	return ParseKey(c.Param("fecha"), c.Param("hora"), c.Param("paciente"), h.svc.loc())
}

// List handles GET /{paciente,medico,admin}/turnos?fecha&estado[&medico_matricula&paciente_nro].
func (h *Handler) List(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	f := Filter{
		Fecha:     c.QueryParam("fecha"),
		Matricula: c.QueryParam("medico_matricula"),
	}
	if raw := c.QueryParam("estado"); raw != "" {
		st, err := lifecycle.ParseStatus(raw)
		if err != nil {
			return httpError(err)
		}
		f.Status = st
	}
	if raw := c.QueryParam("paciente_nro"); raw != "" {
		nro, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid paciente_nro")
		}
		f.PacienteNro = nro
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForSession(c.Request().Context(), sess, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Book(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), sess, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	key, err := h.key(c)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.Get(c.Request().Context(), sess, key)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Update(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	key, err := h.key(c)
	if err != nil {
		return httpError(err)
	}
	var u AppointmentUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Update(c.Request().Context(), sess, key, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Actions handles GET .../acciones.
func (h *Handler) Actions(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	key, err := h.key(c)
	if err != nil {
		return httpError(err)
	}
	actions, err := h.svc.Actions(c.Request().Context(), sess, key)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"acciones": actions})
}

// Transition handles PATCH .../:accion, e.g. .../confirmar.
func (h *Handler) Transition(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	key, err := h.key(c)
	if err != nil {
		return httpError(err)
	}
	action, err := lifecycle.ParseAction(c.Param("accion"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	a, err := h.svc.Transition(c.Request().Context(), sess, key, action)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Prescriptions --

func (h *Handler) ListPrescriptions(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	key, err := h.key(c)
	if err != nil {
		return httpError(err)
	}
	list, err := h.svc.ListPrescriptions(c.Request().Context(), sess, key)
	if err != nil {
		return httpError(err)
	}
	if list == nil {
		list = []*Prescription{}
	}
	return c.JSON(http.StatusOK, list)
}

type prescriptionRequest struct {
	Items []PrescriptionItem `json:"items"`
}

// partialPrescriptionResponse tells the client which prescription exists and
// which items still have to go through POST /recetas/:id/items.
type partialPrescriptionResponse struct {
	Message    string             `json:"message"`
	Receta     *Prescription      `json:"receta"`
	Pendientes []PrescriptionItem `json:"pendientes"`
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	key, err := h.key(c)
	if err != nil {
		return httpError(err)
	}
	var req prescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.CreatePrescription(c.Request().Context(), sess, key, req.Items)
	var partial *PartialPrescriptionError
	if errors.As(err, &partial) {
		he := httpError(partial.Err)
		return echo.NewHTTPError(he.Code, partialPrescriptionResponse{
			Message:    partial.Error(),
			Receta:     partial.Prescription,
			Pendientes: partial.Pending,
		})
	}
	if err != nil {
		return httpError(err)
	}
	h.logger.Info().Str("turno", key.String()).Int("receta", p.ID).Int("items", len(p.Items)).Msg("prescription written")
	return c.JSON(http.StatusCreated, p)
}

// AddPrescriptionItem handles POST /recetas/:id/items.
func (h *Handler) AddPrescriptionItem(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	var item PrescriptionItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.AddPrescriptionItem(c.Request().Context(), sess, id, item)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// PrescriptionPDF handles GET /recetas/:id/pdf.
func (h *Handler) PrescriptionPDF(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	pdf, err := h.svc.PrescriptionPDF(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=receta_%d.pdf", id))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}
