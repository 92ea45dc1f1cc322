package journal

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinica/turnos/internal/platform/auth"
	"github.com/clinica/turnos/pkg/pagination"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/journal", h.List)
}

// List handles GET /admin/journal?outcome=unknown.
func (h *Handler) List(c echo.Context) error {
	outcome, err := ParseOutcome(c.QueryParam("outcome"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.List(c.Request().Context(), outcome, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
