package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SessionHandler exposes the caller's session and ends it on logout.
type SessionHandler struct {
	revocations *RevocationStore
}

func NewSessionHandler(revocations *RevocationStore) *SessionHandler {
	return &SessionHandler{revocations: revocations}
}

func (h *SessionHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/session", h.Get)
	api.POST("/session/logout", h.Logout)
}

func (h *SessionHandler) Get(c echo.Context) error {
	sess, ok := SessionFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return c.JSON(http.StatusOK, sess)
}

// Logout revokes the presented token. Sessions without a token id (dev
// sessions) have nothing to revoke.
func (h *SessionHandler) Logout(c echo.Context) error {
	sess, ok := SessionFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	if sess.TokenID != "" && h.revocations != nil {
		if err := h.revocations.Revoke(c.Request().Context(), sess.TokenID, sess.ExpiresAt); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "could not end session")
		}
	}
	return c.NoContent(http.StatusNoContent)
}
