package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are route paths reachable without a session.
var publicPaths = map[string]bool{
	"/api/v1/health":    true,
	"/api/v1/health/db": true,
}

// AuthSkipper reports whether the matched route bypasses authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
