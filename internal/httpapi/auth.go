package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/curator/internal/auth"
)

// requireToken guards a route with the configured bearer token hash. Without
// a hash the route is open.
func (s *Server) requireToken() echo.MiddlewareFunc {
	hash := strings.TrimSpace(s.opts.TokenHash)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if hash == "" {
			return next
		}
		return func(c echo.Context) error {
			token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorizedResponse(c)
			}
			if !auth.VerifyToken(token, hash) {
				s.logger.Warn().Str("remote_ip", c.RealIP()).Msg("rejected api token")
				return unauthorizedResponse(c)
			}
			return next(c)
		}
	}
}

func unauthorizedResponse(c echo.Context) error {
	if c == nil {
		return fmt.Errorf("authentication required")
	}
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="curator"`)
	return fail(c, http.StatusUnauthorized, "Authentication required", nil)
}
